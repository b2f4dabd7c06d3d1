package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = "../../testdata/products.yaml"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		fixturePath, configPath, workers, cacheBytes, showMetrics = "", "", 0, 0, false
	}()

	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"topn", "scan", "aggregate", "explain"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestTopNCmd(t *testing.T) {
	for _, w := range []string{"1", "2"} {
		t.Run("workers="+w, func(t *testing.T) {
			out, err := execute(t, "--fixture", fixture, "--workers", w, "topn", "testdata/topn.yaml")
			require.NoError(t, err)

			var got topNOutput
			require.NoError(t, json.Unmarshal([]byte(out), &got))
			require.Len(t, got.Rows, 3)

			var prices []float64
			for _, r := range got.Rows {
				prices = append(prices, r["price"].(float64))
			}
			assert.Equal(t, []float64{40, 30, 15}, prices)
			assert.Equal(t, "games", got.Rows[0]["category"])
			assert.Equal(t, 107.0, got.Window["price"])
		})
	}
}

func TestScanCmd(t *testing.T) {
	out, err := execute(t, "--fixture", fixture, "--cache-bytes", "4096", "scan", "testdata/scan.yaml")
	require.NoError(t, err)

	var got struct {
		Rows  []map[string]any `json:"rows"`
		Stats struct{ Rows int }
		Cache *struct{ Blocks int }
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Rows, 3)

	var keys []float64
	for _, r := range got.Rows {
		assert.Equal(t, "books", r["category"])
		keys = append(keys, r["ctid"].(float64))
	}
	assert.ElementsMatch(t, []float64{1, 3, 5}, keys)
	assert.Equal(t, 3, got.Stats.Rows)
	require.NotNil(t, got.Cache)
	assert.Positive(t, got.Cache.Blocks)
}

func TestAggregateCmd(t *testing.T) {
	out, err := execute(t, "--fixture", fixture, "aggregate", "testdata/aggregate.yaml")
	require.NoError(t, err)

	var got []aggregateRow
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 3)

	assert.Equal(t, []any{"books"}, got[0].Group)
	assert.Equal(t, []any{3.0, 55.0}, got[0].Aggregates)
	assert.Equal(t, []any{"games"}, got[1].Group)
	assert.Equal(t, []any{2.0, 52.0}, got[1].Aggregates)
	assert.Equal(t, []any{"toys"}, got[2].Group)
	assert.Equal(t, []any{1.0, 5.0}, got[2].Aggregates)
}

func TestAggregateCmd_Metrics(t *testing.T) {
	out, err := execute(t, "--fixture", fixture, "--metrics", "aggregate", "testdata/aggregate.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, `"searchexec_operations_total{op=aggregate}{status=success}": 1`)
}

func TestExplainCmd(t *testing.T) {
	out, err := execute(t, "--fixture", fixture, "explain", "testdata/aggregate.yaml")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &got))
	assert.Contains(t, got, "grouped")
}

func TestCmd_Errors(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		errMsg string
	}{
		{"missing fixture flag", []string{"topn", "testdata/topn.yaml"}, "fixture"},
		{"missing request", []string{"--fixture", fixture, "topn"}, "accepts 1 arg(s)"},
		{"unknown aggregate", []string{"--fixture", fixture, "aggregate", "testdata/invalid.yaml"}, "unknown aggregate kind"},
		{"missing limit", []string{"--fixture", fixture, "topn", "testdata/aggregate.yaml"}, "limit is required"},
		{"missing fixture file", []string{"--fixture", "testdata/nope.yaml", "scan", "testdata/scan.yaml"}, "load fixture"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
