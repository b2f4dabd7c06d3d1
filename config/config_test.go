package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/searchexec/aggregate"
	"github.com/hupe1980/searchexec/scan"
	"github.com/hupe1980/searchexec/topn"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, topn.DefaultSettings(), cfg.Settings())
	assert.Equal(t, scan.MaxBatchSize, cfg.Scan.BatchSize)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "go-json", cfg.Codec)
	assert.Nil(t, cfg.Controller())
}

func TestParse_Values(t *testing.T) {
	cfg, err := Parse([]byte(`
topn:
  limit_fetch_multiplier: 1.5
  retry_scale_factor: 3
  max_chunk_size: 100
  max_features: 2
aggregate:
  max_term_agg_buckets: 10
  add_doc_count: false
scan:
  batch_size: 512
resources:
  work_mem_bytes: 1048576
workers: 4
logging:
  level: debug
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, topn.Settings{
		LimitFetchMultiplier: 1.5,
		RetryScaleFactor:     3,
		MaxChunkSize:         100,
		MaxFeatures:          2,
		MaxTermAggBuckets:    10,
		AddDocCount:          false,
	}, cfg.Settings())
	assert.Equal(t, 512, cfg.Scan.BatchSize)
	assert.Equal(t, 4, cfg.Workers)

	ctrl := cfg.Controller()
	require.NotNil(t, ctrl)
	assert.Equal(t, int64(1048576), ctrl.WorkMem())
}

func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("SEARCHEXEC_WORKERS", "8")

	cfg, err := Parse([]byte(`
workers: ${SEARCHEXEC_WORKERS}
logging:
  level: ${SEARCHEXEC_UNSET_LEVEL:-warn}
`))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"negative multiplier", func(c *Config) { c.TopN.LimitFetchMultiplier = -1 }, "topn.limit_fetch_multiplier"},
		{"zero retry", func(c *Config) { c.TopN.RetryScaleFactor = -2 }, "topn.retry_scale_factor"},
		{"negative chunk", func(c *Config) { c.TopN.MaxChunkSize = -1 }, "topn.max_chunk_size"},
		{"negative features", func(c *Config) { c.TopN.MaxFeatures = -1 }, "topn.max_features"},
		{"batch too large", func(c *Config) { c.Scan.BatchSize = scan.MaxBatchSize + 1 }, "scan.batch_size"},
		{"negative work mem", func(c *Config) { c.Resources.WorkMemBytes = -1 }, "resources.work_mem_bytes"},
		{"negative io", func(c *Config) { c.Resources.DictionaryIOBytesPerSec = -1 }, "resources.dictionary_io_bytes_per_sec"},
		{"negative workers", func(c *Config) { c.Workers = -3 }, "workers"},
		{"unknown level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"unknown format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"unknown codec", func(c *Config) { c.Codec = "msgpack" }, "codec must be one of go-json, json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint32(aggregate.DefaultMaxTermAggBuckets), cfg.Aggregate.MaxTermAggBuckets)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "searchexec.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 2\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("workers: [\n"), 0o600))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}
