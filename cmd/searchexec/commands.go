package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/searchexec"
	"github.com/hupe1980/searchexec/aggregate"
	"github.com/hupe1980/searchexec/fastfield"
	"github.com/hupe1980/searchexec/internal/cache"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/scan"
)

var topnCmd = &cobra.Command{
	Use:   "topn [request]",
	Short: "Return the first visible rows of a query",
	Args:  cobra.ExactArgs(1),
	RunE:  runTopN,
}

var scanCmd = &cobra.Command{
	Use:   "scan [request]",
	Short: "Stream every visible row of a query",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate [request]",
	Short: "Evaluate an aggregation and print its rows",
	Args:  cobra.ExactArgs(1),
	RunE:  runAggregate,
}

var explainCmd = &cobra.Command{
	Use:   "explain [request]",
	Short: "Print the aggregation request of a query",
	Args:  cobra.ExactArgs(1),
	RunE:  runExplain,
}

func init() {
	rootCmd.AddCommand(topnCmd, scanCmd, aggregateCmd, explainCmd)
}

type topNOutput struct {
	Rows    []map[string]any `json:"rows"`
	Window  map[string]any   `json:"window,omitempty"`
	Queries int              `json:"queries"`
}

func rowObject(fields []fastfield.WhichFastField, values []model.Value) map[string]any {
	obj := make(map[string]any, len(fields))
	for i, f := range fields {
		obj[f.Name()] = values[i].Any()
	}
	return obj
}

func runTopN(cmd *cobra.Command, args []string) error {
	s, req, err := prepare(args[0])
	if err != nil {
		return err
	}
	q, err := req.topN(s.index)
	if err != nil {
		return err
	}
	res, err := s.engine.TopN(cmd.Context(), q)
	if err != nil {
		return fmt.Errorf("top-n failed: %w", err)
	}

	out := topNOutput{Rows: make([]map[string]any, len(res.Rows)), Queries: res.Queries}
	for i, r := range res.Rows {
		out.Rows[i] = rowObject(q.Fields, r.Values)
	}
	for target, v := range res.Window {
		if out.Window == nil {
			out.Window = map[string]any{}
		}
		name := fmt.Sprint(target)
		if target >= 0 && target < len(q.Fields) {
			name = q.Fields[target].Name()
		}
		out.Window[name] = v.Any()
	}
	return s.finish(cmd, out)
}

type scanOutput struct {
	Rows  []map[string]any `json:"rows"`
	Stats scan.Stats       `json:"stats"`
	Cache *cache.Stats     `json:"cache,omitempty"`
}

func runScan(cmd *cobra.Command, args []string) error {
	s, req, err := prepare(args[0])
	if err != nil {
		return err
	}
	q, err := req.scan(s.index)
	if err != nil {
		return err
	}

	out := scanOutput{Rows: []map[string]any{}}
	st, err := s.engine.Scan(cmd.Context(), q, func(ctx context.Context, b *searchexec.Batch) error {
		cols := make([]*scan.Array, len(b.Columns))
		for i, col := range b.Columns {
			if col == nil {
				continue
			}
			if col.Kind == scan.KindDeferred {
				var err error
				if col, err = b.Resolve(ctx, i); err != nil {
					return err
				}
			}
			cols[i] = col
		}
		values := make([]model.Value, len(q.Fields))
		for row := 0; row < b.Len(); row++ {
			for i, col := range cols {
				values[i] = model.Null
				if col != nil {
					values[i] = col.Value(row)
				}
			}
			out.Rows = append(out.Rows, rowObject(q.Fields, values))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	out.Stats = st
	if s.cache != nil {
		cs := s.cache.Stats()
		out.Cache = &cs
	}
	return s.finish(cmd, out)
}

type aggregateRow struct {
	Group      []any   `json:"group,omitempty"`
	Aggregates []any   `json:"aggregates"`
	DocCount   *uint64 `json:"doc_count,omitempty"`
}

func runAggregate(cmd *cobra.Command, args []string) error {
	s, req, err := prepare(args[0])
	if err != nil {
		return err
	}
	c, err := req.clause(s.index)
	if err != nil {
		return err
	}
	rows, err := s.engine.Aggregate(cmd.Context(), c)
	if err != nil {
		return fmt.Errorf("aggregate failed: %w", err)
	}
	return s.finish(cmd, aggregateRows(rows))
}

func aggregateRows(rows []aggregate.Row) []aggregateRow {
	out := make([]aggregateRow, len(rows))
	for i, r := range rows {
		out[i].DocCount = r.DocCount
		for _, k := range r.GroupKeys {
			out[i].Group = append(out[i].Group, k.Any())
		}
		out[i].Aggregates = make([]any, len(r.Aggregates))
		for j, v := range r.Aggregates {
			out[i].Aggregates[j] = v.Any()
		}
	}
	return out
}

func runExplain(cmd *cobra.Command, args []string) error {
	s, req, err := prepare(args[0])
	if err != nil {
		return err
	}
	c, err := req.clause(s.index)
	if err != nil {
		return err
	}
	data, err := s.engine.Explain(cmd.Context(), c)
	if err != nil {
		return fmt.Errorf("explain failed: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func prepare(path string) (*session, *request, error) {
	req, err := loadRequest(path)
	if err != nil {
		return nil, nil, err
	}
	s, err := openSession()
	if err != nil {
		return nil, nil, err
	}
	return s, req, nil
}
