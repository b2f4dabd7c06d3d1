// Command searchexec runs Top-N retrievals, scans and aggregations against
// an index fixture.
//
//	searchexec --fixture testdata/products.yaml topn testdata/topn.yaml
package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hupe1980/searchexec"
	"github.com/hupe1980/searchexec/config"
	"github.com/hupe1980/searchexec/internal/cache"
	"github.com/hupe1980/searchexec/memindex"
	"github.com/hupe1980/searchexec/metrics"
)

var (
	fixturePath string
	configPath  string
	workers     int
	cacheBytes  int64
	showMetrics bool
)

var rootCmd = &cobra.Command{
	Use:   "searchexec",
	Short: "Execute queries against an index fixture",
	Long: `Loads a YAML index fixture and runs Top-N retrievals, batch scans and
aggregations against it, honoring the fixture's row visibility.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&fixturePath, "fixture", "f", "", "index fixture (YAML)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "engine configuration (YAML)")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 0, "parallel workers (overrides the configuration)")
	rootCmd.PersistentFlags().Int64Var(&cacheBytes, "cache-bytes", 0, "dictionary block cache size, 0 disables caching")
	rootCmd.PersistentFlags().BoolVar(&showMetrics, "metrics", false, "print operation counters after the result")
	_ = rootCmd.MarkPersistentFlagRequired("fixture")
}

// session is an engine over a loaded fixture.
type session struct {
	index    *memindex.Index
	cache    *cache.LRU
	engine   *searchexec.Engine
	registry *prometheus.Registry
}

func openSession() (*session, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}

	fx, err := memindex.LoadFixtureFile(fixturePath)
	if err != nil {
		return nil, fmt.Errorf("load fixture: %w", err)
	}
	ctrl := cfg.Controller()
	idxOpts := memindex.Options{IO: ctrl}
	var lru *cache.LRU
	if cacheBytes > 0 {
		lru = cache.NewLRU(cacheBytes, ctrl)
		idxOpts.Cache = lru
	}
	idx, err := fx.Build(idxOpts)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}

	opts := []searchexec.Option{
		searchexec.WithConfig(cfg),
		searchexec.WithOracle(fx.Visibility()),
	}
	if workers > 0 {
		opts = append(opts, searchexec.WithWorkers(workers))
	}
	s := &session{index: idx, cache: lru}
	if showMetrics {
		s.registry = prometheus.NewRegistry()
		mc, err := metrics.NewCollector(s.registry)
		if err != nil {
			return nil, err
		}
		opts = append(opts, searchexec.WithMetricsCollector(mc))
	}
	if s.engine, err = searchexec.New(idx, opts...); err != nil {
		return nil, err
	}
	return s, nil
}

// counters returns every counter of the session registry by name and labels.
func (s *session) counters() (map[string]float64, error) {
	families, err := s.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			c := m.GetCounter()
			if c == nil {
				continue
			}
			key := mf.GetName()
			for _, l := range m.GetLabel() {
				key += "{" + l.GetName() + "=" + l.GetValue() + "}"
			}
			out[key] = c.GetValue()
		}
	}
	return out, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

// finish prints the result and, when requested, the session counters.
func (s *session) finish(cmd *cobra.Command, v any) error {
	defer s.index.Release()
	if err := printJSON(cmd, v); err != nil {
		return err
	}
	if s.registry == nil {
		return nil
	}
	counters, err := s.counters()
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]any{"metrics": counters})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
