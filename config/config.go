// Package config loads engine settings from YAML.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/searchexec/aggregate"
	"github.com/hupe1980/searchexec/codec"
	"github.com/hupe1980/searchexec/resource"
	"github.com/hupe1980/searchexec/scan"
	"github.com/hupe1980/searchexec/topn"
)

// Config holds the engine configuration.
type Config struct {
	TopN      TopNConfig      `yaml:"topn"`
	Aggregate AggregateConfig `yaml:"aggregate"`
	Scan      ScanConfig      `yaml:"scan"`
	Resources ResourceConfig  `yaml:"resources"`
	Workers   int             `yaml:"workers"`
	Codec     string          `yaml:"codec"` // go-json (default), json
	Logging   LoggingConfig   `yaml:"logging"`
}

// TopNConfig holds Top-N sizing settings.
type TopNConfig struct {
	LimitFetchMultiplier float64 `yaml:"limit_fetch_multiplier"`
	RetryScaleFactor     int     `yaml:"retry_scale_factor"`
	MaxChunkSize         int     `yaml:"max_chunk_size"`
	MaxFeatures          int     `yaml:"max_features"`
}

// AggregateConfig holds aggregation settings.
type AggregateConfig struct {
	MaxTermAggBuckets uint32 `yaml:"max_term_agg_buckets"`
	// AddDocCount is a pointer so that an explicit false survives defaults.
	AddDocCount *bool `yaml:"add_doc_count"`
}

// ScanConfig holds batch scan settings.
type ScanConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// ResourceConfig holds process-wide limits. Zero means unlimited.
type ResourceConfig struct {
	WorkMemBytes            int64 `yaml:"work_mem_bytes"`
	DictionaryIOBytesPerSec int64 `yaml:"dictionary_io_bytes_per_sec"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // text, json (default: text)
}

// Load reads configuration from a YAML file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML, expands ${VAR} and ${VAR:-default} references,
// applies defaults and validates the result.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration of an empty file.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.TopN.LimitFetchMultiplier == 0 {
		c.TopN.LimitFetchMultiplier = topn.DefaultLimitFetchMultiplier
	}
	if c.TopN.RetryScaleFactor == 0 {
		c.TopN.RetryScaleFactor = topn.DefaultRetryScaleFactor
	}
	if c.TopN.MaxChunkSize == 0 {
		c.TopN.MaxChunkSize = topn.DefaultMaxChunkSize
	}
	if c.TopN.MaxFeatures == 0 {
		c.TopN.MaxFeatures = topn.DefaultMaxFeatures
	}
	if c.Aggregate.MaxTermAggBuckets == 0 {
		c.Aggregate.MaxTermAggBuckets = aggregate.DefaultMaxTermAggBuckets
	}
	if c.Aggregate.AddDocCount == nil {
		t := true
		c.Aggregate.AddDocCount = &t
	}
	if c.Scan.BatchSize == 0 {
		c.Scan.BatchSize = scan.MaxBatchSize
	}
	if c.Workers == 0 {
		c.Workers = 1
	}
	if c.Codec == "" {
		c.Codec = codec.Default.Name()
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	m := c.TopN.LimitFetchMultiplier
	if math.IsNaN(m) || math.IsInf(m, 0) || m <= 0 {
		return fmt.Errorf("topn.limit_fetch_multiplier must be positive, got %v", m)
	}
	if c.TopN.RetryScaleFactor < 1 {
		return fmt.Errorf("topn.retry_scale_factor must be at least 1, got %d", c.TopN.RetryScaleFactor)
	}
	if c.TopN.MaxChunkSize < 1 {
		return fmt.Errorf("topn.max_chunk_size must be at least 1, got %d", c.TopN.MaxChunkSize)
	}
	if c.TopN.MaxFeatures < 1 {
		return fmt.Errorf("topn.max_features must be at least 1, got %d", c.TopN.MaxFeatures)
	}
	if c.Scan.BatchSize < 1 || c.Scan.BatchSize > scan.MaxBatchSize {
		return fmt.Errorf("scan.batch_size must be between 1 and %d, got %d", scan.MaxBatchSize, c.Scan.BatchSize)
	}
	if c.Resources.WorkMemBytes < 0 {
		return fmt.Errorf("resources.work_mem_bytes must not be negative, got %d", c.Resources.WorkMemBytes)
	}
	if c.Resources.DictionaryIOBytesPerSec < 0 {
		return fmt.Errorf("resources.dictionary_io_bytes_per_sec must not be negative, got %d", c.Resources.DictionaryIOBytesPerSec)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if _, ok := codec.ByName(c.Codec); !ok {
		return fmt.Errorf("codec must be one of %s, got %q", strings.Join(codec.Names(), ", "), c.Codec)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}

// Settings returns the Top-N and aggregation settings.
func (c *Config) Settings() topn.Settings {
	s := topn.Settings{
		LimitFetchMultiplier: c.TopN.LimitFetchMultiplier,
		RetryScaleFactor:     c.TopN.RetryScaleFactor,
		MaxChunkSize:         c.TopN.MaxChunkSize,
		MaxFeatures:          c.TopN.MaxFeatures,
		MaxTermAggBuckets:    c.Aggregate.MaxTermAggBuckets,
		AddDocCount:          true,
	}
	if c.Aggregate.AddDocCount != nil {
		s.AddDocCount = *c.Aggregate.AddDocCount
	}
	return s
}

// Controller returns a resource controller for the configured limits, or
// nil when none is set.
func (c *Config) Controller() *resource.Controller {
	if c.Resources.WorkMemBytes == 0 && c.Resources.DictionaryIOBytesPerSec == 0 {
		return nil
	}
	return resource.NewController(resource.Config{
		WorkMemBytes:            c.Resources.WorkMemBytes,
		DictionaryIOBytesPerSec: c.Resources.DictionaryIOBytesPerSec,
	})
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
