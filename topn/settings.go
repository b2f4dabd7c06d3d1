package topn

import (
	"math"

	"github.com/hupe1980/searchexec/aggregate"
	"github.com/hupe1980/searchexec/codec"
	"github.com/hupe1980/searchexec/model"
)

const (
	DefaultLimitFetchMultiplier = 1.0
	DefaultRetryScaleFactor     = 2
	DefaultMaxChunkSize         = 5000
	DefaultMaxFeatures          = 3
)

// Settings tune the executor. Zero numeric fields select the defaults.
type Settings struct {
	// LimitFetchMultiplier scales every query's fetch size.
	LimitFetchMultiplier float64
	// RetryScaleFactor grows the chunk size after a round ran dry.
	RetryScaleFactor int
	// MaxChunkSize caps the grown chunk size.
	MaxChunkSize int
	// MaxFeatures caps the number of ORDER BY keys.
	MaxFeatures int

	// MaxTermAggBuckets caps the terms buckets of window aggregates.
	MaxTermAggBuckets uint32
	// AddDocCount adds the hidden document count to window aggregates.
	AddDocCount bool
	// Codec decodes custom window aggregates.
	Codec codec.Codec
}

// DefaultSettings returns the default settings.
func DefaultSettings() Settings {
	return Settings{
		LimitFetchMultiplier: DefaultLimitFetchMultiplier,
		RetryScaleFactor:     DefaultRetryScaleFactor,
		MaxChunkSize:         DefaultMaxChunkSize,
		MaxFeatures:          DefaultMaxFeatures,
		MaxTermAggBuckets:    aggregate.DefaultMaxTermAggBuckets,
		AddDocCount:          true,
	}
}

func (s Settings) withDefaults() Settings {
	if s.LimitFetchMultiplier == 0 {
		s.LimitFetchMultiplier = DefaultLimitFetchMultiplier
	}
	if s.RetryScaleFactor == 0 {
		s.RetryScaleFactor = DefaultRetryScaleFactor
	}
	if s.MaxChunkSize == 0 {
		s.MaxChunkSize = DefaultMaxChunkSize
	}
	if s.MaxFeatures == 0 {
		s.MaxFeatures = DefaultMaxFeatures
	}
	if s.MaxTermAggBuckets == 0 {
		s.MaxTermAggBuckets = aggregate.DefaultMaxTermAggBuckets
	}
	return s
}

// Validate reports settings no executor can run with.
func (s Settings) Validate() error {
	const op = "topn.Settings"
	switch {
	case math.IsNaN(s.LimitFetchMultiplier) || math.IsInf(s.LimitFetchMultiplier, 0) || s.LimitFetchMultiplier < 0:
		return model.Usagef(op, "limit fetch multiplier %v out of range", s.LimitFetchMultiplier)
	case s.RetryScaleFactor < 0:
		return model.Usagef(op, "negative retry scale factor %d", s.RetryScaleFactor)
	case s.MaxChunkSize < 0:
		return model.Usagef(op, "negative max chunk size %d", s.MaxChunkSize)
	case s.MaxFeatures < 0:
		return model.Usagef(op, "negative max features %d", s.MaxFeatures)
	}
	return nil
}
