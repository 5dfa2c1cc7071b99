package orcatrace

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ThresholdLoggingConfig holds the knobs of the threshold/orphan tracer.
// Durations compare against span durations; SampleSize bounds the per
// service top-K retention.
type ThresholdLoggingConfig struct {
	FlushInterval    time.Duration `envconfig:"TRACE_FLUSH_INTERVAL" default:"10s"`
	SampleSize       int           `envconfig:"TRACE_SAMPLE_SIZE" default:"10"`
	OrphanSampleSize int           `envconfig:"TRACE_ORPHAN_SAMPLE_SIZE" default:"10"`

	KVThreshold        time.Duration `envconfig:"TRACE_THRESHOLD_KV" default:"500ms"`
	QueryThreshold     time.Duration `envconfig:"TRACE_THRESHOLD_QUERY" default:"1s"`
	ViewsThreshold     time.Duration `envconfig:"TRACE_THRESHOLD_VIEWS" default:"1s"`
	SearchThreshold    time.Duration `envconfig:"TRACE_THRESHOLD_SEARCH" default:"1s"`
	AnalyticsThreshold time.Duration `envconfig:"TRACE_THRESHOLD_ANALYTICS" default:"1s"`
	// DefaultThreshold applies to spans with no service classification.
	DefaultThreshold time.Duration `envconfig:"TRACE_THRESHOLD_DEFAULT" default:"500ms"`
}

// DefaultThresholdLoggingConfig returns the documented defaults: 10s flush
// window, 10 samples per bucket, 500ms for KV and unclassified spans, 1s
// for the HTTP services.
func DefaultThresholdLoggingConfig() ThresholdLoggingConfig {
	return ThresholdLoggingConfig{
		FlushInterval:      10 * time.Second,
		SampleSize:         10,
		OrphanSampleSize:   10,
		KVThreshold:        500 * time.Millisecond,
		QueryThreshold:     time.Second,
		ViewsThreshold:     time.Second,
		SearchThreshold:    time.Second,
		AnalyticsThreshold: time.Second,
		DefaultThreshold:   500 * time.Millisecond,
	}
}

// LoadThresholdLoggingConfig reads the configuration from ORCADB_TRACE_*
// environment variables, falling back to the documented defaults.
func LoadThresholdLoggingConfig() (ThresholdLoggingConfig, error) {
	var cfg ThresholdLoggingConfig
	if err := envconfig.Process("orcadb", &cfg); err != nil {
		return cfg, fmt.Errorf("load threshold logging config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects sample sizes below one; a tracer that can retain
// nothing is a configuration error, not a useful tracer.
func (c ThresholdLoggingConfig) Validate() error {
	if c.SampleSize < 1 {
		return fmt.Errorf("invalid sample size %d", c.SampleSize)
	}
	if c.OrphanSampleSize < 1 {
		return fmt.Errorf("invalid orphan sample size %d", c.OrphanSampleSize)
	}
	return nil
}

// thresholdFor returns the duration threshold for a service bucket.
func (c ThresholdLoggingConfig) thresholdFor(svc Service) time.Duration {
	switch svc {
	case ServiceKV:
		return c.KVThreshold
	case ServiceQuery:
		return c.QueryThreshold
	case ServiceViews:
		return c.ViewsThreshold
	case ServiceSearch:
		return c.SearchThreshold
	case ServiceAnalytics:
		return c.AnalyticsThreshold
	default:
		return c.DefaultThreshold
	}
}
