// Package config provides the unified configuration system for Tidemark.
// It defines a single PipelineConfig structure consumed by the vendor
// clients, the sink dispatcher, and the orchestrator.
//
// The configuration is organized into logical sections:
//   - Performance: worker counts, page sizes, pagination guard
//   - Timeouts: request and run-level timeouts
//   - Reliability: retry caps, backoff policy, rate limiting
//   - Credentials: per-vendor authentication material
//
// The core never parses files itself; cmd/tidemark loads a file through
// Load and hands the validated structure down.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// PipelineConfig is the single unified configuration structure for an
// extraction run.
type PipelineConfig struct {
	// Name identifies the pipeline instance
	Name string `mapstructure:"name" yaml:"name" json:"name"`

	// Performance settings control throughput and resource usage
	Performance PerformanceConfig `mapstructure:"performance" yaml:"performance" json:"performance"`

	// Timeouts define various timeout durations
	Timeouts TimeoutConfig `mapstructure:"timeouts" yaml:"timeouts" json:"timeouts"`

	// Reliability settings for error handling and resilience
	Reliability ReliabilityConfig `mapstructure:"reliability" yaml:"reliability" json:"reliability"`

	// Credentials stores per-vendor authentication material
	// (use env vars in production)
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials" json:"credentials"`
}

// PerformanceConfig contains all performance-related settings.
type PerformanceConfig struct {
	// Workers defines the number of concurrent request workers
	Workers int `mapstructure:"workers" yaml:"workers" json:"workers"`
	// PageSize controls the number of rows requested per vendor page
	PageSize int `mapstructure:"page_size" yaml:"page_size" json:"page_size"`
	// MaxPages guards against runaway pagination within one request
	MaxPages int `mapstructure:"max_pages" yaml:"max_pages" json:"max_pages"`
	// DispatchConcurrency limits concurrent sink writes per table
	DispatchConcurrency int `mapstructure:"dispatch_concurrency" yaml:"dispatch_concurrency" json:"dispatch_concurrency"`
}

// TimeoutConfig contains all timeout-related settings.
type TimeoutConfig struct {
	// Request timeout for a single vendor HTTP call
	Request time.Duration `mapstructure:"request" yaml:"request" json:"request"`
	// Connection timeout for establishing connections
	Connection time.Duration `mapstructure:"connection" yaml:"connection" json:"connection"`
	// Run caps the whole extraction run (0 = unlimited)
	Run time.Duration `mapstructure:"run" yaml:"run" json:"run"`
}

// ReliabilityConfig contains reliability and error handling settings.
// Retry counts are per request; retries never cross request boundaries.
type ReliabilityConfig struct {
	// ThrottleAttempts caps retries after vendor throttle signals
	ThrottleAttempts int `mapstructure:"throttle_attempts" yaml:"throttle_attempts" json:"throttle_attempts"`
	// TransientAttempts caps retries after 5xx/timeout failures
	TransientAttempts int `mapstructure:"transient_attempts" yaml:"transient_attempts" json:"transient_attempts"`
	// BackoffBase is the initial backoff delay
	BackoffBase time.Duration `mapstructure:"backoff_base" yaml:"backoff_base" json:"backoff_base"`
	// BackoffMax caps the backoff delay
	BackoffMax time.Duration `mapstructure:"backoff_max" yaml:"backoff_max" json:"backoff_max"`
	// BackoffMultiplier increases the delay exponentially
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier" json:"backoff_multiplier"`
	// RateLimitPerSec limits vendor page calls per second (0 = unlimited)
	RateLimitPerSec int `mapstructure:"rate_limit_per_sec" yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
}

// CredentialsConfig holds per-vendor credential material. The core treats
// these as opaque; pkg/auth turns them into authenticated-call capabilities.
type CredentialsConfig struct {
	Google GoogleCredentials `mapstructure:"google" yaml:"google" json:"google"`
	Baidu  BaiduCredentials  `mapstructure:"baidu" yaml:"baidu" json:"baidu"`
}

// GoogleCredentials configures the OAuth2 capability for Google Analytics.
type GoogleCredentials struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id" json:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret" json:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token" yaml:"refresh_token" json:"refresh_token"`
}

// BaiduCredentials configures the Tongji data-export capability. The token
// comes from the Tongji "data export service" management screen.
type BaiduCredentials struct {
	Username string `mapstructure:"username" yaml:"username" json:"username"`
	Password string `mapstructure:"password" yaml:"password" json:"password"`
	Token    string `mapstructure:"token" yaml:"token" json:"token"`
}

// NewPipelineConfig creates a new PipelineConfig with sensible defaults.
// Backoff and retry defaults are the documented pipeline defaults; the
// vendor APIs do not mandate specific constants.
func NewPipelineConfig(name string) *PipelineConfig {
	return &PipelineConfig{
		Name: name,
		Performance: PerformanceConfig{
			Workers:             defaultWorkers(),
			PageSize:            10000,
			MaxPages:            1000,
			DispatchConcurrency: 4,
		},
		Timeouts: TimeoutConfig{
			Request:    30 * time.Second,
			Connection: 10 * time.Second,
			Run:        0,
		},
		Reliability: ReliabilityConfig{
			ThrottleAttempts:  5,
			TransientAttempts: 3,
			BackoffBase:       500 * time.Millisecond,
			BackoffMax:        60 * time.Second,
			BackoffMultiplier: 2.0,
			RateLimitPerSec:   0,
		},
	}
}

func defaultWorkers() int {
	w := runtime.NumCPU()
	if w > 4 {
		w = 4
	}
	return w
}

// Validate validates the configuration for correctness.
func (pc *PipelineConfig) Validate() error {
	if pc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if pc.Performance.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if pc.Performance.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive")
	}
	if pc.Performance.MaxPages <= 0 {
		return fmt.Errorf("max_pages must be positive")
	}
	if pc.Reliability.ThrottleAttempts < 0 {
		return fmt.Errorf("throttle_attempts cannot be negative")
	}
	if pc.Reliability.TransientAttempts < 0 {
		return fmt.Errorf("transient_attempts cannot be negative")
	}
	if pc.Reliability.BackoffBase <= 0 {
		return fmt.Errorf("backoff_base must be positive")
	}
	if pc.Reliability.BackoffMax < pc.Reliability.BackoffBase {
		return fmt.Errorf("backoff_max must be >= backoff_base")
	}
	if pc.Reliability.BackoffMultiplier < 1.0 {
		return fmt.Errorf("backoff_multiplier must be >= 1.0")
	}
	if pc.Reliability.RateLimitPerSec < 0 {
		return fmt.Errorf("rate_limit_per_sec cannot be negative")
	}
	return nil
}

// IsRateLimited returns true if client-side rate limiting is enabled
func (r *ReliabilityConfig) IsRateLimited() bool {
	return r.RateLimitPerSec > 0
}
