package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPipelineConfigDefaults(t *testing.T) {
	cfg := NewPipelineConfig("webanalytics")

	assert.Equal(t, "webanalytics", cfg.Name)
	assert.Equal(t, 10000, cfg.Performance.PageSize)
	assert.Equal(t, 1000, cfg.Performance.MaxPages)
	assert.Equal(t, 5, cfg.Reliability.ThrottleAttempts)
	assert.Equal(t, 3, cfg.Reliability.TransientAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Reliability.BackoffBase)
	assert.Equal(t, 60*time.Second, cfg.Reliability.BackoffMax)
	assert.Equal(t, 2.0, cfg.Reliability.BackoffMultiplier)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*PipelineConfig)
	}{
		{"empty name", func(c *PipelineConfig) { c.Name = "" }},
		{"zero workers", func(c *PipelineConfig) { c.Performance.Workers = 0 }},
		{"zero page size", func(c *PipelineConfig) { c.Performance.PageSize = 0 }},
		{"zero max pages", func(c *PipelineConfig) { c.Performance.MaxPages = 0 }},
		{"negative throttle attempts", func(c *PipelineConfig) { c.Reliability.ThrottleAttempts = -1 }},
		{"zero backoff base", func(c *PipelineConfig) { c.Reliability.BackoffBase = 0 }},
		{"max below base", func(c *PipelineConfig) { c.Reliability.BackoffMax = time.Millisecond }},
		{"multiplier below one", func(c *PipelineConfig) { c.Reliability.BackoffMultiplier = 0.5 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewPipelineConfig("test")
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestIsRateLimited(t *testing.T) {
	cfg := NewPipelineConfig("test")
	assert.False(t, cfg.Reliability.IsRateLimited())
	cfg.Reliability.RateLimitPerSec = 10
	assert.True(t, cfg.Reliability.IsRateLimited())
}
