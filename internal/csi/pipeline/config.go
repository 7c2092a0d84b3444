package pipeline

import (
	"fmt"
	"time"

	"github.com/hkevin01/wifi-radar/internal/config"
)

// Config holds the scheduling parameters of a pipeline.
type Config struct {
	BackpressureMode string        // latency-first or completeness-first
	QueueCapacity    int           // Items per stage boundary (default: 4)
	InferencePolicy  string        // skip or reuse-last
	SourceTimeout    time.Duration // Longest wait for a frame before counting a gap; 0 defers to the source
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) *Config {
	return &Config{
		BackpressureMode: cfg.GetBackpressureMode(),
		QueueCapacity:    cfg.GetQueueCapacity(),
		InferencePolicy:  cfg.GetInferencePolicy(),
		SourceTimeout:    cfg.GetSourceTimeout(),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.BackpressureMode {
	case config.BackpressureLatencyFirst, config.BackpressureCompletenessFirst:
	default:
		return fmt.Errorf("unknown backpressure mode %q", c.BackpressureMode)
	}
	switch c.InferencePolicy {
	case config.InferencePolicySkip, config.InferencePolicyReuseLast:
	default:
		return fmt.Errorf("unknown inference policy %q", c.InferencePolicy)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("QueueCapacity must be at least 1, got %d", c.QueueCapacity)
	}
	if c.SourceTimeout < 0 {
		return fmt.Errorf("SourceTimeout must be non-negative, got %s", c.SourceTimeout)
	}
	return nil
}
