package l2signal

import (
	"fmt"

	"github.com/hkevin01/wifi-radar/internal/config"
	"github.com/hkevin01/wifi-radar/internal/csi"
)

// Config holds the conditioning parameters for one session.
type Config struct {
	Shape               csi.GridShape
	SampleRateHz        float64 // Frame cadence (default: 20)
	LowPassHz           float64 // Low-pass cutoff, 0 disables (default: 2)
	HighPassHz          float64 // High-pass cutoff, 0 disables (default: 0)
	AmplitudeAlpha      float64 // EMA weight of the amplitude baseline (default: 0.05)
	ClampSigma          float64 // Normalised amplitude bound in baseline spreads (default: 4)
	MinSpread           float64 // Spread floor as a fraction of the baseline mean (default: 0.05)
	SubcarrierSmoothing int     // Odd moving-average width, 1 disables (default: 3)
}

// DefaultConfig returns a Config loaded from the canonical tuning defaults
// file (config/tuning.defaults.json). Panics if the file cannot be found;
// intended for tests.
func DefaultConfig() *Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) *Config {
	return &Config{
		Shape: csi.GridShape{
			Tx:          cfg.GetTx(),
			Rx:          cfg.GetRx(),
			Subcarriers: cfg.GetSubcarriers(),
		},
		SampleRateHz:        cfg.GetSampleRateHz(),
		LowPassHz:           cfg.GetLowPassHz(),
		HighPassHz:          cfg.GetHighPassHz(),
		AmplitudeAlpha:      cfg.GetAmplitudeEMAAlpha(),
		ClampSigma:          cfg.GetClampSigma(),
		MinSpread:           cfg.GetMinSpread(),
		SubcarrierSmoothing: cfg.GetSubcarrierSmoothing(),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Shape.Validate(); err != nil {
		return err
	}
	if c.SampleRateHz <= 0 {
		return fmt.Errorf("SampleRateHz must be positive, got %f", c.SampleRateHz)
	}
	nyquist := c.SampleRateHz / 2
	if c.LowPassHz < 0 || c.LowPassHz >= nyquist {
		return fmt.Errorf("LowPassHz must be in [0, %g), got %f", nyquist, c.LowPassHz)
	}
	if c.HighPassHz < 0 || c.HighPassHz >= nyquist {
		return fmt.Errorf("HighPassHz must be in [0, %g), got %f", nyquist, c.HighPassHz)
	}
	if c.LowPassHz > 0 && c.HighPassHz > 0 && c.HighPassHz >= c.LowPassHz {
		return fmt.Errorf("HighPassHz (%g) must be below LowPassHz (%g)", c.HighPassHz, c.LowPassHz)
	}
	if c.AmplitudeAlpha <= 0 || c.AmplitudeAlpha > 1 {
		return fmt.Errorf("AmplitudeAlpha must be in (0, 1], got %f", c.AmplitudeAlpha)
	}
	if c.ClampSigma <= 0 {
		return fmt.Errorf("ClampSigma must be positive, got %f", c.ClampSigma)
	}
	if c.MinSpread <= 0 {
		return fmt.Errorf("MinSpread must be positive, got %f", c.MinSpread)
	}
	if c.SubcarrierSmoothing < 1 || c.SubcarrierSmoothing%2 == 0 {
		return fmt.Errorf("SubcarrierSmoothing must be a positive odd width, got %d", c.SubcarrierSmoothing)
	}
	return nil
}
