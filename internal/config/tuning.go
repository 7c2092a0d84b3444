package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Backpressure modes accepted by backpressure_mode.
const (
	BackpressureLatencyFirst      = "latency-first"
	BackpressureCompletenessFirst = "completeness-first"
)

// Inference failure policies accepted by inference_policy.
const (
	InferencePolicySkip      = "skip"
	InferencePolicyReuseLast = "reuse-last"
)

// Association strategies accepted by association.
const (
	AssociationHungarian = "hungarian"
	AssociationGreedy    = "greedy"
)

// TuningConfig represents the root configuration consumed by the sensing
// pipeline. Every field is optional; Get* methods supply the default for
// any field left unset, so partial files are safe.
type TuningConfig struct {
	// Session grid
	Tx           *int     `json:"tx,omitempty" yaml:"tx,omitempty"`
	Rx           *int     `json:"rx,omitempty" yaml:"rx,omitempty"`
	Subcarriers  *int     `json:"subcarriers,omitempty" yaml:"subcarriers,omitempty"`
	SampleRateHz *float64 `json:"sample_rate_hz,omitempty" yaml:"sample_rate_hz,omitempty"`

	// Signal conditioning
	LowPassHz           *float64 `json:"lowpass_hz,omitempty" yaml:"lowpass_hz,omitempty"`
	HighPassHz          *float64 `json:"highpass_hz,omitempty" yaml:"highpass_hz,omitempty"`
	AmplitudeEMAAlpha   *float64 `json:"amplitude_ema_alpha,omitempty" yaml:"amplitude_ema_alpha,omitempty"`
	ClampSigma          *float64 `json:"clamp_sigma,omitempty" yaml:"clamp_sigma,omitempty"`
	MinSpread           *float64 `json:"min_spread,omitempty" yaml:"min_spread,omitempty"`
	SubcarrierSmoothing *int     `json:"subcarrier_smoothing,omitempty" yaml:"subcarrier_smoothing,omitempty"`

	// Model parameters (empty path selects the built-in reference set)
	ModelParamsPath *string `json:"model_params_path,omitempty" yaml:"model_params_path,omitempty"`

	// Detection
	DetectionThreshold  *float64 `json:"detection_threshold,omitempty" yaml:"detection_threshold,omitempty"`
	KeypointThreshold   *float64 `json:"keypoint_threshold,omitempty" yaml:"keypoint_threshold,omitempty"`
	MinKeypointFraction *float64 `json:"min_keypoint_fraction,omitempty" yaml:"min_keypoint_fraction,omitempty"`
	MaxPersons          *int     `json:"max_persons,omitempty" yaml:"max_persons,omitempty"`

	// Tracking
	MinConfirmFrames     *int     `json:"min_confirm_frames,omitempty" yaml:"min_confirm_frames,omitempty"`
	MaxSilenceFrames     *int     `json:"max_silence_frames,omitempty" yaml:"max_silence_frames,omitempty"`
	MaxTracks            *int     `json:"max_tracks,omitempty" yaml:"max_tracks,omitempty"`
	MaxHistory           *int     `json:"max_history,omitempty" yaml:"max_history,omitempty"`
	Association          *string  `json:"association,omitempty" yaml:"association,omitempty"`
	CostWeightKeypoint   *float64 `json:"cost_weight_keypoint,omitempty" yaml:"cost_weight_keypoint,omitempty"`
	CostWeightConfidence *float64 `json:"cost_weight_confidence,omitempty" yaml:"cost_weight_confidence,omitempty"`
	CostWeightEmbedding  *float64 `json:"cost_weight_embedding,omitempty" yaml:"cost_weight_embedding,omitempty"`
	MaxAssociationCost   *float64 `json:"max_association_cost,omitempty" yaml:"max_association_cost,omitempty"`
	Continuity           *float64 `json:"continuity,omitempty" yaml:"continuity,omitempty"`
	HiddenRetention      *float64 `json:"hidden_retention,omitempty" yaml:"hidden_retention,omitempty"`
	MissDecay            *float64 `json:"miss_decay,omitempty" yaml:"miss_decay,omitempty"`

	// Pipeline
	BackpressureMode *string `json:"backpressure_mode,omitempty" yaml:"backpressure_mode,omitempty"`
	QueueCapacity    *int    `json:"queue_capacity,omitempty" yaml:"queue_capacity,omitempty"`
	InferencePolicy  *string `json:"inference_policy,omitempty" yaml:"inference_policy,omitempty"`
	SourceTimeout    *string `json:"source_timeout,omitempty" yaml:"source_timeout,omitempty"` // duration string like "500ms"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a .json, .yaml or .yml file.
// The file must be under the max file size. Fields omitted from the file
// keep their defaults.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/csi/l2signal/
		"../../../../" + DefaultConfigPath, // from internal/csi/l1packets/network/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	for name, v := range map[string]*int{
		"tx": c.Tx, "rx": c.Rx, "subcarriers": c.Subcarriers,
		"min_confirm_frames": c.MinConfirmFrames, "max_silence_frames": c.MaxSilenceFrames,
		"max_persons": c.MaxPersons, "max_tracks": c.MaxTracks,
		"max_history": c.MaxHistory, "queue_capacity": c.QueueCapacity,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}

	if c.SampleRateHz != nil && *c.SampleRateHz <= 0 {
		return fmt.Errorf("sample_rate_hz must be positive, got %f", *c.SampleRateHz)
	}
	nyquist := c.GetSampleRateHz() / 2
	for name, v := range map[string]*float64{"lowpass_hz": c.LowPassHz, "highpass_hz": c.HighPassHz} {
		if v != nil && (*v < 0 || *v >= nyquist) {
			return fmt.Errorf("%s must be in [0, %g), got %f", name, nyquist, *v)
		}
	}
	if lp, hp := c.GetLowPassHz(), c.GetHighPassHz(); lp > 0 && hp > 0 && hp >= lp {
		return fmt.Errorf("highpass_hz (%g) must be below lowpass_hz (%g)", hp, lp)
	}

	for name, v := range map[string]*float64{
		"amplitude_ema_alpha":   c.AmplitudeEMAAlpha,
		"detection_threshold":   c.DetectionThreshold,
		"keypoint_threshold":    c.KeypointThreshold,
		"min_keypoint_fraction": c.MinKeypointFraction,
		"continuity":            c.Continuity,
		"hidden_retention":      c.HiddenRetention,
		"miss_decay":            c.MissDecay,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}
	if c.AmplitudeEMAAlpha != nil && *c.AmplitudeEMAAlpha == 0 {
		return fmt.Errorf("amplitude_ema_alpha must be greater than 0")
	}

	for name, v := range map[string]*float64{
		"clamp_sigma":          c.ClampSigma,
		"min_spread":           c.MinSpread,
		"max_association_cost": c.MaxAssociationCost,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}
	for name, v := range map[string]*float64{
		"cost_weight_keypoint":   c.CostWeightKeypoint,
		"cost_weight_confidence": c.CostWeightConfidence,
		"cost_weight_embedding":  c.CostWeightEmbedding,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", name, *v)
		}
	}

	if c.SubcarrierSmoothing != nil && (*c.SubcarrierSmoothing < 1 || *c.SubcarrierSmoothing%2 == 0) {
		return fmt.Errorf("subcarrier_smoothing must be a positive odd width, got %d", *c.SubcarrierSmoothing)
	}

	if c.Association != nil {
		switch *c.Association {
		case AssociationHungarian, AssociationGreedy:
		default:
			return fmt.Errorf("unknown association strategy %q", *c.Association)
		}
	}
	if c.BackpressureMode != nil {
		switch *c.BackpressureMode {
		case BackpressureLatencyFirst, BackpressureCompletenessFirst:
		default:
			return fmt.Errorf("unknown backpressure_mode %q", *c.BackpressureMode)
		}
	}
	if c.InferencePolicy != nil {
		switch *c.InferencePolicy {
		case InferencePolicySkip, InferencePolicyReuseLast:
		default:
			return fmt.Errorf("unknown inference_policy %q", *c.InferencePolicy)
		}
	}

	if c.SourceTimeout != nil && *c.SourceTimeout != "" {
		if _, err := time.ParseDuration(*c.SourceTimeout); err != nil {
			return fmt.Errorf("invalid source_timeout '%s': %w", *c.SourceTimeout, err)
		}
	}

	return nil
}

// GetTx returns the tx value or the default.
func (c *TuningConfig) GetTx() int {
	if c.Tx == nil {
		return 3
	}
	return *c.Tx
}

// GetRx returns the rx value or the default.
func (c *TuningConfig) GetRx() int {
	if c.Rx == nil {
		return 3
	}
	return *c.Rx
}

// GetSubcarriers returns the subcarriers value or the default.
func (c *TuningConfig) GetSubcarriers() int {
	if c.Subcarriers == nil {
		return 64
	}
	return *c.Subcarriers
}

// GetSampleRateHz returns the sample_rate_hz value or the default.
func (c *TuningConfig) GetSampleRateHz() float64 {
	if c.SampleRateHz == nil {
		return 20
	}
	return *c.SampleRateHz
}

// GetLowPassHz returns the lowpass_hz value or the default. Zero disables
// the low-pass section.
func (c *TuningConfig) GetLowPassHz() float64 {
	if c.LowPassHz == nil {
		return 2.0
	}
	return *c.LowPassHz
}

// GetHighPassHz returns the highpass_hz value or the default. Zero
// disables the high-pass section.
func (c *TuningConfig) GetHighPassHz() float64 {
	if c.HighPassHz == nil {
		return 0
	}
	return *c.HighPassHz
}

// GetAmplitudeEMAAlpha returns the amplitude_ema_alpha value or the default.
func (c *TuningConfig) GetAmplitudeEMAAlpha() float64 {
	if c.AmplitudeEMAAlpha == nil {
		return 0.05
	}
	return *c.AmplitudeEMAAlpha
}

// GetClampSigma returns the clamp_sigma value or the default.
func (c *TuningConfig) GetClampSigma() float64 {
	if c.ClampSigma == nil {
		return 4.0
	}
	return *c.ClampSigma
}

// GetMinSpread returns the min_spread value or the default.
func (c *TuningConfig) GetMinSpread() float64 {
	if c.MinSpread == nil {
		return 0.05
	}
	return *c.MinSpread
}

// GetSubcarrierSmoothing returns the subcarrier_smoothing value or the default.
func (c *TuningConfig) GetSubcarrierSmoothing() int {
	if c.SubcarrierSmoothing == nil {
		return 3
	}
	return *c.SubcarrierSmoothing
}

// GetModelParamsPath returns the model_params_path value or "".
func (c *TuningConfig) GetModelParamsPath() string {
	if c.ModelParamsPath == nil {
		return ""
	}
	return *c.ModelParamsPath
}

// GetDetectionThreshold returns the detection_threshold value or the default.
func (c *TuningConfig) GetDetectionThreshold() float64 {
	if c.DetectionThreshold == nil {
		return 0.5
	}
	return *c.DetectionThreshold
}

// GetKeypointThreshold returns the keypoint_threshold value or the default.
func (c *TuningConfig) GetKeypointThreshold() float64 {
	if c.KeypointThreshold == nil {
		return 0.5
	}
	return *c.KeypointThreshold
}

// GetMinKeypointFraction returns the min_keypoint_fraction value or the default.
func (c *TuningConfig) GetMinKeypointFraction() float64 {
	if c.MinKeypointFraction == nil {
		return 0.3
	}
	return *c.MinKeypointFraction
}

// GetMaxPersons returns the max_persons value or the default.
func (c *TuningConfig) GetMaxPersons() int {
	if c.MaxPersons == nil {
		return 4
	}
	return *c.MaxPersons
}

// GetMinConfirmFrames returns the min_confirm_frames value or the default.
func (c *TuningConfig) GetMinConfirmFrames() int {
	if c.MinConfirmFrames == nil {
		return 3
	}
	return *c.MinConfirmFrames
}

// GetMaxSilenceFrames returns the max_silence_frames value or the default.
func (c *TuningConfig) GetMaxSilenceFrames() int {
	if c.MaxSilenceFrames == nil {
		return 5
	}
	return *c.MaxSilenceFrames
}

// GetMaxTracks returns the max_tracks value or the default.
func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 16
	}
	return *c.MaxTracks
}

// GetMaxHistory returns the max_history value or the default.
func (c *TuningConfig) GetMaxHistory() int {
	if c.MaxHistory == nil {
		return 30
	}
	return *c.MaxHistory
}

// GetAssociation returns the association value or the default.
func (c *TuningConfig) GetAssociation() string {
	if c.Association == nil {
		return AssociationHungarian
	}
	return *c.Association
}

// GetCostWeightKeypoint returns the cost_weight_keypoint value or the default.
func (c *TuningConfig) GetCostWeightKeypoint() float64 {
	if c.CostWeightKeypoint == nil {
		return 1.0
	}
	return *c.CostWeightKeypoint
}

// GetCostWeightConfidence returns the cost_weight_confidence value or the default.
func (c *TuningConfig) GetCostWeightConfidence() float64 {
	if c.CostWeightConfidence == nil {
		return 0.5
	}
	return *c.CostWeightConfidence
}

// GetCostWeightEmbedding returns the cost_weight_embedding value or the default.
func (c *TuningConfig) GetCostWeightEmbedding() float64 {
	if c.CostWeightEmbedding == nil {
		return 0.5
	}
	return *c.CostWeightEmbedding
}

// GetMaxAssociationCost returns the max_association_cost value or the default.
func (c *TuningConfig) GetMaxAssociationCost() float64 {
	if c.MaxAssociationCost == nil {
		return 2.0
	}
	return *c.MaxAssociationCost
}

// GetContinuity returns the continuity value or the default.
func (c *TuningConfig) GetContinuity() float64 {
	if c.Continuity == nil {
		return 0.6
	}
	return *c.Continuity
}

// GetHiddenRetention returns the hidden_retention value or the default.
func (c *TuningConfig) GetHiddenRetention() float64 {
	if c.HiddenRetention == nil {
		return 0.5
	}
	return *c.HiddenRetention
}

// GetMissDecay returns the miss_decay value or the default.
func (c *TuningConfig) GetMissDecay() float64 {
	if c.MissDecay == nil {
		return 0.9
	}
	return *c.MissDecay
}

// GetBackpressureMode returns the backpressure_mode value or the default.
func (c *TuningConfig) GetBackpressureMode() string {
	if c.BackpressureMode == nil {
		return BackpressureCompletenessFirst
	}
	return *c.BackpressureMode
}

// GetQueueCapacity returns the queue_capacity value or the default.
func (c *TuningConfig) GetQueueCapacity() int {
	if c.QueueCapacity == nil {
		return 4
	}
	return *c.QueueCapacity
}

// GetInferencePolicy returns the inference_policy value or the default.
func (c *TuningConfig) GetInferencePolicy() string {
	if c.InferencePolicy == nil {
		return InferencePolicyReuseLast
	}
	return *c.InferencePolicy
}

// GetSourceTimeout parses and returns the SourceTimeout as a time.Duration.
func (c *TuningConfig) GetSourceTimeout() time.Duration {
	if c.SourceTimeout == nil || *c.SourceTimeout == "" {
		return 500 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.SourceTimeout)
	if err != nil {
		return 500 * time.Millisecond // default on parse error
	}
	return d
}

// With returns a copy of c with every non-nil field of o applied on top.
// It is used to layer a user file over the canonical defaults.
func (c *TuningConfig) With(o *TuningConfig) *TuningConfig {
	out := EmptyTuningConfig()
	for _, layer := range []*TuningConfig{c, o} {
		if layer == nil {
			continue
		}
		// Nil fields are omitted when marshalled, so each layer only
		// overwrites what it sets. Fresh pointers keep c and o untouched.
		data, err := json.Marshal(layer)
		if err != nil {
			continue
		}
		_ = json.Unmarshal(data, out)
	}
	return out
}
