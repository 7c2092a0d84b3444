package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	if cfg.Tx == nil || *cfg.Tx != 3 {
		t.Errorf("Expected Tx 3, got %v", cfg.Tx)
	}
	if cfg.Subcarriers == nil || *cfg.Subcarriers != 64 {
		t.Errorf("Expected Subcarriers 64, got %v", cfg.Subcarriers)
	}
	if cfg.MinConfirmFrames == nil || *cfg.MinConfirmFrames != 3 {
		t.Errorf("Expected MinConfirmFrames 3, got %v", cfg.MinConfirmFrames)
	}
	if cfg.MaxSilenceFrames == nil || *cfg.MaxSilenceFrames != 5 {
		t.Errorf("Expected MaxSilenceFrames 5, got %v", cfg.MaxSilenceFrames)
	}
	if got := cfg.GetBackpressureMode(); got != BackpressureCompletenessFirst {
		t.Errorf("GetBackpressureMode() = %q, want %q", got, BackpressureCompletenessFirst)
	}
}

// The defaults file and the Get* fallbacks must agree, otherwise a partial
// config behaves differently from the canonical file.
func TestDefaultsFileMatchesGetters(t *testing.T) {
	file := MustLoadDefaultConfig()
	empty := EmptyTuningConfig()

	checks := []struct {
		name       string
		file, want interface{}
	}{
		{"tx", file.GetTx(), empty.GetTx()},
		{"rx", file.GetRx(), empty.GetRx()},
		{"subcarriers", file.GetSubcarriers(), empty.GetSubcarriers()},
		{"sample_rate_hz", file.GetSampleRateHz(), empty.GetSampleRateHz()},
		{"lowpass_hz", file.GetLowPassHz(), empty.GetLowPassHz()},
		{"highpass_hz", file.GetHighPassHz(), empty.GetHighPassHz()},
		{"amplitude_ema_alpha", file.GetAmplitudeEMAAlpha(), empty.GetAmplitudeEMAAlpha()},
		{"clamp_sigma", file.GetClampSigma(), empty.GetClampSigma()},
		{"min_spread", file.GetMinSpread(), empty.GetMinSpread()},
		{"subcarrier_smoothing", file.GetSubcarrierSmoothing(), empty.GetSubcarrierSmoothing()},
		{"model_params_path", file.GetModelParamsPath(), empty.GetModelParamsPath()},
		{"detection_threshold", file.GetDetectionThreshold(), empty.GetDetectionThreshold()},
		{"keypoint_threshold", file.GetKeypointThreshold(), empty.GetKeypointThreshold()},
		{"min_keypoint_fraction", file.GetMinKeypointFraction(), empty.GetMinKeypointFraction()},
		{"max_persons", file.GetMaxPersons(), empty.GetMaxPersons()},
		{"min_confirm_frames", file.GetMinConfirmFrames(), empty.GetMinConfirmFrames()},
		{"max_silence_frames", file.GetMaxSilenceFrames(), empty.GetMaxSilenceFrames()},
		{"max_tracks", file.GetMaxTracks(), empty.GetMaxTracks()},
		{"max_history", file.GetMaxHistory(), empty.GetMaxHistory()},
		{"association", file.GetAssociation(), empty.GetAssociation()},
		{"cost_weight_keypoint", file.GetCostWeightKeypoint(), empty.GetCostWeightKeypoint()},
		{"cost_weight_confidence", file.GetCostWeightConfidence(), empty.GetCostWeightConfidence()},
		{"cost_weight_embedding", file.GetCostWeightEmbedding(), empty.GetCostWeightEmbedding()},
		{"max_association_cost", file.GetMaxAssociationCost(), empty.GetMaxAssociationCost()},
		{"continuity", file.GetContinuity(), empty.GetContinuity()},
		{"hidden_retention", file.GetHiddenRetention(), empty.GetHiddenRetention()},
		{"miss_decay", file.GetMissDecay(), empty.GetMissDecay()},
		{"backpressure_mode", file.GetBackpressureMode(), empty.GetBackpressureMode()},
		{"queue_capacity", file.GetQueueCapacity(), empty.GetQueueCapacity()},
		{"inference_policy", file.GetInferencePolicy(), empty.GetInferencePolicy()},
		{"source_timeout", file.GetSourceTimeout(), empty.GetSourceTimeout()},
	}
	for _, c := range checks {
		if c.file != c.want {
			t.Errorf("%s: defaults file has %v, getter default is %v", c.name, c.file, c.want)
		}
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "subcarriers": 30,
  "lowpass_hz": 3.5,
  "min_confirm_frames": 4,
  "association": "greedy",
  "backpressure_mode": "latency-first",
  "source_timeout": "250ms"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetSubcarriers() != 30 {
		t.Errorf("GetSubcarriers() = %d, want 30", cfg.GetSubcarriers())
	}
	if cfg.GetLowPassHz() != 3.5 {
		t.Errorf("GetLowPassHz() = %f, want 3.5", cfg.GetLowPassHz())
	}
	if cfg.GetMinConfirmFrames() != 4 {
		t.Errorf("GetMinConfirmFrames() = %d, want 4", cfg.GetMinConfirmFrames())
	}
	if cfg.GetAssociation() != AssociationGreedy {
		t.Errorf("GetAssociation() = %q, want greedy", cfg.GetAssociation())
	}
	if cfg.GetBackpressureMode() != BackpressureLatencyFirst {
		t.Errorf("GetBackpressureMode() = %q, want latency-first", cfg.GetBackpressureMode())
	}
	if cfg.GetSourceTimeout() != 250*time.Millisecond {
		t.Errorf("GetSourceTimeout() = %v, want 250ms", cfg.GetSourceTimeout())
	}

	// Unset fields fall back to defaults
	if cfg.GetMaxSilenceFrames() != 5 {
		t.Errorf("GetMaxSilenceFrames() = %d, want default 5", cfg.GetMaxSilenceFrames())
	}
}

func TestLoadTuningConfig_YAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "room.yaml")

	testYAML := `
tx: 2
rx: 2
subcarriers: 56
detection_threshold: 0.65
inference_policy: skip
`
	if err := os.WriteFile(configPath, []byte(testYAML), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetTx() != 2 || cfg.GetRx() != 2 || cfg.GetSubcarriers() != 56 {
		t.Errorf("grid = %dx%dx%d, want 2x2x56", cfg.GetTx(), cfg.GetRx(), cfg.GetSubcarriers())
	}
	if cfg.GetDetectionThreshold() != 0.65 {
		t.Errorf("GetDetectionThreshold() = %f, want 0.65", cfg.GetDetectionThreshold())
	}
	if cfg.GetInferencePolicy() != InferencePolicySkip {
		t.Errorf("GetInferencePolicy() = %q, want skip", cfg.GetInferencePolicy())
	}
}

func TestLoadTuningConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"bad extension", write("cfg.toml", "tx = 3"), "extension"},
		{"missing file", filepath.Join(tmpDir, "absent.json"), "stat"},
		{"bad json", write("bad.json", "{"), "parse config JSON"},
		{"bad yaml", write("bad.yaml", "tx: [1"), "parse config YAML"},
		{"negative grid", write("neg.json", `{"tx": -1}`), "tx must be positive"},
		{"cutoff above nyquist", write("nyq.json", `{"sample_rate_hz": 20, "lowpass_hz": 12}`), "lowpass_hz"},
		{"inverted band", write("band.json", `{"lowpass_hz": 2, "highpass_hz": 3}`), "highpass_hz"},
		{"even smoothing", write("smooth.json", `{"subcarrier_smoothing": 4}`), "subcarrier_smoothing"},
		{"threshold out of range", write("thr.json", `{"detection_threshold": 1.5}`), "detection_threshold"},
		{"zero alpha", write("alpha.json", `{"amplitude_ema_alpha": 0}`), "amplitude_ema_alpha"},
		{"unknown strategy", write("assoc.json", `{"association": "auction"}`), "association"},
		{"unknown mode", write("mode.json", `{"backpressure_mode": "yolo"}`), "backpressure_mode"},
		{"unknown policy", write("policy.json", `{"inference_policy": "retry"}`), "inference_policy"},
		{"bad timeout", write("timeout.json", `{"source_timeout": "soon"}`), "source_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTuningConfig(tt.path)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadTuningConfig_TooLarge(t *testing.T) {
	p := filepath.Join(t.TempDir(), "huge.json")
	big := make([]byte, 1024*1024+1)
	for i := range big {
		big[i] = ' '
	}
	if err := os.WriteFile(p, big, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTuningConfig(p); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestWith_LayersWithoutAliasing(t *testing.T) {
	base := &TuningConfig{Tx: ptrInt(3), LowPassHz: ptrFloat64(2)}
	override := &TuningConfig{LowPassHz: ptrFloat64(4), Association: ptrString(AssociationGreedy)}

	merged := base.With(override)

	if merged.GetTx() != 3 {
		t.Errorf("merged tx = %d, want 3", merged.GetTx())
	}
	if merged.GetLowPassHz() != 4 {
		t.Errorf("merged lowpass = %f, want 4", merged.GetLowPassHz())
	}
	if merged.GetAssociation() != AssociationGreedy {
		t.Errorf("merged association = %q", merged.GetAssociation())
	}
	if *base.LowPassHz != 2 {
		t.Errorf("base mutated: lowpass = %f", *base.LowPassHz)
	}
	*merged.Tx = 9
	if *base.Tx != 3 {
		t.Errorf("merged aliases base: tx = %d", *base.Tx)
	}
	if base.With(nil).GetTx() != 3 {
		t.Errorf("With(nil) lost fields")
	}
}

func TestGetSourceTimeout_InvalidFallsBack(t *testing.T) {
	cfg := &TuningConfig{SourceTimeout: ptrString("nope")}
	if got := cfg.GetSourceTimeout(); got != 500*time.Millisecond {
		t.Errorf("GetSourceTimeout() = %v, want 500ms fallback", got)
	}
}
