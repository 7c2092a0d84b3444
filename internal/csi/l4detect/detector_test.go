package l4detect

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkevin01/wifi-radar/internal/config"
	"github.com/hkevin01/wifi-radar/internal/csi"
	"github.com/hkevin01/wifi-radar/internal/csi/l3encoder"
)

var testShape = csi.GridShape{Tx: 1, Rx: 2, Subcarriers: 8}

func defaultTestConfig() *Config {
	return &Config{DetectionThreshold: 0.5, KeypointThreshold: 0.5, MinKeypointFraction: 0.3, MaxPersons: 4}
}

// embedding returns a reference-width vector with only the occupancy
// channel set.
func embedding(activity float64) *csi.FusedEmbedding {
	v := make([]float64, l3encoder.ReferenceParams(testShape).EmbeddingDim())
	v[0] = activity
	return &csi.FusedEmbedding{Seq: 1, Vector: v}
}

func mustDetector(t *testing.T, cfg *Config, p *l3encoder.Params) *Detector {
	t.Helper()
	if p == nil {
		p = l3encoder.ReferenceParams(testShape)
	}
	d, err := NewDetector(cfg, p)
	require.NoError(t, err)
	return d
}

func TestDetect_Occupied(t *testing.T) {
	d := mustDetector(t, defaultTestConfig(), nil)
	dets, err := d.Detect(embedding(0.76))
	require.NoError(t, err)
	require.Len(t, dets, 1)

	det := dets[0]
	assert.Equal(t, 0, det.Slot)
	assert.InDelta(t, 1/(1+math.Exp(-6*0.76)), det.Confidence, 1e-9)
	require.Len(t, det.Keypoints, csi.NumKeypoints)
	require.Len(t, det.KeypointConfidence, csi.NumKeypoints)
	for k, kp := range det.Keypoints {
		// Only the occupancy channel is set and keypoint rows ignore it,
		// so the pose is the standing template at the slot origin.
		assert.InDelta(t, csi.StandingPose[k].X, kp.X, 1e-12)
		assert.InDelta(t, csi.StandingPose[k].Z, kp.Z, 1e-12)
		assert.Greater(t, det.KeypointConfidence[k], 0.9)
	}
	assert.Greater(t, det.MeanConfidence(), 0.9)
	assert.Len(t, det.Embedding, d.Dim())
}

func TestDetect_EmptyRoom(t *testing.T) {
	d := mustDetector(t, defaultTestConfig(), nil)
	dets, err := d.Detect(embedding(-0.76))
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestDetect_Thresholds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   int
	}{
		{"defaults", func(*Config) {}, 1},
		{"presence threshold", func(c *Config) { c.DetectionThreshold = 0.999 }, 0},
		{"no visible keypoints", func(c *Config) { c.KeypointThreshold = 0.999 }, 0},
		{"fraction disabled", func(c *Config) { c.KeypointThreshold = 0.999; c.MinKeypointFraction = 0 }, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultTestConfig()
			tt.mutate(cfg)
			dets, err := mustDetector(t, cfg, nil).Detect(embedding(0.76))
			require.NoError(t, err)
			assert.Len(t, dets, tt.want)
		})
	}
}

func TestDetect_MultipleSlots(t *testing.T) {
	p := l3encoder.ReferenceParams(testShape)
	p.Head.Slots[1].PresenceBias = 0
	for c := 1; c < len(p.Head.Slots[1].Presence); c++ {
		p.Head.Slots[1].Presence[c] = 0
	}

	dets, err := mustDetector(t, defaultTestConfig(), p).Detect(embedding(0.8))
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, 0, dets[0].Slot)
	assert.Equal(t, 1, dets[1].Slot)
	assert.InDelta(t, dets[0].Keypoints[0].X+1.5, dets[1].Keypoints[0].X, 1e-12)

	cfg := defaultTestConfig()
	cfg.MaxPersons = 1
	dets, err = mustDetector(t, cfg, p).Detect(embedding(0.8))
	require.NoError(t, err)
	assert.Len(t, dets, 1)
}

func TestDetect_DimensionMismatchIsFatal(t *testing.T) {
	d := mustDetector(t, defaultTestConfig(), nil)
	_, err := d.Detect(&csi.FusedEmbedding{Vector: make([]float64, 5)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, csi.ErrEstimatorConfig))
	assert.True(t, csi.IsFatal(err))

	var ce *csi.EstimatorConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, d.Dim(), ce.Want)
	assert.Equal(t, 5, ce.Got)
}

func TestConfig(t *testing.T) {
	cfg := ConfigFromTuning(config.MustLoadDefaultConfig())
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.5, cfg.DetectionThreshold)
	assert.Equal(t, 0.3, cfg.MinKeypointFraction)

	bad := []*Config{
		{DetectionThreshold: 2, MaxPersons: 1},
		{KeypointThreshold: -1, MaxPersons: 1},
		{MinKeypointFraction: 1.5, MaxPersons: 1},
		{MaxPersons: 0},
	}
	for i, c := range bad {
		assert.Error(t, c.Validate(), "case %d", i)
		_, err := NewDetector(c, l3encoder.ReferenceParams(testShape))
		assert.Error(t, err, "case %d", i)
	}
}
