package l5tracks

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/hkevin01/wifi-radar/internal/csi"
	"github.com/hkevin01/wifi-radar/internal/csi/l4detect"
)

// CostWeights scales the three association cost terms.
type CostWeights struct {
	Keypoint   float64
	Confidence float64
	Embedding  float64
}

// AssociationCost scores giving det to t. Lower is better.
//
//	cost = wK·d_kp + wC·|det.Confidence - presence| + wE·‖z - H‖/√D
//
// d_kp is the mean keypoint distance in metres, weighted by the product of
// track and detection keypoint confidences. A detection embedding whose
// width differs from the hidden state is a model/config mismatch and
// returns *csi.EstimatorConfigError.
func AssociationCost(t *PersonTrack, det *l4detect.Detection, w CostWeights) (float64, error) {
	h := t.Recurrent.Hidden
	if len(det.Embedding) != len(h) {
		return 0, &csi.EstimatorConfigError{Component: "association", Want: len(h), Got: len(det.Embedding)}
	}

	cost := w.Keypoint * keypointDistance(t.Recurrent, det)
	cost += w.Confidence * math.Abs(det.Confidence-t.Recurrent.Presence)
	if len(h) > 0 {
		cost += w.Embedding * floats.Distance(det.Embedding, h, 2) / math.Sqrt(float64(len(h)))
	}
	return cost, nil
}

func keypointDistance(s RecurrentState, det *l4detect.Detection) float64 {
	n := len(s.Keypoints)
	if len(det.Keypoints) < n {
		n = len(det.Keypoints)
	}
	if n == 0 {
		return 0
	}

	dist := make([]float64, n)
	weight := make([]float64, n)
	for k := 0; k < n; k++ {
		a, b := s.Keypoints[k], det.Keypoints[k]
		dist[k] = math.Sqrt((a.X-b.X)*(a.X-b.X) + (a.Y-b.Y)*(a.Y-b.Y) + (a.Z-b.Z)*(a.Z-b.Z))
		weight[k] = s.Confidence[k] * det.KeypointConfidence[k]
	}
	if total := floats.Sum(weight); total > 0 {
		return floats.Dot(dist, weight) / total
	}
	return floats.Sum(dist) / float64(n)
}
