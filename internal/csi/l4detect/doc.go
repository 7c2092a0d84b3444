// Package l4detect owns Layer 4 (Detection) of the CSI data model.
//
// Responsibilities: turning a fused embedding into zero or more raw,
// unassigned person detections with per-keypoint confidence, and
// discarding detections below the configured thresholds.
// Key types: Detector, Detection.
//
// Dependency rule: L4 may depend on L1-L3, never on L5.
package l4detect
