// Package csi owns the shared data model of the WiFi sensing pipeline.
//
// Responsibilities: CSI frame and conditioned-frame types, fused
// embeddings, pose estimates, track lifecycle events, the source and sink
// contracts, and the error taxonomy shared by every layer.
//
// Layer packages live underneath:
//
//	l1packets  wire formats (ESP32 serial lines, nexmon UDP) and frame assembly
//	l2signal   phase sanitisation, amplitude normalisation, temporal filtering
//	l3encoder  dual-branch amplitude/phase encoder and fusion
//	l4detect   detection head producing per-slot keypoint sets
//	l5tracks   association, recurrent state and the track registry
//	pipeline   bounded-queue composition root
//
// Dependency rule: a layer may depend on lower layers and on this package,
// never on a higher layer. No SQL/database code is allowed in this tree.
package csi
