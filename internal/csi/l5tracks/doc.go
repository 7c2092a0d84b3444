// Package l5tracks owns Layer 5 (Tracks) of the CSI data model.
//
// Responsibilities: detection-to-track association (greedy or Hungarian),
// per-track recurrent state, the track lifecycle (tentative, confirmed,
// stale, retired), and the registry snapshot read by sinks.
// Key types: Estimator, PersonTrack, RecurrentState, Associator.
//
// The registry is owned by the Estimator. Each Step builds the next
// registry on a copy and publishes it in one atomic swap, so readers never
// observe a partially applied frame.
//
// Dependency rule: L5 may depend on L1-L4.
package l5tracks
