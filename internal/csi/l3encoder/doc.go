// Package l3encoder owns Layer 3 (Encoding) of the CSI data model.
//
// Responsibilities: the versioned model parameter bundle, the amplitude
// and phase feature branches, and their fusion into one embedding.
// Key types: Params, Encoder.
//
// Both branches are pure functions of their input and the parameters
// loaded at startup. Parameters are never modified at runtime.
//
// Dependency rule: L3 may depend on L1-L2, never on L4+.
package l3encoder
