// Package l2signal owns Layer 2 (Signal) of the CSI data model.
//
// Responsibilities: phase unwrapping and linear phase removal, rolling
// amplitude normalisation with spike clamping, causal temporal filtering,
// and subcarrier smoothing.
// Key types: Conditioner, State, Stage.
//
// Dependency rule: L2 may depend on L1, never on L3+.
// No SQL/database code is allowed in this package.
package l2signal
