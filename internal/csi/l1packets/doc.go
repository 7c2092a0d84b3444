// Package l1packets owns Layer 1 (Packets) of the CSI data model.
//
// Responsibilities: decoding per-antenna-pair CSI reports from radios
// (ESP32 serial CSI_DATA lines, nexmon UDP payloads) and assembling them
// into csi.Frame values. Pairs that never arrive are left marked invalid
// in the frame; downstream conditioning tolerates the gaps.
//
// Dependency rule: L1 depends only on the csi data model. Transport
// (UDP sockets, PCAP files) lives in the network subpackage.
package l1packets
