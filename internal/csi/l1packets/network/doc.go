// Package network carries CSI reports from the wire into l1packets: a UDP
// listener for live nexmon_csi traffic and a pcap/pcapng replay reader.
package network
