package network

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/hkevin01/wifi-radar/internal/csi/l1packets"
	"github.com/hkevin01/wifi-radar/internal/timeutil"
)

// DefaultNexmonPort is the UDP port nexmon_csi sends reports to.
const DefaultNexmonPort = 5500

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// PCAPOptions controls a capture replay.
type PCAPOptions struct {
	Port     int     // Only UDP datagrams to this port are replayed; 0 accepts all
	Realtime bool    // Honour capture timestamps between datagrams
	Speed    float64 // Playback rate multiplier when Realtime (default: 1)
	Clock    timeutil.Clock
}

// ReplayStats summarises a replay.
type ReplayStats struct {
	Packets   int           `json:"packets"`
	Datagrams int           `json:"datagrams"`
	Span      time.Duration `json:"span"`
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// ReadPCAPFile replays a .pcap or .pcapng capture into feeder.
func ReadPCAPFile(ctx context.Context, path string, feeder *l1packets.Feeder, opts PCAPOptions) (ReplayStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("failed to open capture %s: %w", path, err)
	}
	defer f.Close()
	return ReadPCAP(ctx, f, feeder, opts)
}

// ReadPCAP replays capture data from r. The format is detected from the
// leading magic number. Each UDP payload is fed with its capture time as
// the report timestamp. It returns at end of capture without closing the
// feeder.
func ReadPCAP(ctx context.Context, r io.Reader, feeder *l1packets.Feeder, opts PCAPOptions) (ReplayStats, error) {
	var stats ReplayStats
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return stats, fmt.Errorf("failed to read capture header: %w", err)
	}

	var src packetReader
	if bytes.Equal(magic, pcapngMagic) {
		src, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		src, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return stats, fmt.Errorf("failed to parse capture header: %w", err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	speed := opts.Speed
	if speed <= 0 {
		speed = 1
	}

	var first time.Time
	var wallStart time.Time
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		data, ci, err := src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			diagf("capture replay complete: %d packets, %d CSI datagrams over %s", stats.Packets, stats.Datagrams, stats.Span)
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		pkt := gopacket.NewPacket(data, src.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if opts.Port != 0 && int(udp.DstPort) != opts.Port {
			continue
		}
		stats.Datagrams++

		if first.IsZero() {
			first = ci.Timestamp
			wallStart = clock.Now()
		}
		stats.Span = ci.Timestamp.Sub(first)
		if opts.Realtime {
			due := wallStart.Add(time.Duration(float64(stats.Span) / speed))
			if wait := clock.Until(due); wait > 0 {
				timer := clock.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return stats, ctx.Err()
				case <-timer.C():
				}
			}
		}

		if err := feeder.Feed(ctx, udp.Payload, ci.Timestamp); err != nil {
			return stats, err
		}
	}
}
