package l1packets

import (
	"bytes"
	"strconv"
	"strings"
	"time"
)

const esp32Format = "esp32"

// Column positions in an esp-csi CSI_DATA line. The raw sample array
// follows the last header column as a quoted, bracketed list.
const (
	esp32ColID        = 1
	esp32ColMAC       = 2
	esp32ColRSSI      = 3
	esp32ColLen       = 22
	esp32HeaderFields = 24
)

// ESP32Parser decodes CSI_DATA lines printed by the ESP32 esp-csi firmware
// on its serial console. Each line is one antenna pair; Tx and Rx place it
// in the frame. When TxByMAC is set the transmitter index is looked up by
// source MAC instead and lines from other stations are rejected.
type ESP32Parser struct {
	Tx, Rx  int
	TxByMAC map[string]int
}

// Parse implements Parser. Lines that do not start with CSI_DATA return
// ErrNotCSI.
func (p *ESP32Parser) Parse(raw []byte, ts time.Time) (*Packet, error) {
	line := string(bytes.TrimSpace(raw))
	if !strings.HasPrefix(line, "CSI_DATA") {
		return nil, ErrNotCSI
	}
	open := strings.IndexByte(line, '[')
	closing := strings.LastIndexByte(line, ']')
	if open < 0 || closing < open {
		return nil, parseErrorf(esp32Format, "missing sample array")
	}
	fields := strings.Split(strings.TrimRight(line[:open], `",`), ",")
	if len(fields) < esp32HeaderFields {
		return nil, parseErrorf(esp32Format, "%d header fields, want %d", len(fields), esp32HeaderFields)
	}

	id, err := strconv.ParseUint(fields[esp32ColID], 10, 32)
	if err != nil {
		return nil, parseErrorf(esp32Format, "bad id %q", fields[esp32ColID])
	}
	rssi, err := strconv.Atoi(fields[esp32ColRSSI])
	if err != nil {
		return nil, parseErrorf(esp32Format, "bad rssi %q", fields[esp32ColRSSI])
	}
	n, err := strconv.Atoi(fields[esp32ColLen])
	if err != nil || n <= 0 || n%2 != 0 {
		return nil, parseErrorf(esp32Format, "bad len %q", fields[esp32ColLen])
	}

	tx := p.Tx
	if len(p.TxByMAC) > 0 {
		mac := strings.ToLower(fields[esp32ColMAC])
		idx, ok := p.TxByMAC[mac]
		if !ok {
			return nil, parseErrorf(esp32Format, "unknown transmitter %s", mac)
		}
		tx = idx
	}

	values := strings.FieldsFunc(line[open+1:closing], func(r rune) bool { return r == ',' || r == ' ' })
	if len(values) != n {
		return nil, parseErrorf(esp32Format, "len says %d values, line has %d", n, len(values))
	}
	samples := make([]complex128, n/2)
	for i := range samples {
		// esp-csi stores each subcarrier as imaginary then real.
		im, err1 := strconv.ParseInt(values[2*i], 10, 8)
		re, err2 := strconv.ParseInt(values[2*i+1], 10, 8)
		if err1 != nil || err2 != nil {
			return nil, parseErrorf(esp32Format, "bad sample at subcarrier %d", i)
		}
		samples[i] = complex(float64(re), float64(im))
	}

	return &Packet{
		Seq:       uint32(id),
		Timestamp: ts,
		Tx:        tx,
		Rx:        p.Rx,
		RSSI:      rssi,
		Samples:   samples,
	}, nil
}
