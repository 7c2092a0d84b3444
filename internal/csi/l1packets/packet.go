package l1packets

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotCSI is returned by parsers for input that is well formed but is not
// a CSI report, such as ESP32 boot chatter or a foreign UDP datagram.
// Callers usually skip these silently.
var ErrNotCSI = errors.New("not a CSI report")

// Packet is the channel response of one transmit/receive antenna pair for
// one measurement.
type Packet struct {
	// Seq identifies the measurement. Every pair of one frame carries the
	// same Seq. Radios wrap it at their own width.
	Seq       uint32
	Timestamp time.Time
	Tx, Rx    int
	RSSI      int
	Samples   []complex128
}

// Parser decodes one raw report. ts is the arrival or capture time, used
// when the radio does not provide a usable clock.
type Parser interface {
	Parse(raw []byte, ts time.Time) (*Packet, error)
}

// ParseError describes a report that claimed to be CSI but could not be
// decoded.
type ParseError struct {
	Format string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Format, e.Reason)
}

func parseErrorf(format, reason string, args ...any) error {
	return &ParseError{Format: format, Reason: fmt.Sprintf(reason, args...)}
}
