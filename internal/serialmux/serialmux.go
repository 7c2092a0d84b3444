// Package serialmux multiplexes a serial console: several subscribers
// receive every line the device prints, and any of them may send commands
// back to it. It fronts the ESP32 CSI receiver's console.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hkevin01/wifi-radar/internal/monitoring"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// ErrClosed is returned by SendCommand after Close.
var ErrClosed = errors.New("serial mux closed")

// subscriberBuffer lets a subscriber fall a few lines behind before lines
// are dropped for it.
const subscriberBuffer = 64

// maxLineBytes bounds one console line. CSI_DATA lines for 64 subcarriers
// are under 1 KiB; HT40 reports with 192 subcarriers stay under 4 KiB.
const maxLineBytes = 64 * 1024

// Port is what the mux needs from a serial device. go.bug.st/serial ports
// satisfy it, as do in-memory fakes.
type Port interface {
	io.ReadWriteCloser
}

// SerialMux owns one console port. Lines read by Monitor go to every
// subscriber; commands from any caller are serialised onto the port.
type SerialMux struct {
	port    Port
	startup []string

	received atomic.Uint64
	dropped  atomic.Uint64
	closed   atomic.Bool

	subMu sync.Mutex
	subs  map[string]chan string

	writeMu sync.Mutex
}

// NewSerialMux creates a SerialMux over port. startup commands are sent by
// Initialise, in order.
func NewSerialMux(port Port, startup ...string) *SerialMux {
	return &SerialMux{
		port:    port,
		startup: startup,
		subs:    make(map[string]chan string),
	}
}

func subscriptionID() string {
	var b [8]byte
	_, _ = crand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Subscribe registers a new line channel. The returned ID is passed to
// Unsubscribe. After Close the channel is returned already closed.
func (s *SerialMux) Subscribe() (string, chan string) {
	id := subscriptionID()
	ch := make(chan string, subscriberBuffer)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.closed.Load() {
		close(ch)
		return id, ch
	}
	s.subs[id] = ch
	return id, ch
}

// Unsubscribe closes and forgets the channel for id. Unknown IDs are ignored.
func (s *SerialMux) Unsubscribe(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// Initialise sends each startup command, stopping at the first failure.
func (s *SerialMux) Initialise() error {
	for _, command := range s.startup {
		if err := s.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send start command %q: %w", command, err)
		}
	}
	return nil
}

// SendCommand writes command to the port, adding a trailing newline when
// it has none.
func (s *SerialMux) SendCommand(command string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := io.WriteString(s.port, command)
	switch {
	case err != nil:
		return err
	case n != len(command):
		return ErrWriteFailed
	}
	return nil
}

// Counters returns how many lines were read and how many deliveries were
// skipped because a subscriber was full.
func (s *SerialMux) Counters() (received, dropped uint64) {
	return s.received.Load(), s.dropped.Load()
}

// Monitor reads lines from the port until it ends, the mux is closed, or
// ctx is done. A subscriber that is not keeping up misses lines rather
// than stalling the others.
func (s *SerialMux) Monitor(ctx context.Context) error {
	lines, errc := scanLines(ctx, s.port)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-errc
			}
			if s.closed.Load() {
				return nil
			}
			s.publish(line)
		}
	}
}

// scanLines runs the blocking reads on their own goroutine so Monitor can
// still observe cancellation. errc receives exactly one value, sent before
// lines is closed.
func scanLines(ctx context.Context, r io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 4096), maxLineBytes)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		errc <- sc.Err()
	}()
	return lines, errc
}

func (s *SerialMux) publish(line string) {
	s.received.Add(1)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- line:
		default:
			if n := s.dropped.Add(1); n == 1 || n%1000 == 0 {
				monitoring.Logf("serialmux: subscriber behind, %d lines dropped so far", n)
			}
		}
	}
}

// Close ends every subscription and closes the port. Only the first call
// closes the port; later calls return nil.
func (s *SerialMux) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.subMu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.subMu.Unlock()
	return s.port.Close()
}
