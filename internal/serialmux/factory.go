package serialmux

import (
	"fmt"

	"go.bug.st/serial"

	"github.com/hkevin01/wifi-radar/internal/monitoring"
)

// NewRealSerialMux opens the serial port at path and wraps it in a
// SerialMux that sends startup on Initialise.
func NewRealSerialMux(path string, opts PortOptions, startup ...string) (*SerialMux, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	monitoring.Logf("serialmux: opened %s at %s", path, opts)
	return NewSerialMux(port, startup...), nil
}
