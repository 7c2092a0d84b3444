package serialmux

import (
	"fmt"
	"strconv"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate is the esp-csi firmware's console rate. CSI lines at
// 100 Hz do not fit through the usual 115200.
const DefaultBaudRate = 921600

// PortOptions are the line settings for a real serial port. Zero values
// select 921600 8N1.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

var parities = map[string]serial.Parity{
	"N": serial.NoParity, "NONE": serial.NoParity,
	"E": serial.EvenParity, "EVEN": serial.EvenParity,
	"O": serial.OddParity, "ODD": serial.OddParity,
}

// ParseFraming reads the conventional "8N1" notation into data bits,
// parity and stop bits, keeping the baud rate.
func (o PortOptions) ParseFraming(s string) (PortOptions, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 3 {
		return o, fmt.Errorf("framing %q: want data bits, parity and stop bits, e.g. 8N1", s)
	}
	data, err1 := strconv.Atoi(s[:1])
	stop, err2 := strconv.Atoi(s[2:])
	if err1 != nil || err2 != nil {
		return o, fmt.Errorf("framing %q: data and stop bits must be digits", s)
	}
	o.DataBits, o.Parity, o.StopBits = data, s[1:2], stop
	return o.Normalize()
}

// Normalize fills defaults and rejects settings the port cannot take.
func (o PortOptions) Normalize() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.DataBits < 5 || o.DataBits > 8 {
		return o, fmt.Errorf("invalid data bits %d: must be between 5 and 8", o.DataBits)
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	if o.StopBits != 1 && o.StopBits != 2 {
		return o, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", o.StopBits)
	}
	parity := strings.ToUpper(strings.TrimSpace(o.Parity))
	if parity == "" {
		parity = "N"
	}
	if _, ok := parities[parity]; !ok {
		return o, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	o.Parity = parity[:1]
	return o, nil
}

func (o PortOptions) String() string {
	return fmt.Sprintf("%d %d%s%d", o.BaudRate, o.DataBits, o.Parity, o.StopBits)
}

// SerialMode converts the options for go.bug.st/serial.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		StopBits: serial.StopBits(n.StopBits),
		Parity:   parities[n.Parity],
	}, nil
}
