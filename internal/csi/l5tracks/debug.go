package l5tracks

import (
	"io"

	"github.com/hkevin01/wifi-radar/internal/monitoring"
)

var logs = monitoring.NewStreams("l5tracks")

// SetLogWriters routes the l5tracks package's ops, diag and trace streams.
// A nil writer silences that stream.
func SetLogWriters(ops, diag, trace io.Writer) { logs.Set(ops, diag, trace) }

func opsf(format string, args ...any)   { logs.Opsf(format, args...) }
func diagf(format string, args ...any)  { logs.Diagf(format, args...) }
func tracef(format string, args ...any) { logs.Tracef(format, args...) }
