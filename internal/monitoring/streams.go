package monitoring

import (
	"io"
	"log"
	"sync/atomic"
)

// Streams is a package's three log streams:
//
//	ops    actionable warnings, errors and data loss
//	diag   day-to-day diagnostics and tuning context
//	trace  high-frequency per-frame or per-packet telemetry
//
// The zero value discards everything. Set may race with logging calls.
type Streams struct {
	prefix string
	ops    atomic.Pointer[log.Logger]
	diag   atomic.Pointer[log.Logger]
	trace  atomic.Pointer[log.Logger]
}

// NewStreams returns silent streams whose lines will start with "[name] ".
func NewStreams(name string) *Streams {
	return &Streams{prefix: "[" + name + "] "}
}

// Set points each stream at a writer. A nil writer silences that stream.
func (s *Streams) Set(ops, diag, trace io.Writer) {
	s.ops.Store(s.logger(ops))
	s.diag.Store(s.logger(diag))
	s.trace.Store(s.logger(trace))
}

func (s *Streams) logger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, s.prefix, log.LstdFlags|log.Lmicroseconds)
}

func (s *Streams) Opsf(format string, v ...any)   { printf(s.ops.Load(), format, v) }
func (s *Streams) Diagf(format string, v ...any)  { printf(s.diag.Load(), format, v) }
func (s *Streams) Tracef(format string, v ...any) { printf(s.trace.Load(), format, v) }

func printf(l *log.Logger, format string, v []any) {
	if l != nil {
		l.Printf(format, v...)
	}
}
