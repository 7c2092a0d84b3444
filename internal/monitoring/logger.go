// Package monitoring holds the process-wide logger used by small helper
// packages, and the ops/diag/trace Streams each pipeline package logs to.
package monitoring

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
)

// Logf logs one message. It defaults to log.Printf; SetLogger replaces it.
var Logf func(format string, v ...any) = log.Printf

// SetLogger replaces Logf. A nil f mutes logging.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}

// WriterLogger returns a logger that writes each message to w on its own
// line. Calls are serialised so concurrent messages do not interleave.
func WriterLogger(w io.Writer) func(format string, v ...any) {
	var mu sync.Mutex
	return func(format string, v ...any) {
		msg := fmt.Sprintf(format, v...)
		if !strings.HasSuffix(msg, "\n") {
			msg += "\n"
		}
		mu.Lock()
		defer mu.Unlock()
		_, _ = io.WriteString(w, msg)
	}
}
