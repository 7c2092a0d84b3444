package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// defaultDrainTimeout bounds how long frames already read may take to reach
// the sinks after the first stop signal.
const defaultDrainTimeout = 10 * time.Second

// notifyStop subscribes to the signals that end a run.
var notifyStop = func() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}

// watchSignals closes the returned channel on the first signal so the run
// can stop intake and drain. A second signal, or timeout after the first,
// calls abort. The watcher exits when ctx is done.
func watchSignals(ctx context.Context, sigs <-chan os.Signal, timeout time.Duration, abort context.CancelFunc, w io.Writer) <-chan struct{} {
	draining := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			fmt.Fprintf(w, "Received %s: draining in-flight frames (signal again to abort)\n", sig)
			close(draining)
		}

		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			fmt.Fprintf(w, "Received %s: aborting\n", sig)
		case <-timer.C:
			fmt.Fprintf(w, "Drain did not finish within %s: aborting\n", timeout)
		}
		abort()
	}()
	return draining
}
