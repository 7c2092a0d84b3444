package serialmux

import (
	"context"
	"log"
	"time"

	"github.com/hkevin01/wifi-radar/internal/csi/l1packets"
)

// LineSource hands out line subscriptions. SerialMux implements it.
type LineSource interface {
	Subscribe() (string, chan string)
	Unsubscribe(string)
}

// FeedCSI subscribes to mux and forwards CSI_DATA lines to feeder until
// the subscription ends or ctx is done. Firmware log lines are echoed to
// logger when it is non-nil; everything else is ignored.
func FeedCSI(ctx context.Context, mux LineSource, feeder *l1packets.Feeder, logger *log.Logger) error {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch ClassifyLine(line) {
			case LineCSI:
				if err := feeder.Feed(ctx, []byte(line), time.Time{}); err != nil {
					return err
				}
			case LineLog:
				if logger != nil {
					logger.Printf("device: %s", line)
				}
			}
		}
	}
}
