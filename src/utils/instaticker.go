package utils

import (
	"context"
	"time"
)

// An equivalent to [time.Ticker] that also ticks immediately upon creation,
// and stops on its own when ctx is done. C is closed once the ticker stops.
type InstaTicker struct {
	C <-chan time.Time

	cancel context.CancelFunc
}

func NewInstaTicker(ctx context.Context, d time.Duration) *InstaTicker {
	ctx, cancel := context.WithCancel(ctx)
	c := make(chan time.Time)
	go func() {
		defer close(c)

		ticker := time.NewTicker(d)
		defer ticker.Stop()

		next := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case c <- next:
			}

			select {
			case <-ctx.Done():
				return
			case next = <-ticker.C:
			}
		}
	}()
	return &InstaTicker{
		C:      c,
		cancel: cancel,
	}
}

// Stops the ticker. Safe to call more than once.
func (it *InstaTicker) Stop() {
	it.cancel()
}
