package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInstaTicker(t *testing.T) {
	t.Run("ticks immediately", func(t *testing.T) {
		it := NewInstaTicker(context.Background(), time.Hour)
		defer it.Stop()

		select {
		case <-it.C:
		case <-time.After(time.Second):
			assert.Fail(t, "did not receive the initial tick")
		}
	})
	t.Run("keeps ticking", func(t *testing.T) {
		it := NewInstaTicker(context.Background(), time.Millisecond*10)
		defer it.Stop()
		for i := 0; i < 3; i++ {
			select {
			case <-it.C:
			case <-time.After(time.Second):
				assert.FailNow(t, "ticker stalled")
			}
		}
	})
	t.Run("closes when stopped", func(t *testing.T) {
		it := NewInstaTicker(context.Background(), time.Hour)
		<-it.C
		it.Stop()
		it.Stop()
		_, ok := <-it.C
		assert.False(t, ok)
	})
	t.Run("closes when context is done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		it := NewInstaTicker(ctx, time.Hour)
		cancel()
		for range it.C {
		}
	})
}
