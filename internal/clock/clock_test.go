package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitUntilPastInstantFiresImmediately(t *testing.T) {
	start := time.Now()
	got := WallClock{}.WaitUntil(context.Background(), start.Add(-time.Hour))
	assert.Equal(t, Fired, got)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitUntilFires(t *testing.T) {
	got := WallClock{}.WaitUntil(context.Background(), time.Now().Add(20*time.Millisecond))
	assert.Equal(t, Fired, got)
}

func TestWaitUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan WaitResult, 1)
	go func() {
		done <- WallClock{}.WaitUntil(ctx, time.Now().Add(time.Hour))
	}()
	cancel()
	select {
	case got := <-done:
		assert.Equal(t, Cancelled, got)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return after cancel")
	}
}
