package metrics

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingReporter struct {
	calls int64
}

func (c *countingReporter) PrintStatus() {
	atomic.AddInt64(&c.calls, 1)
}

func TestRunReportsOnEveryTickUntilCancelled(t *testing.T) {
	target := &countingReporter{}
	reporter := NewReporter(target).WithInterval(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	reporter.Run(ctx)

	assert.GreaterOrEqual(t, atomic.LoadInt64(&target.calls), int64(2))
}

func TestRunStopsImmediatelyOnAlreadyCancelledContext(t *testing.T) {
	target := &countingReporter{}
	reporter := NewReporter(target).WithInterval(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		reporter.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
