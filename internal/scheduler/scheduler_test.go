package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerRunsTaskOnInterval(t *testing.T) {
	var runs atomic.Int64

	s := New()
	s.Register("counter", 20*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	s.Start(context.Background())
	defer s.Stop()

	// Immediate run plus at least one tick.
	assert.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	var started atomic.Int64
	release := make(chan struct{})

	s := New()
	s.Register("slow", 10*time.Millisecond, func(ctx context.Context) error {
		started.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	task := s.tasks[0]

	s.Start(context.Background())

	// While the first run blocks, direct tick attempts are rejected by the
	// running guard instead of stacking up.
	assert.Eventually(t, func() bool {
		return started.Load() == 1
	}, time.Second, 5*time.Millisecond)

	s.runOnce(context.Background(), task)
	assert.Equal(t, int64(1), started.Load())

	close(release)
	s.Stop()
}

func TestSchedulerStopCancelsTasks(t *testing.T) {
	blocked := make(chan struct{}, 1)

	s := New()
	s.Register("waiter", time.Hour, func(ctx context.Context) error {
		blocked <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	})

	s.Start(context.Background())
	<-blocked

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel the running task")
	}
}

func TestSchedulerContinuesAfterTaskError(t *testing.T) {
	var runs atomic.Int64

	s := New()
	s.Register("flaky", 15*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return assert.AnError
	})

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return runs.Load() >= 3
	}, time.Second, 10*time.Millisecond)
}
