package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_EnqueueRunsJobs(t *testing.T) {
	w := NewWorker(2)

	var ran atomic.Int32
	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		w.Enqueue(func(ctx context.Context) error {
			ran.Add(1)
			done <- struct{}{}
			return nil
		})
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("job did not run")
		}
	}
	w.Shutdown()

	assert.Equal(t, int32(3), ran.Load())
	stats := w.GetStats()
	assert.Equal(t, int64(3), stats.CompletedJobs)
	assert.Equal(t, int64(0), stats.FailedJobs)
}

func TestWorker_AsyncFailuresAndPanicsAreCounted(t *testing.T) {
	w := NewWorker(1)

	w.EnqueueAsync(func(ctx context.Context) error { return errors.New("smtp down") })
	w.EnqueueAsync(func(ctx context.Context) error { panic("boom") })
	w.Shutdown()

	stats := w.GetStats()
	assert.Equal(t, int64(2), stats.CompletedJobs)
	assert.Equal(t, int64(2), stats.FailedJobs)
	assert.Equal(t, 0, stats.ActiveJobs)
}

func TestWorker_ScheduleEveryImmediateRunsAtStart(t *testing.T) {
	w := NewWorker(1)

	ran := make(chan struct{}, 1)
	w.ScheduleEveryImmediate("expire-sweep", time.Hour, func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled job did not run immediately")
	}
	w.Shutdown()

	stats := w.GetStats()
	require.Len(t, stats.Schedules, 1)
	assert.Equal(t, "expire-sweep", stats.Schedules[0].Name)
	assert.Equal(t, int64(1), stats.Schedules[0].Runs)
	assert.NotNil(t, stats.Schedules[0].LastRunAt)
}

func TestWorker_EnqueueAfterShutdownIsDropped(t *testing.T) {
	w := NewWorker(1)
	w.Shutdown()

	assert.NotPanics(t, func() {
		w.Enqueue(func(ctx context.Context) error { return nil })
		w.EnqueueAsync(func(ctx context.Context) error { return nil })
	})
	w.Shutdown()
}
