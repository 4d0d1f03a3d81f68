package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samhotchkiss/otter-relay/internal/store"
)

type countingPurger struct {
	calls   atomic.Int32
	removed int64
	err     error
	lastNow atomic.Value
}

func (p *countingPurger) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	p.calls.Add(1)
	p.lastNow.Store(now)
	return p.removed, p.err
}

func TestExpiryWorkerRunOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	purger := &countingPurger{removed: 4}
	w := NewExpiryWorker(purger, ExpiryWorkerConfig{})
	w.Now = func() time.Time { return now }

	removed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 4, removed)
	require.Equal(t, now, purger.lastNow.Load())
	require.Equal(t, defaultSweepInterval, w.Config.Schedule.Interval)
}

func TestExpiryWorkerRunOnceErrors(t *testing.T) {
	var nilWorker *ExpiryWorker
	_, err := nilWorker.RunOnce(context.Background())
	require.Error(t, err)

	boom := errors.New("db down")
	w := NewExpiryWorker(&countingPurger{err: boom}, ExpiryWorkerConfig{})
	_, err = w.RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestExpiryWorkerPurgesMemoryStore(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mem := store.NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()
	require.NoError(t, mem.SetWithTTL(ctx, "conversation:+1", []byte("a"), time.Minute))
	require.NoError(t, mem.SetWithTTL(ctx, "conversation:+2", []byte("b"), time.Hour))

	w := NewExpiryWorker(mem, ExpiryWorkerConfig{})
	w.Now = func() time.Time { return now.Add(2 * time.Minute) }

	removed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}

func TestExpiryWorkerStartStopsOnCancel(t *testing.T) {
	purger := &countingPurger{}
	w := NewExpiryWorker(purger, ExpiryWorkerConfig{Schedule: Every(5 * time.Millisecond)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return purger.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestSleepWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepWithContext(ctx, time.Hour), context.Canceled)
	require.NoError(t, sleepWithContext(context.Background(), -time.Second))
}
