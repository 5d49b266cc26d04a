package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kocayazbey/AyazTrade-sub008/internal/store"
)

// fakeWakeupStore stubs the two store methods the wakeup scheduler touches.
type fakeWakeupStore struct {
	store.Store

	mu      sync.Mutex
	wakeups []*store.ScheduledWakeup
	dueErr  error
	deleted []string
}

func (f *fakeWakeupStore) DueWakeups(_ context.Context, now time.Time, limit int) ([]*store.ScheduledWakeup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dueErr != nil {
		return nil, f.dueErr
	}
	var out []*store.ScheduledWakeup
	for _, w := range f.wakeups {
		if !w.WakeAt.After(now) && len(out) < limit {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeWakeupStore) DeleteWakeup(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	kept := f.wakeups[:0]
	for _, w := range f.wakeups {
		if w.ID != id {
			kept = append(kept, w)
		}
	}
	f.wakeups = kept
	return nil
}

type recordingWaker struct {
	mu    sync.Mutex
	woken []string
	err   error
}

func (w *recordingWaker) Wake(_ context.Context, wakeup *store.ScheduledWakeup) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.woken = append(w.woken, wakeup.ID)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWakeupScheduler_FiresDueAndDeletes(t *testing.T) {
	now := time.Now().UTC()
	st := &fakeWakeupStore{wakeups: []*store.ScheduledWakeup{
		{ID: "w-1", ExecutionID: "ex-1", Kind: store.WakeupKindDelay, WakeAt: now.Add(-time.Second)},
		{ID: "w-2", ExecutionID: "ex-2", Kind: store.WakeupKindRetry, WakeAt: now.Add(time.Hour)},
	}}
	waker := &recordingWaker{}
	s := NewWakeupScheduler(st, waker, time.Second, discardLogger())

	s.tick(context.Background())

	assert.Equal(t, []string{"w-1"}, waker.woken)
	assert.Equal(t, []string{"w-1"}, st.deleted)
	// The future wakeup stays.
	assert.Len(t, st.wakeups, 1)
	assert.Equal(t, "w-2", st.wakeups[0].ID)
}

func TestWakeupScheduler_KeepsRowOnWakeError(t *testing.T) {
	now := time.Now().UTC()
	st := &fakeWakeupStore{wakeups: []*store.ScheduledWakeup{
		{ID: "w-1", ExecutionID: "ex-1", Kind: store.WakeupKindDelay, WakeAt: now.Add(-time.Second)},
	}}
	waker := &recordingWaker{err: errors.New("store unavailable")}
	s := NewWakeupScheduler(st, waker, time.Second, discardLogger())

	s.tick(context.Background())

	// Row survives for the next tick.
	assert.Empty(t, st.deleted)
	assert.Len(t, st.wakeups, 1)

	// Once Wake succeeds the row goes.
	waker.err = nil
	s.tick(context.Background())
	assert.Equal(t, []string{"w-1"}, waker.woken)
	assert.Equal(t, []string{"w-1"}, st.deleted)
}

func TestWakeupScheduler_ToleratesListError(t *testing.T) {
	st := &fakeWakeupStore{dueErr: errors.New("db locked")}
	s := NewWakeupScheduler(st, &recordingWaker{}, time.Second, discardLogger())

	// Must not panic; the error is logged and the tick skipped.
	s.tick(context.Background())
}

func TestWakeupScheduler_InflightDedup(t *testing.T) {
	s := NewWakeupScheduler(&fakeWakeupStore{}, &recordingWaker{}, time.Second, discardLogger())

	require.True(t, s.tryAcquire("w-1"))
	require.False(t, s.tryAcquire("w-1"))
	s.release("w-1")
	require.True(t, s.tryAcquire("w-1"))
}

func TestWakeupScheduler_StartStop(t *testing.T) {
	st := &fakeWakeupStore{}
	s := NewWakeupScheduler(st, &recordingWaker{}, 10*time.Millisecond, discardLogger())

	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Start(context.Background()), "double start must fail")
	s.Nudge()
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "stop is idempotent")
}
