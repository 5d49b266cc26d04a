// Package scheduler hosts the two background loops of the engine: the
// wakeup scheduler that fires durable delay/retry continuations, and the
// trigger scheduler that starts executions for cron-scheduled workflows.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kocayazbey/AyazTrade-sub008/internal/store"
)

// Waker is the continuation entry point. Satisfied by the engine
// coordinator (interface avoids an import cycle).
type Waker interface {
	Wake(ctx context.Context, wakeup *store.ScheduledWakeup) error
}

const (
	defaultWakeupPollInterval = time.Second
	wakeupBatchSize           = 100
)

// WakeupScheduler polls the store for due wakeups and fires continuations
// through the coordinator. Delivery is at-least-once: rows are deleted only
// after Wake returns, and Wake itself validates execution status.
type WakeupScheduler struct {
	store        store.Store
	waker        Waker
	pollInterval time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	nudge  chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // wakeup IDs currently firing (dedup)
}

// NewWakeupScheduler creates a wakeup scheduler. pollInterval <= 0 uses the
// default.
func NewWakeupScheduler(s store.Store, waker Waker, pollInterval time.Duration, logger *slog.Logger) *WakeupScheduler {
	if pollInterval <= 0 {
		pollInterval = defaultWakeupPollInterval
	}
	return &WakeupScheduler{
		store:        s,
		waker:        waker,
		pollInterval: pollInterval,
		logger:       logger,
		nudge:        make(chan struct{}, 1),
		inflight:     make(map[string]struct{}),
	}
}

// Start launches the background polling loop.
func (s *WakeupScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("wakeup scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("wakeup scheduler started", "poll_interval", s.pollInterval.String())
	return nil
}

// Nudge asks the scheduler to poll soon instead of waiting out the ticker.
// Called after a wakeup row is written with a near-term wake_at.
func (s *WakeupScheduler) Nudge() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

func (s *WakeupScheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		case <-s.nudge:
			s.tick(ctx)
		}
	}
}

// tick fires all due wakeups. Each wakeup is processed at most once at a
// time; the row is deleted only after a successful Wake.
func (s *WakeupScheduler) tick(ctx context.Context) {
	due, err := s.store.DueWakeups(ctx, time.Now().UTC(), wakeupBatchSize)
	if err != nil {
		s.logger.Error("list due wakeups", slog.String("error", err.Error()))
		return
	}

	for _, wakeup := range due {
		if !s.tryAcquire(wakeup.ID) {
			continue
		}
		s.fire(ctx, wakeup)
		s.release(wakeup.ID)
	}
}

func (s *WakeupScheduler) fire(ctx context.Context, wakeup *store.ScheduledWakeup) {
	if err := s.waker.Wake(ctx, wakeup); err != nil {
		s.logger.Error("fire wakeup",
			slog.String("wakeup_id", wakeup.ID),
			slog.String("execution_id", wakeup.ExecutionID),
			slog.String("error", err.Error()),
		)
		return // row stays; retried next tick
	}
	if err := s.store.DeleteWakeup(ctx, wakeup.ID); err != nil {
		s.logger.Warn("delete fired wakeup",
			slog.String("wakeup_id", wakeup.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *WakeupScheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *WakeupScheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// Stop gracefully shuts down the scheduler.
func (s *WakeupScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("wakeup scheduler stopped")
	return nil
}
