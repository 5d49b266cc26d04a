package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kocayazbey/AyazTrade-sub008/internal/store"
	"github.com/kocayazbey/AyazTrade-sub008/internal/streaming"
	"github.com/kocayazbey/AyazTrade-sub008/pkg/schema"
)

// Starter starts workflow executions. Satisfied by the engine coordinator.
type Starter interface {
	Start(ctx context.Context, workflowID string, initialContext map[string]any) (*store.Execution, error)
}

const defaultTriggerTickInterval = 60 * time.Second

// TriggerScheduler starts executions for active workflows with a schedule
// trigger. Next-run times live in memory and are recomputed from the cron
// expression on startup, so runs missed while the process was down are
// skipped rather than replayed.
type TriggerScheduler struct {
	store        store.Store
	starter      Starter
	hub          streaming.EventHub
	parser       cron.Parser
	tickInterval time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	nextMu  sync.Mutex
	nextRun map[string]time.Time // workflow ID -> next due time
}

// NewTriggerScheduler creates a trigger scheduler. tickInterval <= 0 uses
// the 60s default.
func NewTriggerScheduler(s store.Store, starter Starter, hub streaming.EventHub, tickInterval time.Duration, logger *slog.Logger) *TriggerScheduler {
	if tickInterval <= 0 {
		tickInterval = defaultTriggerTickInterval
	}
	return &TriggerScheduler{
		store:        s,
		starter:      starter,
		hub:          hub,
		parser:       cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		tickInterval: tickInterval,
		logger:       logger,
		nextRun:      make(map[string]time.Time),
	}
}

// Start launches the background trigger loop.
func (s *TriggerScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("trigger scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("trigger scheduler started", "tick_interval", s.tickInterval.String())
	return nil
}

func (s *TriggerScheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts executions for every schedule-triggered workflow that is due.
func (s *TriggerScheduler) tick(ctx context.Context) {
	active := schema.DefinitionStatusActive
	defs, err := s.store.ListDefinitions(ctx, store.DefinitionFilter{
		Status:      &active,
		TriggerKind: schema.TriggerKindSchedule,
	})
	if err != nil {
		s.logger.Error("list scheduled workflows", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	seen := make(map[string]bool, len(defs))

	for _, def := range defs {
		seen[def.ID] = true
		cronExpr, _ := def.Trigger.Parameters["cron"].(string)
		if cronExpr == "" {
			s.logger.Warn("scheduled workflow missing cron parameter", "workflow_id", def.ID)
			continue
		}
		sched, err := s.parser.Parse(cronExpr)
		if err != nil {
			s.logger.Warn("invalid cron expression",
				"workflow_id", def.ID, "cron", cronExpr, "error", err)
			continue
		}

		s.nextMu.Lock()
		due, known := s.nextRun[def.ID]
		if !known {
			// First sighting: schedule forward, never replay the past.
			s.nextRun[def.ID] = sched.Next(now)
			s.nextMu.Unlock()
			continue
		}
		if due.After(now) {
			s.nextMu.Unlock()
			continue
		}
		s.nextRun[def.ID] = sched.Next(now)
		s.nextMu.Unlock()

		s.fire(ctx, def.ID, cronExpr)
	}

	// Forget workflows that were deactivated or deleted.
	s.nextMu.Lock()
	for id := range s.nextRun {
		if !seen[id] {
			delete(s.nextRun, id)
		}
	}
	s.nextMu.Unlock()
}

func (s *TriggerScheduler) fire(ctx context.Context, workflowID, cronExpr string) {
	s.logger.Info("schedule trigger fired", "workflow_id", workflowID, "cron", cronExpr)

	ex, err := s.starter.Start(ctx, workflowID, map[string]any{
		"trigger": map[string]any{"kind": string(schema.TriggerKindSchedule), "cron": cronExpr},
	})
	if err != nil {
		s.logger.Error("start scheduled execution",
			slog.String("workflow_id", workflowID),
			slog.String("error", err.Error()),
		)
		return
	}

	if s.hub != nil {
		_ = s.hub.Publish(ctx, streaming.StreamEvent{
			ExecutionID: ex.ID,
			WorkflowID:  workflowID,
			EventType:   schema.EventTriggerFired,
			Payload:     map[string]any{"cron": cronExpr},
		})
	}
}

// Stop gracefully shuts down the scheduler.
func (s *TriggerScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("trigger scheduler stopped")
	return nil
}
