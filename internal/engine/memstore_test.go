package engine

import (
	"context"
	"sync"
	"time"

	"github.com/kocayazbey/AyazTrade-sub008/internal/store"
	"github.com/kocayazbey/AyazTrade-sub008/pkg/schema"
)

// memStore is an in-memory store.Store used by the engine tests. It mirrors
// the CAS semantics of the libSQL implementation.
type memStore struct {
	mu          sync.Mutex
	definitions map[string]*schema.WorkflowDefinition
	executions  map[string]*store.Execution
	approvals   map[string]*store.ApprovalRequest
	wakeups     map[string]*store.ScheduledWakeup
	events      []*store.Event
	seq         map[string]int64
}

func newMemStore() *memStore {
	return &memStore{
		definitions: make(map[string]*schema.WorkflowDefinition),
		executions:  make(map[string]*store.Execution),
		approvals:   make(map[string]*store.ApprovalRequest),
		wakeups:     make(map[string]*store.ScheduledWakeup),
		seq:         make(map[string]int64),
	}
}

func (m *memStore) CreateDefinition(_ context.Context, def *schema.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if def.Version <= 0 {
		def.Version = 1
	}
	cp := *def
	m.definitions[def.ID] = &cp
	return nil
}

func (m *memStore) GetDefinition(_ context.Context, id string) (*schema.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.definitions[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeDefinitionNotFound, "workflow definition %q not found", id)
	}
	cp := *def
	return &cp, nil
}

func (m *memStore) UpdateDefinition(_ context.Context, def *schema.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.definitions[def.ID]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeDefinitionNotFound, "workflow definition %q not found", def.ID)
	}
	def.Version = current.Version + 1
	cp := *def
	m.definitions[def.ID] = &cp
	return nil
}

func (m *memStore) ListDefinitions(_ context.Context, filter store.DefinitionFilter) ([]*schema.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schema.WorkflowDefinition
	for _, def := range m.definitions {
		if filter.Status != nil && def.Status != *filter.Status {
			continue
		}
		if filter.TriggerKind != "" && def.Trigger.Kind != filter.TriggerKind {
			continue
		}
		cp := *def
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) DeleteDefinition(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.definitions[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeDefinitionNotFound, "workflow definition %q not found", id)
	}
	delete(m.definitions, id)
	return nil
}

func (m *memStore) CreateExecution(_ context.Context, ex *store.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneExecution(ex)
	m.executions[ex.ID] = cp
	return nil
}

func (m *memStore) GetExecution(_ context.Context, id string) (*store.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ex, ok := m.executions[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExecutionNotFound, "execution %q not found", id)
	}
	return cloneExecution(ex), nil
}

func (m *memStore) UpdateExecution(_ context.Context, id string, update store.ExecutionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ex, ok := m.executions[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeExecutionNotFound, "execution %q not found", id)
	}
	applyUpdate(ex, update)
	return nil
}

func (m *memStore) TransitionExecution(_ context.Context, id string, expect []schema.ExecutionStatus, update store.ExecutionUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ex, ok := m.executions[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, st := range expect {
		if ex.Status == st {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	applyUpdate(ex, update)
	return true, nil
}

func applyUpdate(ex *store.Execution, update store.ExecutionUpdate) {
	if update.Status != nil {
		ex.Status = *update.Status
	}
	if update.CurrentStepID != nil {
		ex.CurrentStepID = *update.CurrentStepID
	}
	if update.Context != nil {
		ex.Context = update.Context
	}
	if update.RetryCount != nil {
		ex.RetryCount = *update.RetryCount
	}
	if update.PauseReason != nil {
		ex.PauseReason = *update.PauseReason
	}
	if update.Error != nil {
		ex.Error = *update.Error
	}
	if update.CompletedAt != nil {
		t := *update.CompletedAt
		ex.CompletedAt = &t
	}
	ex.UpdatedAt = time.Now().UTC()
}

func (m *memStore) ListExecutions(_ context.Context, filter store.ExecutionFilter) ([]*store.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Execution
	for _, ex := range m.executions {
		if filter.WorkflowID != "" && ex.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != nil && ex.Status != *filter.Status {
			continue
		}
		out = append(out, cloneExecution(ex))
	}
	return out, nil
}

func (m *memStore) ExecutionStats(_ context.Context, workflowID string) (*store.ExecutionStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &store.ExecutionStats{}
	for _, ex := range m.executions {
		if workflowID != "" && ex.WorkflowID != workflowID {
			continue
		}
		stats.Total++
		switch ex.Status {
		case schema.ExecutionStatusCompleted:
			stats.Completed++
		case schema.ExecutionStatusFailed:
			stats.Failed++
		case schema.ExecutionStatusCancelled:
			stats.Cancelled++
		case schema.ExecutionStatusRunning:
			stats.Running++
		case schema.ExecutionStatusPaused:
			stats.Paused++
		}
	}
	if terminal := stats.Completed + stats.Failed + stats.Cancelled; terminal > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(terminal)
	}
	return stats, nil
}

func (m *memStore) CreateApproval(_ context.Context, req *store.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.approvals[req.ID] = &cp
	return nil
}

func (m *memStore) GetApproval(_ context.Context, id string) (*store.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.approvals[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeApprovalNotFound, "approval request %q not found", id)
	}
	cp := *req
	return &cp, nil
}

func (m *memStore) ResolveApproval(_ context.Context, id string, status schema.ApprovalStatus, comments string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.approvals[id]
	if !ok || req.Status != schema.ApprovalStatusPending {
		return false, nil
	}
	now := time.Now().UTC()
	req.Status = status
	req.Comments = comments
	req.RespondedAt = &now
	return true, nil
}

func (m *memStore) ListApprovals(_ context.Context, filter store.ApprovalFilter) ([]*store.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.ApprovalRequest
	for _, req := range m.approvals {
		if filter.ExecutionID != "" && req.ExecutionID != filter.ExecutionID {
			continue
		}
		if filter.ApproverID != "" && req.ApproverID != filter.ApproverID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		cp := *req
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) CreateWakeup(_ context.Context, w *store.ScheduledWakeup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.wakeups[w.ID] = &cp
	return nil
}

func (m *memStore) DueWakeups(_ context.Context, now time.Time, limit int) ([]*store.ScheduledWakeup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.ScheduledWakeup
	for _, w := range m.wakeups {
		if w.WakeAt.After(now) {
			continue
		}
		cp := *w
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) DeleteWakeup(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.wakeups, id)
	return nil
}

func (m *memStore) DeleteWakeupsForExecution(_ context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, w := range m.wakeups {
		if w.ExecutionID == executionID {
			delete(m.wakeups, id)
		}
	}
	return nil
}

func (m *memStore) AppendEvent(_ context.Context, event *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[event.ExecutionID]++
	event.Sequence = m.seq[event.ExecutionID]
	event.ID = int64(len(m.events) + 1)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	cp := *event
	m.events = append(m.events, &cp)
	return nil
}

func (m *memStore) GetEvents(_ context.Context, executionID string, since int64) ([]*store.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Event
	for _, e := range m.events {
		if e.ExecutionID != executionID || e.Sequence <= since {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) Migrate(_ context.Context) error { return nil }
func (m *memStore) Close() error                    { return nil }

// eventTypes lists the event types appended for one execution, in order.
func (m *memStore) eventTypes(executionID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var types []string
	for _, e := range m.events {
		if e.ExecutionID == executionID {
			types = append(types, e.Type)
		}
	}
	return types
}

func (m *memStore) wakeupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.wakeups)
}

func cloneExecution(ex *store.Execution) *store.Execution {
	cp := *ex
	if ex.Context != nil {
		cp.Context = make(map[string]any, len(ex.Context))
		for k, v := range ex.Context {
			cp.Context[k] = v
		}
	}
	if ex.CompletedAt != nil {
		t := *ex.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
