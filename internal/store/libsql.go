package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/kocayazbey/AyazTrade-sub008/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Workflow definitions ---

func (s *LibSQLStore) CreateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error {
	if def.Version <= 0 {
		def.Version = 1
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}
	def.UpdatedAt = def.CreatedAt
	body, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_definitions (id, name, status, trigger_kind, version, definition, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID, def.Name, string(def.Status), string(def.Trigger.Kind), def.Version,
		string(body), def.CreatedAt, def.UpdatedAt,
	)
	return err
}

func (s *LibSQLStore) GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM workflow_definitions WHERE id = ?`, id,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeDefinitionNotFound, "workflow definition %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	def := &schema.WorkflowDefinition{}
	if err := json.Unmarshal([]byte(body), def); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return def, nil
}

// UpdateDefinition replaces the stored definition content and increments the
// version counter. The caller's def.Version is overwritten with the new value.
func (s *LibSQLStore) UpdateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current int
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM workflow_definitions WHERE id = ?`, def.ID,
	).Scan(&current)
	if err == sql.ErrNoRows {
		return schema.NewErrorf(schema.ErrCodeDefinitionNotFound, "workflow definition %q not found", def.ID)
	}
	if err != nil {
		return err
	}

	def.Version = current + 1
	def.UpdatedAt = time.Now().UTC()
	body, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE workflow_definitions
		 SET name = ?, status = ?, trigger_kind = ?, version = ?, definition = ?, updated_at = ?
		 WHERE id = ?`,
		def.Name, string(def.Status), string(def.Trigger.Kind), def.Version,
		string(body), def.UpdatedAt, def.ID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *LibSQLStore) ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*schema.WorkflowDefinition, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.TriggerKind != "" {
		where = append(where, "trigger_kind = ?")
		args = append(args, string(filter.TriggerKind))
	}

	query := `SELECT definition FROM workflow_definitions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*schema.WorkflowDefinition
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		def := &schema.WorkflowDefinition{}
		if err := json.Unmarshal([]byte(body), def); err != nil {
			return nil, fmt.Errorf("unmarshal definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *LibSQLStore) DeleteDefinition(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflow_definitions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, schema.ErrCodeDefinitionNotFound, "workflow definition", id)
}

// --- Executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, ex *Execution) error {
	def, err := json.Marshal(ex.Definition)
	if err != nil {
		return fmt.Errorf("marshal bound definition: %w", err)
	}
	execCtx, err := marshalMapOrDefault(ex.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_executions
		 (id, workflow_id, bound_version, definition, status, current_step_id, context, retry_count, pause_reason, error, started_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.WorkflowID, ex.BoundVersion, string(def), string(ex.Status),
		nullStr(ex.CurrentStepID), string(execCtx), ex.RetryCount,
		nullStr(string(ex.PauseReason)), nullStr(ex.Error),
		timeOrNow(ex.StartedAt), nullTime(ex.CompletedAt), timeOrNow(ex.UpdatedAt),
	)
	return err
}

const executionColumns = `id, workflow_id, bound_version, definition, status, current_step_id, context, retry_count, pause_reason, error, started_at, completed_at, updated_at`

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions WHERE id = ?`, id)
	ex, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeExecutionNotFound, "execution %q not found", id)
	}
	return ex, err
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	sets, args, err := executionSets(update)
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE workflow_executions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, schema.ErrCodeExecutionNotFound, "execution", id)
}

func (s *LibSQLStore) TransitionExecution(ctx context.Context, id string, expect []schema.ExecutionStatus, update ExecutionUpdate) (bool, error) {
	if len(expect) == 0 {
		return false, schema.NewError(schema.ErrCodeValidation, "transition requires at least one expected status")
	}
	sets, args, err := executionSets(update)
	if err != nil {
		return false, err
	}
	if len(sets) == 0 {
		return false, schema.NewError(schema.ErrCodeValidation, "transition requires at least one field update")
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	placeholders := make([]string, len(expect))
	for i, st := range expect {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	query := fmt.Sprintf(
		"UPDATE workflow_executions SET %s WHERE id = ? AND status IN (%s)",
		strings.Join(sets, ", "), strings.Join(placeholders, ", "),
	)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func executionSets(update ExecutionUpdate) ([]string, []any, error) {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.CurrentStepID != nil {
		sets = append(sets, "current_step_id = ?")
		args = append(args, nullStr(*update.CurrentStepID))
	}
	if update.Context != nil {
		body, err := json.Marshal(update.Context)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal context: %w", err)
		}
		sets = append(sets, "context = ?")
		args = append(args, string(body))
	}
	if update.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *update.RetryCount)
	}
	if update.PauseReason != nil {
		sets = append(sets, "pause_reason = ?")
		args = append(args, nullStr(string(*update.PauseReason)))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullStr(*update.Error))
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	return sets, args, nil
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT ` + executionColumns + ` FROM workflow_executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		ex, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, ex)
	}
	return executions, rows.Err()
}

// ExecutionStats aggregates execution outcomes. Success rate is completed
// over all terminal executions; average duration covers executions with a
// recorded completion time.
func (s *LibSQLStore) ExecutionStats(ctx context.Context, workflowID string) (*ExecutionStats, error) {
	query := `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'paused' THEN 1 ELSE 0 END), 0),
		COALESCE(AVG(CASE WHEN completed_at IS NOT NULL
			THEN (julianday(completed_at) - julianday(started_at)) * 86400000.0 END), 0)
	FROM workflow_executions`
	var args []any
	if workflowID != "" {
		query += " WHERE workflow_id = ?"
		args = append(args, workflowID)
	}

	stats := &ExecutionStats{}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total, &stats.Completed, &stats.Failed, &stats.Cancelled,
		&stats.Running, &stats.Paused, &stats.AvgDurationMs,
	)
	if err != nil {
		return nil, err
	}
	if terminal := stats.Completed + stats.Failed + stats.Cancelled; terminal > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(terminal)
	}
	return stats, nil
}

// --- Approval requests ---

func (s *LibSQLStore) CreateApproval(ctx context.Context, req *ApprovalRequest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approval_requests (id, execution_id, step_id, approver_id, status, comments, requested_at, responded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.ExecutionID, req.StepID, req.ApproverID, string(req.Status),
		nullStr(req.Comments), timeOrNow(req.RequestedAt), nullTime(req.RespondedAt),
	)
	return err
}

func (s *LibSQLStore) GetApproval(ctx context.Context, id string) (*ApprovalRequest, error) {
	req := &ApprovalRequest{}
	var status string
	var comments sql.NullString
	var respondedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, execution_id, step_id, approver_id, status, comments, requested_at, responded_at
		 FROM approval_requests WHERE id = ?`, id,
	).Scan(&req.ID, &req.ExecutionID, &req.StepID, &req.ApproverID, &status, &comments, &req.RequestedAt, &respondedAt)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeApprovalNotFound, "approval request %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	req.Status = schema.ApprovalStatus(status)
	req.Comments = comments.String
	if respondedAt.Valid {
		req.RespondedAt = &respondedAt.Time
	}
	return req, nil
}

// ResolveApproval resolves a pending request exactly once. The status guard
// makes a double response a no-match, not a second mutation.
func (s *LibSQLStore) ResolveApproval(ctx context.Context, id string, status schema.ApprovalStatus, comments string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approval_requests SET status = ?, comments = ?, responded_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = 'pending'`,
		string(status), nullStr(comments), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *LibSQLStore) ListApprovals(ctx context.Context, filter ApprovalFilter) ([]*ApprovalRequest, error) {
	var where []string
	var args []any

	if filter.ExecutionID != "" {
		where = append(where, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}
	if filter.ApproverID != "" {
		where = append(where, "approver_id = ?")
		args = append(args, filter.ApproverID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT id, execution_id, step_id, approver_id, status, comments, requested_at, responded_at FROM approval_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY requested_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []*ApprovalRequest
	for rows.Next() {
		req := &ApprovalRequest{}
		var status string
		var comments sql.NullString
		var respondedAt sql.NullTime
		if err := rows.Scan(&req.ID, &req.ExecutionID, &req.StepID, &req.ApproverID,
			&status, &comments, &req.RequestedAt, &respondedAt); err != nil {
			return nil, err
		}
		req.Status = schema.ApprovalStatus(status)
		req.Comments = comments.String
		if respondedAt.Valid {
			req.RespondedAt = &respondedAt.Time
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// --- Scheduled wakeups ---

func (s *LibSQLStore) CreateWakeup(ctx context.Context, w *ScheduledWakeup) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_wakeups (id, execution_id, kind, resume_step_id, wake_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		w.ID, w.ExecutionID, string(w.Kind), nullStr(w.ResumeStepID), w.WakeAt, timeOrNow(w.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) DueWakeups(ctx context.Context, now time.Time, limit int) ([]*ScheduledWakeup, error) {
	query := `SELECT id, execution_id, kind, resume_step_id, wake_at, created_at
		 FROM scheduled_wakeups WHERE wake_at <= ? ORDER BY wake_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wakeups []*ScheduledWakeup
	for rows.Next() {
		w := &ScheduledWakeup{}
		var kind string
		var resumeStep sql.NullString
		if err := rows.Scan(&w.ID, &w.ExecutionID, &kind, &resumeStep, &w.WakeAt, &w.CreatedAt); err != nil {
			return nil, err
		}
		w.Kind = WakeupKind(kind)
		w.ResumeStepID = resumeStep.String
		wakeups = append(wakeups, w)
	}
	return wakeups, rows.Err()
}

func (s *LibSQLStore) DeleteWakeup(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_wakeups WHERE id = ?`, id)
	return err
}

func (s *LibSQLStore) DeleteWakeupsForExecution(ctx context.Context, executionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_wakeups WHERE execution_id = ?`, executionID)
	return err
}

// --- Event log ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (execution_id, workflow_id, step_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ExecutionID, nullStr(event.WorkflowID), nullStr(event.StepID),
		event.Type, nullRaw(event.Payload), timeOrNow(event.Timestamp), seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

func (s *LibSQLStore) GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, workflow_id, step_id, event_type, payload, timestamp, sequence
		 FROM events WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var workflowID, stepID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &workflowID, &stepID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.WorkflowID = workflowID.String
		e.StepID = stepID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	ex := &Execution{}
	var (
		defJSON, status            string
		currentStep, pauseReason   sql.NullString
		ctxJSON, errMsg            sql.NullString
		completedAt                sql.NullTime
	)
	if err := row.Scan(&ex.ID, &ex.WorkflowID, &ex.BoundVersion, &defJSON, &status,
		&currentStep, &ctxJSON, &ex.RetryCount, &pauseReason, &errMsg,
		&ex.StartedAt, &completedAt, &ex.UpdatedAt); err != nil {
		return nil, err
	}
	ex.Status = schema.ExecutionStatus(status)
	ex.CurrentStepID = currentStep.String
	ex.PauseReason = schema.PauseReason(pauseReason.String)
	ex.Error = errMsg.String
	if err := json.Unmarshal([]byte(defJSON), &ex.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal bound definition: %w", err)
	}
	if ctxJSON.Valid && ctxJSON.String != "" {
		if err := json.Unmarshal([]byte(ctxJSON.String), &ex.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	if completedAt.Valid {
		ex.CompletedAt = &completedAt.Time
	}
	return ex, nil
}

func checkRowsAffected(res sql.Result, code, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schema.NewErrorf(code, "%s %q not found", resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}
