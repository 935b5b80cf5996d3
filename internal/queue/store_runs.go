package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewRun describes a run to admit into the queue.
type NewRun struct {
	Workflow         string
	EventKind        string
	Branch           string
	Commit           string
	Actor            string
	ConcurrencyGroup string
	CancelInProgress bool
}

// CreateRun inserts a pending run. When the workflow declares
// cancel_in_progress, every pending or running run in the same concurrency
// group and branch is flagged for cancellation in the same transaction, so
// admission and supersession are atomic.
func (s *Store) CreateRun(ctx context.Context, req NewRun) (*Run, error) {
	workflow := strings.TrimSpace(req.Workflow)
	if workflow == "" {
		return nil, errors.New("workflow name is required")
	}
	if strings.TrimSpace(req.EventKind) == "" {
		return nil, errors.New("event kind is required")
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create run tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if req.CancelInProgress && strings.TrimSpace(req.ConcurrencyGroup) != "" {
		// An empty branch is stored as NULL, so the match has to treat NULL
		// and "" as the same ref or branchless dispatches never supersede.
		_, err = tx.ExecContext(
			ctx,
			`UPDATE runs SET cancel_requested = 1, updated_at = ?
             WHERE concurrency_grp = ?
               AND (branch = ?3 OR (branch IS NULL AND ?3 = ''))
               AND status IN (?, ?)`,
			timestamp,
			req.ConcurrencyGroup,
			req.Branch,
			RunPending,
			RunRunning,
		)
		if err != nil {
			return nil, fmt.Errorf("flag superseded runs: %w", err)
		}
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO runs (
            id, workflow, event_kind, branch, commit_sha, actor,
            concurrency_grp, cancel_in_progress, status, cancel_requested,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id,
		workflow,
		req.EventKind,
		nullableString(req.Branch),
		nullableString(req.Commit),
		nullableString(req.Actor),
		nullableString(req.ConcurrencyGroup),
		boolToInt(req.CancelInProgress),
		RunPending,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create run: %w", err)
	}
	return s.GetRun(ctx, id)
}

// GetRun fetches a run by identifier.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// UpdateRun persists changes to an existing run.
func (s *Store) UpdateRun(ctx context.Context, run *Run) error {
	if run == nil {
		return errors.New("run is nil")
	}
	run.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE runs
         SET status = ?, cancel_requested = ?, error_message = ?,
             updated_at = ?, started_at = ?, finished_at = ?
         WHERE id = ?`,
		run.Status,
		boolToInt(run.CancelRequested),
		nullableString(run.ErrorMessage),
		run.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(run.StartedAt),
		nullableTime(run.FinishedAt),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// NextPendingRun claims the oldest pending run by moving it to running.
// Returns nil when the queue is idle.
func (s *Store) NextPendingRun(ctx context.Context) (*Run, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(
		ctx,
		`SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY created_at LIMIT 1`,
		RunPending,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next pending run: %w", err)
	}

	now := time.Now().UTC()
	run.Status = RunRunning
	run.StartedAt = &now
	run.UpdatedAt = now
	_, err = tx.ExecContext(
		ctx,
		`UPDATE runs SET status = ?, started_at = ?, updated_at = ? WHERE id = ?`,
		RunRunning,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		run.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("claim run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return run, nil
}

// ListRuns returns runs filtered by status set (or all runs when no status
// is provided), newest first.
func (s *Store) ListRuns(ctx context.Context, statuses ...RunStatus) ([]*Run, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + runColumns + ` FROM runs`
	orderClause := ` ORDER BY created_at DESC`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RequestCancel flags a pending or running run for cancellation. Pending
// runs transition to cancelled immediately; running runs are stopped by the
// runner when it observes the flag.
func (s *Store) RequestCancel(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE runs SET status = ?, cancel_requested = 1, finished_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		RunCancelled,
		now,
		now,
		id,
		RunPending,
	)
	if err != nil {
		return false, fmt.Errorf("cancel pending run: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected > 0 {
		return true, nil
	}

	res, err = s.db.ExecContext(
		ctx,
		`UPDATE runs SET cancel_requested = 1, updated_at = ? WHERE id = ? AND status = ?`,
		now,
		id,
		RunRunning,
	)
	if err != nil {
		return false, fmt.Errorf("request run cancel: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// CancelRequested reports whether cancellation has been requested for a run.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	var flag int
	err := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM runs WHERE id = ?`, id).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query cancel flag: %w", err)
	}
	return flag != 0, nil
}

// RetryRun moves a failed or cancelled run back to pending and discards its
// previous job records so the next attempt starts clean.
func (s *Store) RetryRun(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin retry tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := tx.ExecContext(
		ctx,
		`UPDATE runs
         SET status = ?, cancel_requested = 0, error_message = NULL,
             started_at = NULL, finished_at = NULL, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		RunPending,
		now,
		id,
		RunFailed,
		RunCancelled,
	)
	if err != nil {
		return false, fmt.Errorf("retry run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE run_id = ?`, id); err != nil {
		return false, fmt.Errorf("clear previous jobs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit retry: %w", err)
	}
	return true, nil
}

// Stats returns a count of runs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[RunStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[RunStatus]int)
	for rows.Next() {
		var status RunStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates run state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case RunPending:
			health.Pending += count
		case RunRunning:
			health.Running += count
		case RunSucceeded:
			health.Succeeded += count
		case RunFailed:
			health.Failed += count
		case RunCancelled:
			health.Cancelled += count
		}
	}
	return health, nil
}

const runColumns = "id, workflow, event_kind, branch, commit_sha, actor, concurrency_grp, cancel_in_progress, status, cancel_requested, error_message, created_at, updated_at, started_at, finished_at"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		id           string
		workflow     string
		eventKind    string
		branch       sql.NullString
		commit       sql.NullString
		actor        sql.NullString
		group        sql.NullString
		cancelInProg sql.NullInt64
		statusStr    string
		cancelReq    sql.NullInt64
		errorMessage sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&workflow,
		&eventKind,
		&branch,
		&commit,
		&actor,
		&group,
		&cancelInProg,
		&statusStr,
		&cancelReq,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}

	run := &Run{
		ID:               id,
		Workflow:         workflow,
		EventKind:        eventKind,
		Branch:           branch.String,
		Commit:           commit.String,
		Actor:            actor.String,
		ConcurrencyGroup: group.String,
		CancelInProgress: cancelInProg.Valid && cancelInProg.Int64 != 0,
		Status:           RunStatus(statusStr),
		CancelRequested:  cancelReq.Valid && cancelReq.Int64 != 0,
		ErrorMessage:     errorMessage.String,
		StartedAt:        timePtr(startedRaw),
		FinishedAt:       timePtr(finishedRaw),
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		run.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		run.UpdatedAt = updated
	}
	return run, nil
}
