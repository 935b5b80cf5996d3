package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateJobs inserts the expanded matrix cells for a run in one transaction.
func (s *Store) CreateJobs(ctx context.Context, runID string, jobs []*Job) error {
	if len(jobs) == 0 {
		return errors.New("no jobs to create")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create jobs tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	for _, job := range jobs {
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO jobs (
                run_id, job_id, name, runs_on, cell_json, status,
                created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID,
			job.JobID,
			job.Name,
			nullableString(job.RunsOn),
			nullableString(job.CellJSON),
			JobPending,
			timestamp,
			timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert job %q: %w", job.Name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		job.ID = id
		job.RunID = runID
		job.Status = JobPending
		job.CreatedAt = now
		job.UpdatedAt = now
	}
	return tx.Commit()
}

// GetJob fetches a job by identifier.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// JobsForRun returns all jobs for a run in creation order.
func (s *Store) JobsForRun(ctx context.Context, runID string) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("jobs for run: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, error_message = ?, log_path = ?, artifacts_json = ?,
             last_heartbeat = ?, updated_at = ?, started_at = ?, finished_at = ?
         WHERE id = ?`,
		job.Status,
		nullableString(job.ErrorMessage),
		nullableString(job.LogPath),
		nullableString(job.ArtifactsJSON),
		nullableTime(job.LastHeartbeat),
		job.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(job.StartedAt),
		nullableTime(job.FinishedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// UpdateJobHeartbeat refreshes the heartbeat timestamp on an in-flight job.
func (s *Store) UpdateJobHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("update job heartbeat: %w", err)
	}
	return nil
}

// JobStatusesForRun returns the status of every job in a run.
func (s *Store) JobStatusesForRun(ctx context.Context, runID string) ([]JobStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status FROM jobs WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("job statuses: %w", err)
	}
	defer rows.Close()

	var statuses []JobStatus
	for rows.Next() {
		var status JobStatus
		if err := rows.Scan(&status); err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, rows.Err()
}

const jobColumns = "id, run_id, job_id, name, runs_on, cell_json, status, error_message, log_path, artifacts_json, last_heartbeat, created_at, updated_at, started_at, finished_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           int64
		runID        string
		jobID        string
		name         string
		runsOn       sql.NullString
		cellJSON     sql.NullString
		statusStr    string
		errorMessage sql.NullString
		logPath      sql.NullString
		artifacts    sql.NullString
		heartbeatRaw sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&runID,
		&jobID,
		&name,
		&runsOn,
		&cellJSON,
		&statusStr,
		&errorMessage,
		&logPath,
		&artifacts,
		&heartbeatRaw,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:            id,
		RunID:         runID,
		JobID:         jobID,
		Name:          name,
		RunsOn:        runsOn.String,
		CellJSON:      cellJSON.String,
		Status:        JobStatus(statusStr),
		ErrorMessage:  errorMessage.String,
		LogPath:       logPath.String,
		ArtifactsJSON: artifacts.String,
		LastHeartbeat: timePtr(heartbeatRaw),
		StartedAt:     timePtr(startedRaw),
		FinishedAt:    timePtr(finishedRaw),
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}
