package api

import (
	"flywheel/internal/queue"
	"flywheel/internal/runner"
)

// FromRun converts a queue record to its API representation.
func FromRun(run *queue.Run) Run {
	if run == nil {
		return Run{}
	}
	dto := Run{
		ID:               run.ID,
		Workflow:         run.Workflow,
		Event:            run.EventKind,
		Branch:           run.Branch,
		Commit:           run.Commit,
		Actor:            run.Actor,
		ConcurrencyGroup: run.ConcurrencyGroup,
		Status:           string(run.Status),
		CancelRequested:  run.CancelRequested,
		ErrorMessage:     run.ErrorMessage,
	}
	if !run.CreatedAt.IsZero() {
		dto.CreatedAt = run.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if run.StartedAt != nil {
		dto.StartedAt = run.StartedAt.UTC().Format(dateTimeFormat)
	}
	if run.FinishedAt != nil {
		dto.FinishedAt = run.FinishedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromRuns converts a slice of queue records into API DTOs.
func FromRuns(runs []*queue.Run) []Run {
	if len(runs) == 0 {
		return nil
	}
	out := make([]Run, 0, len(runs))
	for _, run := range runs {
		out = append(out, FromRun(run))
	}
	return out
}

// FromJob converts a job record to its API representation.
func FromJob(job *queue.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:           job.ID,
		JobID:        job.JobID,
		Name:         job.Name,
		RunsOn:       job.RunsOn,
		Status:       string(job.Status),
		ErrorMessage: job.ErrorMessage,
		LogPath:      job.LogPath,
	}
	if cell, err := job.Cell(); err == nil && len(cell) > 0 {
		dto.Matrix = cell
	}
	if artifacts, err := job.Artifacts(); err == nil {
		dto.Artifacts = artifacts
	}
	if job.StartedAt != nil {
		dto.StartedAt = job.StartedAt.UTC().Format(dateTimeFormat)
	}
	if job.FinishedAt != nil {
		dto.FinishedAt = job.FinishedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromJobs converts a slice of job records into API DTOs.
func FromJobs(jobs []*queue.Job) []Job {
	if len(jobs) == 0 {
		return nil
	}
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromStatusSummary converts a runner status summary to its API payload.
func FromStatusSummary(summary runner.StatusSummary) RunnerStatus {
	status := RunnerStatus{
		Running:   summary.Running,
		LastError: summary.LastError,
	}
	if summary.ActiveRun != nil {
		active := FromRun(summary.ActiveRun)
		status.ActiveRun = &active
	}
	if len(summary.QueueStats) > 0 {
		status.QueueStats = make(map[string]int, len(summary.QueueStats))
		for key, count := range summary.QueueStats {
			status.QueueStats[string(key)] = count
		}
	}
	return status
}

// FromDatabaseHealth converts store diagnostics to the API payload.
func FromDatabaseHealth(health queue.DatabaseHealth) DatabaseHealth {
	return DatabaseHealth{
		DBPath:           health.DBPath,
		DatabaseExists:   health.DatabaseExists,
		DatabaseReadable: health.DatabaseReadable,
		TablesPresent:    health.TablesPresent,
		MissingTables:    health.MissingTables,
		TotalRuns:        health.TotalRuns,
		IntegrityCheck:   health.IntegrityCheck,
		Error:            health.Error,
	}
}
