package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"flywheel/internal/coverage"
	"flywheel/internal/executor"
	"flywheel/internal/expr"
	"flywheel/internal/logging"
	"flywheel/internal/queue"
	"flywheel/internal/textutil"
	"flywheel/internal/workflowdef"
)

// executeCell runs one matrix cell: it prepares the workspace and log file,
// keeps the heartbeat fresh while steps execute, collects artifacts, and
// persists the final job state.
func (m *Manager) executeCell(ctx context.Context, run *queue.Run, def *workflowdef.Definition, job *workflowdef.Job, record *queue.Job, needs expr.Status) queue.JobStatus {
	logger := m.logger.With(
		logging.String(logging.FieldRunID, run.ID),
		logging.String(logging.FieldJob, record.Name))

	workDir := filepath.Join(m.cfg.Paths.WorkspaceDir, run.ID, textutil.PathSegment(record.Name))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return m.failCell(ctx, logger, record, fmt.Sprintf("create workspace: %v", err))
	}
	logDir := filepath.Join(m.cfg.Paths.LogDir, "runs", run.ID)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return m.failCell(ctx, logger, record, fmt.Sprintf("create log dir: %v", err))
	}
	record.LogPath = filepath.Join(logDir, textutil.PathSegment(record.Name)+".log")

	now := time.Now().UTC()
	record.Status = queue.JobRunning
	record.StartedAt = &now
	record.LastHeartbeat = &now
	if err := m.store.UpdateJob(ctx, record); err != nil {
		return m.failCell(ctx, logger, record, fmt.Sprintf("persist job start: %v", err))
	}
	stopHeartbeat := m.startHeartbeat(ctx, record.ID)
	defer stopHeartbeat()

	timeout := time.Duration(m.cfg.Runner.DefaultJobTimeoutMin) * time.Minute
	if job.TimeoutMinutes > 0 {
		timeout = time.Duration(job.TimeoutMinutes) * time.Minute
	}
	jobCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cell, err := record.Cell()
	if err != nil {
		return m.failCell(ctx, logger, record, fmt.Sprintf("decode matrix cell: %v", err))
	}

	result, err := m.exec.Run(jobCtx, executor.Request{
		RunID:       run.ID,
		Workflow:    run.Workflow,
		Branch:      run.Branch,
		Event:       run.EventKind,
		JobID:       record.JobID,
		JobName:     record.Name,
		Cell:        cell,
		NeedsResult: needs,
		WorkflowEnv: def.Env,
		JobEnv:      job.Env,
		Steps:       job.Steps,
		WorkDir:     workDir,
		LogPath:     record.LogPath,
		StepTimeout: time.Duration(m.cfg.Runner.DefaultStepTimeoutMin) * time.Minute,
		Secrets:     m.secrets,
	})
	if err != nil {
		return m.failCell(ctx, logger, record, fmt.Sprintf("run steps: %v", err))
	}
	if result.Status == queue.JobFailed && jobCtx.Err() == context.DeadlineExceeded {
		result.ErrorMessage = fmt.Sprintf("job timed out after %s", timeout)
	}
	if result.Status == queue.JobCancelled && jobCtx.Err() == context.DeadlineExceeded {
		// A deadline on the job context surfaces as cancellation inside the
		// executor; report it as the timeout it is.
		result.Status = queue.JobFailed
		result.ErrorMessage = fmt.Sprintf("job timed out after %s", timeout)
	}

	record.Status = result.Status
	record.ErrorMessage = result.ErrorMessage

	// Artifacts are collected even for failed jobs so coverage from a red
	// test run still reaches the service.
	m.collectArtifacts(ctx, logger, run, job, record, workDir)

	finished := time.Now().UTC()
	record.FinishedAt = &finished
	// The cell context is already cancelled on the fail-fast and cancel
	// paths; the result write must still land.
	if err := m.store.UpdateJob(context.WithoutCancel(ctx), record); err != nil {
		logger.Warn("failed to persist job result", logging.Error(err))
	}

	switch record.Status {
	case queue.JobSucceeded:
		logger.Info("job succeeded")
	case queue.JobCancelled:
		logger.Info("job cancelled")
	default:
		logger.Error("job failed",
			logging.String("step", result.FailedStep),
			logging.String("reason", result.ErrorMessage))
	}
	return record.Status
}

// collectArtifacts gathers declared step artifacts and pushes coverage
// reports. Coverage upload failures only fail the job when configured to.
func (m *Manager) collectArtifacts(ctx context.Context, logger *slog.Logger, run *queue.Run, job *workflowdef.Job, record *queue.Job, workDir string) {
	var patterns []string
	for _, step := range job.Steps {
		patterns = append(patterns, step.Artifacts...)
	}
	if len(patterns) == 0 {
		return
	}

	collected, err := m.collector.Collect(run.ID, record.Name, workDir, patterns)
	if err != nil {
		logger.Warn("artifact collection failed", logging.Error(err))
	}
	if len(collected) == 0 {
		return
	}
	if err := record.SetArtifacts(collected); err != nil {
		logger.Warn("failed to record artifacts", logging.Error(err))
	}

	if m.coverage == nil {
		return
	}
	report := coverage.Report{
		Workflow: run.Workflow,
		RunID:    run.ID,
		Job:      record.Name,
		Branch:   run.Branch,
		Commit:   run.Commit,
	}
	if err := m.coverage.UploadArtifacts(ctx, report, collected); err != nil {
		logger.Warn("coverage upload failed", logging.Error(err))
		info := runInfo(run, nil, 0)
		if notifyErr := m.notifier.NotifyCoverageUploadFailed(ctx, info, err); notifyErr != nil {
			logger.Warn("coverage notification failed", logging.Error(notifyErr))
		}
		if m.cfg.Coverage.FailOnError && record.Status != queue.JobFailed {
			record.Status = queue.JobFailed
			record.ErrorMessage = fmt.Sprintf("coverage upload: %v", err)
		}
	}
}

func (m *Manager) failCell(ctx context.Context, logger *slog.Logger, record *queue.Job, message string) queue.JobStatus {
	logger.Error("job failed", logging.String("reason", message))
	m.markJobRecords(ctx, []*queue.Job{record}, queue.JobFailed, message)
	return queue.JobFailed
}

// startHeartbeat refreshes the job's heartbeat until stopped.
func (m *Manager) startHeartbeat(ctx context.Context, jobID int64) func() {
	interval := m.heartbeatInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := m.store.UpdateJobHeartbeat(ctx, jobID); err != nil {
					m.logger.Warn("heartbeat update failed", logging.Error(err))
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
