package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"flywheel/internal/expr"
	"flywheel/internal/logging"
	"flywheel/internal/matrix"
	"flywheel/internal/notifications"
	"flywheel/internal/queue"
	"flywheel/internal/workflowdef"
)

func (m *Manager) processRun(ctx context.Context, run *queue.Run) {
	logger := m.logger.With(
		logging.String(logging.FieldRunID, run.ID),
		logging.String(logging.FieldWorkflow, run.Workflow))

	if run.CancelRequested {
		m.finalizeRun(ctx, logger, run, queue.RunCancelled, queue.SupersededReason, nil)
		return
	}

	def, err := m.lookupDefinition(run.Workflow)
	if err != nil {
		m.finalizeRun(ctx, logger, run, queue.RunFailed, err.Error(), nil)
		return
	}

	logger.Info("run started",
		logging.String(logging.FieldEvent, run.EventKind),
		logging.String("branch", run.Branch))
	if err := m.notifier.NotifyRunStarted(ctx, runInfo(run, nil, 0)); err != nil {
		logger.Warn("run started notification failed", logging.Error(err))
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	stopWatcher := m.watchCancellation(runCtx, run.ID, cancelRun)
	defer stopWatcher()

	jobRecords, err := m.createJobs(ctx, run, def)
	if err != nil {
		m.finalizeRun(ctx, logger, run, queue.RunFailed, fmt.Sprintf("create jobs: %v", err), nil)
		return
	}

	sem := semaphore.NewWeighted(int64(max(m.cfg.Runner.MaxParallelJobs, 1)))
	results := make(map[string]expr.Status, len(def.Jobs))

	for _, level := range def.Levels() {
		if runCtx.Err() != nil {
			break
		}
		group := new(errgroup.Group)
		levelResults := make([]expr.Status, len(level))
		for i, jobID := range level {
			i, jobID := i, jobID
			needs := needsResult(def.Jobs[jobID], results)
			group.Go(func() error {
				levelResults[i] = m.runJob(runCtx, logger, run, def, jobID, jobRecords[jobID], needs, sem)
				return nil
			})
		}
		_ = group.Wait()
		for i, jobID := range level {
			results[jobID] = levelResults[i]
		}
	}

	cancelRequested, err := m.store.CancelRequested(ctx, run.ID)
	if err != nil {
		logger.Warn("failed to read cancellation flag", logging.Error(err))
	}
	if ctx.Err() != nil && !cancelRequested {
		// Daemon shutdown: leave the run in its running state so the next
		// startup requeues it.
		logger.Info("run interrupted by shutdown; will requeue on restart")
		return
	}

	statuses, err := m.store.JobStatusesForRun(ctx, run.ID)
	if err != nil {
		m.finalizeRun(ctx, logger, run, queue.RunFailed, fmt.Sprintf("read job statuses: %v", err), nil)
		return
	}

	outcome, message, failedJobs := m.runResult(ctx, run.ID, cancelRequested, statuses)
	m.finalizeRun(ctx, logger, run, outcome, message, failedJobs)
}

// runResult folds the job statuses into a terminal run status plus the error
// message and failed-job list for notifications.
func (m *Manager) runResult(ctx context.Context, runID string, cancelRequested bool, statuses []queue.JobStatus) (queue.RunStatus, string, []string) {
	outcome := runOutcome(cancelRequested, statuses)
	switch {
	case outcome == queue.RunFailed:
		failedJobs := m.failedJobNames(ctx, runID)
		return outcome, "failed jobs: " + strings.Join(failedJobs, ", "), failedJobs
	case !outcome.Terminal():
		// Job rows left pending or running here mean a persistence fault,
		// not live work; finalizing with a non-terminal status would strand
		// the run until the heartbeat reclaimer mislabels it.
		return queue.RunFailed, "run finished with jobs in a non-terminal state", nil
	}
	return outcome, "", nil
}

// runOutcome folds job statuses into the run result. An explicit cancel
// request always wins; otherwise any failed cell fails the run even when
// fail-fast cancelled its siblings.
func runOutcome(cancelRequested bool, statuses []queue.JobStatus) queue.RunStatus {
	if cancelRequested {
		return queue.RunCancelled
	}
	for _, status := range statuses {
		if status == queue.JobFailed {
			return queue.RunFailed
		}
	}
	return queue.ReduceJobStatuses(statuses)
}

// failedJobNames lists the display names of the run's failed jobs for the
// run error message.
func (m *Manager) failedJobNames(ctx context.Context, runID string) []string {
	jobs, err := m.store.JobsForRun(ctx, runID)
	if err != nil {
		m.logger.Warn("failed to list jobs for run",
			logging.Error(err),
			logging.String(logging.FieldRunID, runID))
		return nil
	}
	var names []string
	for _, job := range jobs {
		if job.Status == queue.JobFailed {
			names = append(names, job.Name)
		}
	}
	return names
}

func (m *Manager) finalizeRun(ctx context.Context, logger *slog.Logger, run *queue.Run, status queue.RunStatus, message string, failedJobs []string) {
	now := time.Now().UTC()
	run.Status = status
	run.ErrorMessage = message
	run.FinishedAt = &now
	if err := m.store.UpdateRun(ctx, run); err != nil {
		m.setLastError(err)
		logger.Error("failed to persist run result", logging.Error(err))
		return
	}

	duration := time.Since(run.CreatedAt)
	if run.StartedAt != nil {
		duration = now.Sub(*run.StartedAt)
	}
	info := runInfo(run, failedJobs, duration)

	var notifyErr error
	switch status {
	case queue.RunSucceeded:
		logger.Info("run succeeded", logging.Duration("duration", duration))
		notifyErr = m.notifier.NotifyRunSucceeded(ctx, info)
	case queue.RunFailed:
		logger.Error("run failed",
			logging.Duration("duration", duration),
			logging.String("failed_jobs", strings.Join(failedJobs, ", ")))
		notifyErr = m.notifier.NotifyRunFailed(ctx, info)
	case queue.RunCancelled:
		logger.Info("run cancelled", logging.String("reason", message))
		notifyErr = m.notifier.NotifyRunCancelled(ctx, info, message)
	}
	if notifyErr != nil {
		logger.Warn("run notification failed", logging.Error(notifyErr))
	}
}

func runInfo(run *queue.Run, failedJobs []string, duration time.Duration) notifications.RunInfo {
	return notifications.RunInfo{
		ID:         run.ID,
		Workflow:   run.Workflow,
		Branch:     run.Branch,
		Event:      run.EventKind,
		FailedJobs: failedJobs,
		Duration:   duration,
	}
}

func (m *Manager) lookupDefinition(name string) (*workflowdef.Definition, error) {
	defs, err := workflowdef.LoadDir(m.cfg.Paths.WorkflowsDir)
	if err != nil {
		return nil, fmt.Errorf("load workflows: %w", err)
	}
	def, ok := defs[name]
	if !ok {
		return nil, fmt.Errorf("workflow %q not found in %s", name, m.cfg.Paths.WorkflowsDir)
	}
	return def, nil
}

// createJobs expands every job of the definition into matrix cells and
// persists the full set before execution starts, so a run's shape is fixed
// at admission.
func (m *Manager) createJobs(ctx context.Context, run *queue.Run, def *workflowdef.Definition) (map[string][]*queue.Job, error) {
	byJob := make(map[string][]*queue.Job, len(def.Jobs))
	var all []*queue.Job
	for _, jobID := range def.JobIDs() {
		job := def.Jobs[jobID]
		for _, cell := range expandJob(job) {
			record := &queue.Job{
				JobID:  jobID,
				Name:   cell.JobName(jobID),
				RunsOn: job.RunsOn,
				Status: queue.JobPending,
			}
			if err := record.SetCell(cell.Values); err != nil {
				return nil, err
			}
			byJob[jobID] = append(byJob[jobID], record)
			all = append(all, record)
		}
	}
	if err := m.store.CreateJobs(ctx, run.ID, all); err != nil {
		return nil, err
	}
	return byJob, nil
}

func expandJob(job *workflowdef.Job) []matrix.Cell {
	if job.Strategy == nil {
		return matrix.Expand(nil, nil)
	}
	axes := make(map[string][]string, len(job.Strategy.Matrix))
	for name, values := range job.Strategy.Matrix {
		axes[name] = values
	}
	return matrix.Expand(axes, job.Strategy.Exclude)
}

// needsResult aggregates the results of a job's dependencies. Skipped
// dependencies count as success so conditional chains keep flowing.
func needsResult(job *workflowdef.Job, results map[string]expr.Status) expr.Status {
	aggregate := expr.StatusSuccess
	for _, dep := range job.Needs {
		switch results[dep] {
		case expr.StatusFailure:
			return expr.StatusFailure
		case expr.StatusCancelled:
			aggregate = expr.StatusCancelled
		}
	}
	return aggregate
}

// runJob executes every cell of one job and returns the job's aggregate
// result for dependents.
func (m *Manager) runJob(ctx context.Context, logger *slog.Logger, run *queue.Run, def *workflowdef.Definition, jobID string, records []*queue.Job, needs expr.Status, sem *semaphore.Weighted) expr.Status {
	job := def.Jobs[jobID]
	vars := map[string]string{
		"branch":   run.Branch,
		"event":    run.EventKind,
		"workflow": run.Workflow,
	}

	status := needs
	if ctx.Err() != nil {
		status = expr.StatusCancelled
	}
	shouldRun, err := expr.Evaluate(job.If, expr.Context{Status: status, Vars: vars})
	if err != nil {
		m.markJobRecords(ctx, records, queue.JobFailed, fmt.Sprintf("evaluate condition: %v", err))
		return expr.StatusFailure
	}
	if !shouldRun {
		m.markJobRecords(ctx, records, queue.JobSkipped, "")
		logger.Debug("job skipped", logging.String(logging.FieldJob, jobID))
		return expr.StatusSuccess
	}
	if !m.labelSupported(job.RunsOn) {
		m.markJobRecords(ctx, records, queue.JobSkipped, fmt.Sprintf("no runner matches label %q", job.RunsOn))
		logger.Warn("job skipped: unsupported runner label",
			logging.String(logging.FieldJob, jobID),
			logging.String("label", job.RunsOn))
		return expr.StatusSuccess
	}

	failFast := job.Strategy.FailFastEnabled()
	group, cellCtx := errgroup.WithContext(ctx)
	if job.Strategy != nil && job.Strategy.MaxParallel > 0 {
		group.SetLimit(job.Strategy.MaxParallel)
	}

	cellStatuses := make([]queue.JobStatus, len(records))
	for i, record := range records {
		i, record := i, record
		group.Go(func() error {
			if err := sem.Acquire(cellCtx, 1); err != nil {
				cellStatuses[i] = m.markCancelledRecord(ctx, record)
				return nil
			}
			defer sem.Release(1)

			cellStatuses[i] = m.executeCell(cellCtx, run, def, job, record, needs)
			if failFast && cellStatuses[i] == queue.JobFailed {
				return fmt.Errorf("cell %s failed", record.Name)
			}
			return nil
		})
	}
	_ = group.Wait()

	aggregate := expr.StatusSuccess
	for _, status := range cellStatuses {
		switch status {
		case queue.JobFailed:
			return expr.StatusFailure
		case queue.JobCancelled:
			aggregate = expr.StatusCancelled
		}
	}
	return aggregate
}

// labelSupported reports whether this host runs jobs with the given runs_on
// label. No configured labels means the host accepts everything.
func (m *Manager) labelSupported(label string) bool {
	if label == "" || len(m.cfg.Runner.Labels) == 0 {
		return true
	}
	for _, have := range m.cfg.Runner.Labels {
		if have == label {
			return true
		}
	}
	return false
}

// markJobRecords persists a terminal job state. The write must survive the
// cancellation that produced it, so it runs on a detached context.
func (m *Manager) markJobRecords(ctx context.Context, records []*queue.Job, status queue.JobStatus, message string) {
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()
	for _, record := range records {
		record.Status = status
		record.ErrorMessage = message
		record.FinishedAt = &now
		if err := m.store.UpdateJob(ctx, record); err != nil {
			m.logger.Warn("failed to persist job state",
				logging.Error(err),
				logging.String(logging.FieldJob, record.Name))
		}
	}
}

func (m *Manager) markCancelledRecord(ctx context.Context, record *queue.Job) queue.JobStatus {
	m.markJobRecords(ctx, []*queue.Job{record}, queue.JobCancelled, "job cancelled")
	return queue.JobCancelled
}

// watchCancellation polls the store for an operator or supersession cancel
// and stops the run context when one arrives.
func (m *Manager) watchCancellation(ctx context.Context, runID string, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	interval := m.pollInterval
	if interval <= 0 {
		interval = time.Second
	}
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
				requested, err := m.store.CancelRequested(ctx, runID)
				if err != nil {
					continue
				}
				if requested {
					cancel()
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
