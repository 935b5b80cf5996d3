package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"time"

	"flywheel/internal/expr"
	"flywheel/internal/logging"
	"flywheel/internal/queue"
	"flywheel/internal/secrets"
	"flywheel/internal/textutil"
	"flywheel/internal/workflowdef"
)

// EnvPrefix is the prefix of the environment variables the executor injects
// into every step.
const EnvPrefix = "FLYWHEEL_"

// Request describes one job execution: the steps to run, where to run them,
// and the identity values exposed to the step environment and conditions.
type Request struct {
	RunID    string
	Workflow string
	Branch   string
	Event    string
	JobID    string
	JobName  string

	// Cell holds the matrix values selecting this job instance; each value
	// is exported as FLYWHEEL_MATRIX_<AXIS>.
	Cell map[string]string

	// NeedsResult is the aggregate status of the job's dependencies,
	// exported as FLYWHEEL_NEEDS_RESULT.
	NeedsResult expr.Status

	WorkflowEnv map[string]string
	JobEnv      map[string]string
	Steps       []workflowdef.Step

	WorkDir string
	LogPath string

	// StepTimeout applies to steps that do not declare their own
	// timeout_minutes. Zero means no per-step limit beyond the job context.
	StepTimeout time.Duration

	Secrets *secrets.Store
}

// Result is the outcome of running a job's steps.
type Result struct {
	Status       queue.JobStatus
	FailedStep   string
	ErrorMessage string
}

// Executor runs job steps through a shell.
type Executor struct {
	shell          string
	logger         *slog.Logger
	commandContext func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// New returns an executor that runs steps via the given shell.
func New(shell string, logger *slog.Logger) *Executor {
	if shell == "" {
		shell = "/bin/sh"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{shell: shell, logger: logger, commandContext: exec.CommandContext}
}

// Run executes the request's steps in order. It never returns an error for a
// failing step; failures are reported through the result so the caller can
// apply fail-fast and notification policy.
func (e *Executor) Run(ctx context.Context, req Request) (Result, error) {
	if req.Secrets == nil {
		req.Secrets = secrets.Empty()
	}
	logFile, err := openLog(req.LogPath)
	if err != nil {
		return Result{}, err
	}
	defer logFile.Close()

	logger := e.logger.With(
		logging.String(logging.FieldRunID, req.RunID),
		logging.String(logging.FieldJob, req.JobName),
	)

	vars := map[string]string{
		"branch":   req.Branch,
		"event":    req.Event,
		"workflow": req.Workflow,
	}

	result := Result{Status: queue.JobSucceeded}
	state := expr.StatusSuccess
	for i, step := range req.Steps {
		label := stepLabel(i, step)

		if ctx.Err() != nil {
			state = expr.StatusCancelled
		}
		run, err := expr.Evaluate(step.If, expr.Context{Status: state, Vars: vars})
		if err != nil {
			writeStepHeader(logFile, label, "condition error")
			fmt.Fprintf(logFile, "%v\n", err)
			return failed(result, label, fmt.Sprintf("evaluate condition: %v", err)), nil
		}
		if !run {
			writeStepHeader(logFile, label, "skipped")
			logger.Debug("step skipped", logging.String("step", label))
			continue
		}

		writeStepHeader(logFile, label, "started")
		stepErr := e.runStep(ctx, req, step, logFile)
		switch {
		case stepErr == nil:
			writeStepHeader(logFile, label, "succeeded")
		case errors.Is(stepErr, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
			writeStepHeader(logFile, label, "cancelled")
			result.Status = queue.JobCancelled
			result.FailedStep = label
			result.ErrorMessage = "job cancelled"
			return result, nil
		case step.ContinueOnError:
			writeStepHeader(logFile, label, "failed (continue_on_error)")
			logger.Warn("step failed but the job continues",
				logging.String("step", label),
				logging.Error(stepErr))
		default:
			writeStepHeader(logFile, label, "failed")
			logger.Error("step failed",
				logging.String("step", label),
				logging.Error(stepErr))
			state = expr.StatusFailure
			result = failed(result, label, stepErr.Error())
		}
	}
	return result, nil
}

// runStep executes one shell command with the step's merged environment and
// timeout.
func (e *Executor) runStep(ctx context.Context, req Request, step workflowdef.Step, output io.Writer) error {
	env, err := e.stepEnv(req, step)
	if err != nil {
		return err
	}

	timeout := req.StepTimeout
	if step.TimeoutMinutes > 0 {
		timeout = time.Duration(step.TimeoutMinutes) * time.Minute
	}
	stepCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	script, err := req.Secrets.Resolve(step.Run)
	if err != nil {
		return err
	}

	cmd := e.commandContext(stepCtx, e.shell, "-c", script) //nolint:gosec
	cmd.Dir = req.WorkDir
	cmd.Env = env
	cmd.Stdout = output
	cmd.Stderr = output

	runErr := cmd.Run()
	if runErr == nil {
		return nil
	}
	if stepCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("step timed out after %s", timeout)
	}
	if ctx.Err() == context.Canceled {
		return context.Canceled
	}
	return runErr
}

// stepEnv merges the inherited environment with workflow, job, and step env
// blocks (later layers win), resolves secret references in the declared
// values, and appends the injected run identity variables.
func (e *Executor) stepEnv(req Request, step workflowdef.Step) ([]string, error) {
	merged := make(map[string]string)
	for _, layer := range []map[string]string{req.WorkflowEnv, req.JobEnv, step.Env} {
		for k, v := range layer {
			merged[k] = v
		}
	}
	resolved, err := req.Secrets.ResolveMap(merged)
	if err != nil {
		return nil, err
	}

	env := os.Environ()
	keys := make([]string, 0, len(resolved))
	for k := range resolved {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+resolved[k])
	}

	env = append(env,
		EnvPrefix+"RUN_ID="+req.RunID,
		EnvPrefix+"WORKFLOW="+req.Workflow,
		EnvPrefix+"BRANCH="+req.Branch,
		EnvPrefix+"EVENT="+req.Event,
		EnvPrefix+"JOB="+req.JobID,
		EnvPrefix+"NEEDS_RESULT="+string(req.NeedsResult),
	)
	axes := make([]string, 0, len(req.Cell))
	for axis := range req.Cell {
		axes = append(axes, axis)
	}
	sort.Strings(axes)
	for _, axis := range axes {
		env = append(env, EnvPrefix+"MATRIX_"+textutil.EnvToken(axis)+"="+req.Cell[axis])
	}
	return env, nil
}

func stepLabel(index int, step workflowdef.Step) string {
	if step.Name != "" {
		return step.Name
	}
	return fmt.Sprintf("step %d", index+1)
}

func failed(result Result, step, message string) Result {
	if result.Status == queue.JobFailed {
		return result
	}
	result.Status = queue.JobFailed
	result.FailedStep = step
	result.ErrorMessage = message
	return result
}

func openLog(path string) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open job log: %w", err)
	}
	return file, nil
}

func writeStepHeader(w io.Writer, label, status string) {
	fmt.Fprintf(w, "=== %s [%s] %s\n", time.Now().UTC().Format(time.RFC3339), label, status)
}
