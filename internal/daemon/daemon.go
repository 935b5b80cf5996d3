package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"flywheel/internal/config"
	"flywheel/internal/logging"
	"flywheel/internal/queue"
	"flywheel/internal/runner"
	"flywheel/internal/trigger"
	"flywheel/internal/workflowdef"
)

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *queue.Store
	runner    *runner.Manager
	scheduler *trigger.Scheduler
	apiSrv    *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Runner       runner.StatusSummary
	RunDBPath    string
	LockFilePath string
	Workflows    []string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, mgr *runner.Manager) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || mgr == nil {
		return nil, errors.New("daemon requires config, store, logger, and runner manager")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "flywheeld.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		runner:   mgr,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.scheduler = trigger.NewScheduler(logger, "", func(workflow string, event trigger.Event) {
		if _, err := d.HandleEvent(context.Background(), event); err != nil {
			logger.Warn("scheduled run admission failed",
				logging.Error(err),
				logging.String(logging.FieldWorkflow, workflow))
		}
	})

	srv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.apiSrv = srv
	return d, nil
}

// Start acquires the daemon lock and launches the runner, scheduler, and API
// server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another flywheel daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.runner.Start(d.ctx); err != nil {
		d.releaseStart()
		return fmt.Errorf("start runner: %w", err)
	}

	if err := d.reloadSchedules(); err != nil {
		d.runner.Stop()
		d.releaseStart()
		return fmt.Errorf("register schedules: %w", err)
	}
	d.scheduler.Start()

	if d.apiSrv != nil {
		if err := d.apiSrv.start(d.ctx); err != nil {
			d.scheduler.Stop()
			d.runner.Stop()
			d.releaseStart()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("flywheel daemon started", logging.String("lock", d.lockPath))
	return nil
}

func (d *Daemon) releaseStart() {
	_ = d.lock.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	d.ctx = nil
	d.cancel = nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.scheduler.Stop()
	d.runner.Stop()
	if d.apiSrv != nil {
		d.apiSrv.stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("flywheel daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether the daemon services are active.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Store exposes the run store for control surfaces.
func (d *Daemon) Store() *queue.Store {
	return d.store
}

// APIAddr reports the bound HTTP API address, empty when the API is
// disabled.
func (d *Daemon) APIAddr() string {
	return d.apiSrv.Addr()
}

// Status returns daemon runtime information.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Runner:       d.runner.Status(ctx),
		RunDBPath:    d.store.Path(),
		LockFilePath: d.lockPath,
	}
	if defs, err := workflowdef.LoadDir(d.cfg.Paths.WorkflowsDir); err == nil {
		for name := range defs {
			status.Workflows = append(status.Workflows, name)
		}
		sort.Strings(status.Workflows)
	}
	return status
}

// HandleEvent admits one run per workflow whose triggers match the event.
func (d *Daemon) HandleEvent(ctx context.Context, event trigger.Event) ([]*queue.Run, error) {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	defs, err := workflowdef.LoadDir(d.cfg.Paths.WorkflowsDir)
	if err != nil {
		return nil, fmt.Errorf("load workflows: %w", err)
	}

	var admitted []*queue.Run
	for _, name := range trigger.Select(defs, event) {
		def := defs[name]
		req := queue.NewRun{
			Workflow:  name,
			EventKind: string(event.Kind),
			Branch:    event.Branch,
			Commit:    event.Commit,
			Actor:     event.Actor,
		}
		if def.Concurrency != nil {
			req.ConcurrencyGroup = def.Concurrency.Group
			req.CancelInProgress = def.Concurrency.CancelInProgress
		}
		run, err := d.store.CreateRun(ctx, req)
		if err != nil {
			return admitted, fmt.Errorf("admit run for %s: %w", name, err)
		}
		d.logger.Info("run admitted",
			logging.String(logging.FieldRunID, run.ID),
			logging.String(logging.FieldWorkflow, name),
			logging.String(logging.FieldEvent, string(event.Kind)),
			logging.String("branch", event.Branch))
		admitted = append(admitted, run)
	}
	return admitted, nil
}

// Dispatch starts a workflow manually. The workflow must declare a
// workflow_dispatch trigger.
func (d *Daemon) Dispatch(ctx context.Context, workflow, branch, commit, actor string) (*queue.Run, error) {
	defs, err := workflowdef.LoadDir(d.cfg.Paths.WorkflowsDir)
	if err != nil {
		return nil, fmt.Errorf("load workflows: %w", err)
	}
	def, ok := defs[workflow]
	if !ok {
		return nil, fmt.Errorf("workflow %q not found", workflow)
	}
	if !def.On.WorkflowDispatch {
		return nil, fmt.Errorf("workflow %q does not allow manual dispatch", workflow)
	}
	if actor == "" {
		actor = "manual"
	}

	runs, err := d.HandleEvent(ctx, trigger.Event{
		Kind:     trigger.KindDispatch,
		Branch:   branch,
		Commit:   commit,
		Actor:    actor,
		Workflow: workflow,
	})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("workflow %q did not admit a run", workflow)
	}
	return runs[0], nil
}

// ReloadWorkflows re-reads the workflows directory and refreshes cron
// schedules.
func (d *Daemon) ReloadWorkflows() error {
	return d.reloadSchedules()
}

func (d *Daemon) reloadSchedules() error {
	defs, err := workflowdef.LoadDir(d.cfg.Paths.WorkflowsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return d.scheduler.Update(nil)
		}
		return err
	}
	return d.scheduler.Update(defs)
}
