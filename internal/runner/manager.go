package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"flywheel/internal/artifacts"
	"flywheel/internal/config"
	"flywheel/internal/coverage"
	"flywheel/internal/executor"
	"flywheel/internal/logging"
	"flywheel/internal/notifications"
	"flywheel/internal/queue"
	"flywheel/internal/secrets"
)

// Manager coordinates run processing against the queue store.
type Manager struct {
	cfg       *config.Config
	store     *queue.Store
	logger    *slog.Logger
	notifier  notifications.Service
	secrets   *secrets.Store
	exec      *executor.Executor
	collector *artifacts.Collector
	coverage  *coverage.Client

	pollInterval      time.Duration
	errorRetry        time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastErr   error
	activeRun *queue.Run
}

// NewManager constructs a manager with notification and coverage services
// derived from the configuration.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger, secretStore *secrets.Store) *Manager {
	return NewManagerWithNotifier(cfg, store, logger, secretStore, notifications.NewService(cfg, secretStore))
}

// NewManagerWithNotifier constructs a manager with a custom notifier (used in
// tests).
func NewManagerWithNotifier(cfg *config.Config, store *queue.Store, logger *slog.Logger, secretStore *secrets.Store, notifier notifications.Service) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	if secretStore == nil {
		secretStore = secrets.Empty()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg, secretStore)
	}
	return &Manager{
		cfg:               cfg,
		store:             store,
		logger:            logger,
		notifier:          notifier,
		secrets:           secretStore,
		exec:              executor.New(cfg.Runner.Shell, logger),
		collector:         artifacts.NewCollector(cfg.Paths.ArtifactsDir, logger),
		coverage:          coverage.New(cfg.Coverage, logger),
		pollInterval:      time.Duration(cfg.Runner.QueuePollInterval) * time.Second,
		errorRetry:        time.Duration(cfg.Runner.ErrorRetryInterval) * time.Second,
		heartbeatInterval: time.Duration(cfg.Runner.HeartbeatInterval) * time.Second,
		heartbeatTimeout:  time.Duration(cfg.Runner.HeartbeatTimeout) * time.Second,
	}
}

// Start begins background processing. Runs interrupted by a previous daemon
// shutdown are requeued before the poll loop starts.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("runner already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	reset, err := m.store.ResetInterruptedRuns(ctx)
	if err != nil {
		m.logger.Warn("failed to requeue interrupted runs",
			logging.Error(err),
			logging.String(logging.FieldEventType, "interrupted_reset_failed"))
	} else if reset > 0 {
		m.logger.Info("requeued interrupted runs", logging.Int64("count", reset))
	}

	go m.runLoop(runCtx)
	return nil
}

// Stop terminates background processing and waits for the in-flight run to
// unwind.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m.reclaimStaleRuns(ctx)

		run, err := m.store.NextPendingRun(ctx)
		if err != nil {
			m.handleClaimError(ctx, err)
			continue
		}
		if run == nil {
			m.waitForRunOrShutdown(ctx)
			continue
		}

		m.setActiveRun(run)
		m.processRun(ctx, run)
		m.setActiveRun(nil)
	}
}

// reclaimStaleRuns fails runs whose jobs stopped heartbeating. This only
// matters when a worker goroutine wedges; crash recovery is handled by
// ResetInterruptedRuns at startup.
func (m *Manager) reclaimStaleRuns(ctx context.Context) {
	if m.heartbeatTimeout <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-m.heartbeatTimeout)
	ids, err := m.store.StaleRunIDs(ctx, cutoff)
	if err != nil {
		m.logger.Warn("stale run scan failed; stuck runs may remain",
			logging.Error(err),
			logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
			logging.String(logging.FieldErrorHint, "check run database access"))
		return
	}
	for _, id := range ids {
		run, err := m.store.GetRun(ctx, id)
		if err != nil || run == nil || run.Status != queue.RunRunning {
			continue
		}
		if active := m.ActiveRun(); active != nil && active.ID == id {
			continue
		}
		now := time.Now().UTC()
		run.Status = queue.RunFailed
		run.ErrorMessage = "job heartbeat timed out"
		run.FinishedAt = &now
		if err := m.store.UpdateRun(ctx, run); err != nil {
			m.logger.Warn("failed to fail stale run",
				logging.Error(err),
				logging.String(logging.FieldRunID, id))
			continue
		}
		m.logger.Warn("run failed after heartbeat timeout",
			logging.String(logging.FieldRunID, id),
			logging.String(logging.FieldWorkflow, run.Workflow))
	}
}

func (m *Manager) handleClaimError(ctx context.Context, err error) {
	m.setLastError(err)
	m.logger.Error("failed to claim next run",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_claim_failed"),
		logging.String(logging.FieldErrorHint, "check run database access"))
	select {
	case <-ctx.Done():
	case <-time.After(m.errorRetry):
	}
}

func (m *Manager) waitForRunOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}

func (m *Manager) setActiveRun(run *queue.Run) {
	m.mu.Lock()
	if run != nil {
		copied := *run
		m.activeRun = &copied
	} else {
		m.activeRun = nil
	}
	m.mu.Unlock()
}

// ActiveRun returns a copy of the run currently being processed, if any.
func (m *Manager) ActiveRun() *queue.Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.activeRun == nil {
		return nil
	}
	copied := *m.activeRun
	return &copied
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
