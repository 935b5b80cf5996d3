package runner

import (
	"context"

	"flywheel/internal/logging"
	"flywheel/internal/queue"
)

// StatusSummary represents lightweight runner diagnostics.
type StatusSummary struct {
	Running    bool
	LastError  string
	ActiveRun  *queue.Run
	QueueStats map[queue.RunStatus]int
}

// Status returns the latest runner information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	var active *queue.Run
	if m.activeRun != nil {
		copied := *m.activeRun
		active = &copied
	}
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}

	summary := StatusSummary{Running: running, ActiveRun: active, QueueStats: stats}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	return summary
}
