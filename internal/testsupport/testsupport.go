// Package testsupport provides shared helpers for package tests: temp-dir
// configs, run stores, and workflow fixtures.
package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"flywheel/internal/config"
	"flywheel/internal/queue"
	"flywheel/internal/workflowdef"
)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.WorkflowsDir = filepath.Join(base, "workflows")
	cfg.Paths.WorkspaceDir = filepath.Join(base, "workspaces")
	cfg.Paths.ArtifactsDir = filepath.Join(base, "artifacts")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.SecretsFile = filepath.Join(base, "secrets.toml")
	cfg.Paths.APIBind = ""
	cfg.Coverage.TokenFile = filepath.Join(base, "coverage_token")
	cfg.Runner.QueuePollInterval = 1
	cfg.Runner.ErrorRetryInterval = 1
	cfg.Runner.HeartbeatInterval = 1
	cfg.Runner.HeartbeatTimeout = 5
	return &cfg
}

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewRun admits a pending run for tests using the provided store.
func NewRun(t testing.TB, store *queue.Store, req queue.NewRun) *queue.Run {
	t.Helper()

	run, err := store.CreateRun(context.Background(), req)
	if err != nil {
		t.Fatalf("store.CreateRun: %v", err)
	}
	return run
}

// WriteWorkflow writes a workflow file into the config's workflows dir and
// returns the parsed definition.
func WriteWorkflow(t testing.TB, cfg *config.Config, filename, body string) *workflowdef.Definition {
	t.Helper()

	if err := os.MkdirAll(cfg.Paths.WorkflowsDir, 0o755); err != nil {
		t.Fatalf("ensure workflows dir: %v", err)
	}
	path := filepath.Join(cfg.Paths.WorkflowsDir, filename)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write workflow: %v", err)
	}
	def, err := workflowdef.Load(path)
	if err != nil {
		t.Fatalf("load workflow: %v", err)
	}
	return def
}
