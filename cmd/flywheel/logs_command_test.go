package main

import (
	"encoding/json"
	"testing"

	"flywheel/internal/ipc"
	"flywheel/internal/queue"
)

func TestLogsPrintsJobOutput(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"dispatch", "tests", "--branch", "main", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var dispatched ipc.DispatchResponse
	if err := json.Unmarshal([]byte(out), &dispatched); err != nil {
		t.Fatalf("decode dispatch output: %v", err)
	}

	waitForRunStatus(t, env, dispatched.Run.ID, queue.RunSucceeded)

	out, _, err = runCLI(t, []string{"logs", dispatched.Run.ID}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "hello")
}

func TestLogsRejectsUnknownJob(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"dispatch", "tests", "--branch", "main", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var dispatched ipc.DispatchResponse
	if err := json.Unmarshal([]byte(out), &dispatched); err != nil {
		t.Fatalf("decode dispatch output: %v", err)
	}

	waitForRunStatus(t, env, dispatched.Run.ID, queue.RunSucceeded)

	if _, _, err := runCLI(t, []string{"logs", dispatched.Run.ID, "nope"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected error for unknown job")
	}
}
