package runner

import (
	"context"
	"testing"
	"time"

	"flywheel/internal/queue"
	"flywheel/internal/testsupport"
)

func TestRunResultNamesFailedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	run := testsupport.NewRun(t, store, queue.NewRun{Workflow: "tests", EventKind: "push", Branch: "main"})
	jobs := []*queue.Job{
		{JobID: "tests", Name: "tests (fast)"},
		{JobID: "tests", Name: "tests (slow)"},
	}
	if err := store.CreateJobs(ctx, run.ID, jobs); err != nil {
		t.Fatalf("CreateJobs failed: %v", err)
	}
	finished := time.Now().UTC()
	jobs[0].Status = queue.JobFailed
	jobs[0].FinishedAt = &finished
	jobs[1].Status = queue.JobSucceeded
	jobs[1].FinishedAt = &finished
	for _, job := range jobs {
		if err := store.UpdateJob(ctx, job); err != nil {
			t.Fatalf("UpdateJob failed: %v", err)
		}
	}

	m := NewManagerWithNotifier(cfg, store, nil, nil, nil)
	status, message, failed := m.runResult(ctx, run.ID, false, []queue.JobStatus{queue.JobFailed, queue.JobSucceeded})
	if status != queue.RunFailed {
		t.Fatalf("expected failed run, got %s", status)
	}
	if message != "failed jobs: tests (fast)" {
		t.Fatalf("unexpected error message %q", message)
	}
	if len(failed) != 1 || failed[0] != "tests (fast)" {
		t.Fatalf("unexpected failed job list %v", failed)
	}
}

func TestRunResultRejectsNonTerminalFold(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	run := testsupport.NewRun(t, store, queue.NewRun{Workflow: "tests", EventKind: "push", Branch: "main"})
	jobs := []*queue.Job{{JobID: "tests", Name: "tests"}}
	if err := store.CreateJobs(ctx, run.ID, jobs); err != nil {
		t.Fatalf("CreateJobs failed: %v", err)
	}

	m := NewManagerWithNotifier(cfg, store, nil, nil, nil)
	status, message, failed := m.runResult(ctx, run.ID, false, []queue.JobStatus{queue.JobRunning, queue.JobSucceeded})
	if status != queue.RunFailed {
		t.Fatalf("a stuck job must fail the run, got %s", status)
	}
	if message != "run finished with jobs in a non-terminal state" {
		t.Fatalf("unexpected error message %q", message)
	}
	if failed != nil {
		t.Fatalf("unexpected failed job list %v", failed)
	}
}
