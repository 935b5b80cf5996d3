package api_test

import (
	"testing"
	"time"

	"flywheel/internal/api"
	"flywheel/internal/queue"
	"flywheel/internal/runner"
)

func TestFromRunFormatsTimestamps(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	started := created.Add(2 * time.Second)
	run := &queue.Run{
		ID:        "run-1",
		Workflow:  "tests",
		EventKind: "push",
		Branch:    "main",
		Status:    queue.RunRunning,
		CreatedAt: created,
		StartedAt: &started,
	}

	dto := api.FromRun(run)
	if dto.Status != "running" || dto.Workflow != "tests" {
		t.Fatalf("unexpected dto %#v", dto)
	}
	if dto.CreatedAt != "2026-03-14T09:26:53.000Z" {
		t.Fatalf("unexpected createdAt %q", dto.CreatedAt)
	}
	if dto.StartedAt == "" || dto.FinishedAt != "" {
		t.Fatalf("unexpected timestamps %#v", dto)
	}
}

func TestFromJobDecodesMatrix(t *testing.T) {
	job := &queue.Job{ID: 7, JobID: "tests", Name: "tests (linux, 3.10)", Status: queue.JobSucceeded}
	if err := job.SetCell(map[string]string{"os": "linux", "python": "3.10"}); err != nil {
		t.Fatalf("SetCell: %v", err)
	}
	if err := job.SetArtifacts([]string{"/tmp/coverage.xml"}); err != nil {
		t.Fatalf("SetArtifacts: %v", err)
	}

	dto := api.FromJob(job)
	if dto.Matrix["python"] != "3.10" {
		t.Fatalf("unexpected matrix %v", dto.Matrix)
	}
	if len(dto.Artifacts) != 1 {
		t.Fatalf("unexpected artifacts %v", dto.Artifacts)
	}
}

func TestFromStatusSummary(t *testing.T) {
	summary := runner.StatusSummary{
		Running:   true,
		LastError: "boom",
		ActiveRun: &queue.Run{ID: "run-9", Workflow: "tests", Status: queue.RunRunning},
		QueueStats: map[queue.RunStatus]int{
			queue.RunPending: 2,
			queue.RunFailed:  1,
		},
	}
	dto := api.FromStatusSummary(summary)
	if !dto.Running || dto.LastError != "boom" {
		t.Fatalf("unexpected dto %#v", dto)
	}
	if dto.ActiveRun == nil || dto.ActiveRun.ID != "run-9" {
		t.Fatalf("unexpected active run %#v", dto.ActiveRun)
	}
	if dto.QueueStats["pending"] != 2 || dto.QueueStats["failed"] != 1 {
		t.Fatalf("unexpected stats %v", dto.QueueStats)
	}
}
