package queue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"flywheel/internal/queue"
	"flywheel/internal/testsupport"
)

func TestOpenCreatesSchemaAndInsertsRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	run, err := store.CreateRun(ctx, queue.NewRun{
		Workflow:  "tests",
		EventKind: "push",
		Branch:    "main",
		Commit:    "abc1234",
		Actor:     "dev",
	})
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if run.ID == "" {
		t.Fatal("expected run ID to be assigned")
	}
	if run.Status != queue.RunPending {
		t.Fatalf("expected pending status, got %s", run.Status)
	}

	fetched, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if fetched == nil || fetched.Workflow != "tests" || fetched.Branch != "main" {
		t.Fatalf("unexpected fetched run: %#v", fetched)
	}
}

func TestCreateRunRequiresWorkflowAndEvent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if _, err := store.CreateRun(ctx, queue.NewRun{EventKind: "push"}); err == nil {
		t.Fatal("expected error without workflow")
	}
	if _, err := store.CreateRun(ctx, queue.NewRun{Workflow: "tests"}); err == nil {
		t.Fatal("expected error without event kind")
	}
}

func TestCreateRunCancelsSupersededGroupMembers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	req := queue.NewRun{
		Workflow:         "tests",
		EventKind:        "push",
		Branch:           "main",
		ConcurrencyGroup: "tests",
		CancelInProgress: true,
	}
	first := testsupport.NewRun(t, store, req)
	second := testsupport.NewRun(t, store, req)

	// Same group but a different branch must be untouched.
	otherBranch := req
	otherBranch.Branch = "2.x"
	third := testsupport.NewRun(t, store, otherBranch)

	flagged, err := store.CancelRequested(ctx, first.ID)
	if err != nil {
		t.Fatalf("CancelRequested failed: %v", err)
	}
	if !flagged {
		t.Fatal("expected first run to be flagged for cancellation")
	}
	for _, id := range []string{second.ID, third.ID} {
		flagged, err := store.CancelRequested(ctx, id)
		if err != nil {
			t.Fatalf("CancelRequested failed: %v", err)
		}
		if flagged {
			t.Fatalf("run %s should not be flagged", id)
		}
	}
}

func TestNextPendingRunClaimsOldestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	var created []*queue.Run
	for i := 0; i < 3; i++ {
		created = append(created, testsupport.NewRun(t, store, queue.NewRun{
			Workflow:  fmt.Sprintf("wf-%d", i),
			EventKind: "workflow_dispatch",
		}))
		time.Sleep(2 * time.Millisecond)
	}

	claimed, err := store.NextPendingRun(ctx)
	if err != nil {
		t.Fatalf("NextPendingRun failed: %v", err)
	}
	if claimed == nil || claimed.ID != created[0].ID {
		t.Fatalf("expected oldest run claimed, got %#v", claimed)
	}
	if claimed.Status != queue.RunRunning || claimed.StartedAt == nil {
		t.Fatalf("expected claimed run to be running, got %#v", claimed)
	}

	again, err := store.NextPendingRun(ctx)
	if err != nil {
		t.Fatalf("NextPendingRun failed: %v", err)
	}
	if again == nil || again.ID != created[1].ID {
		t.Fatalf("expected second-oldest run, got %#v", again)
	}
}

func TestRequestCancelPendingRunFinalizesImmediately(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	run := testsupport.NewRun(t, store, queue.NewRun{Workflow: "tests", EventKind: "push"})
	ok, err := store.RequestCancel(ctx, run.ID)
	if err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if !ok {
		t.Fatal("expected cancel to apply")
	}
	fetched, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if fetched.Status != queue.RunCancelled {
		t.Fatalf("expected cancelled, got %s", fetched.Status)
	}
	if fetched.FinishedAt == nil {
		t.Fatal("expected finished timestamp on cancelled run")
	}
}

func TestRequestCancelRunningRunOnlySetsFlag(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewRun(t, store, queue.NewRun{Workflow: "tests", EventKind: "push"})
	claimed, err := store.NextPendingRun(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("NextPendingRun failed: %v", err)
	}

	ok, err := store.RequestCancel(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if !ok {
		t.Fatal("expected cancel request to apply")
	}
	fetched, _ := store.GetRun(ctx, claimed.ID)
	if fetched.Status != queue.RunRunning {
		t.Fatalf("running run should keep running until the runner stops it, got %s", fetched.Status)
	}
	if !fetched.CancelRequested {
		t.Fatal("expected cancel_requested flag")
	}
}

func TestJobsLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	run := testsupport.NewRun(t, store, queue.NewRun{Workflow: "tests", EventKind: "push", Branch: "main"})

	jobs := []*queue.Job{
		{JobID: "tests", Name: "tests (linux, 3.9)"},
		{JobID: "tests", Name: "tests (linux, 3.13)"},
	}
	if err := jobs[0].SetCell(map[string]string{"os": "linux", "python": "3.9"}); err != nil {
		t.Fatalf("SetCell: %v", err)
	}
	if err := store.CreateJobs(ctx, run.ID, jobs); err != nil {
		t.Fatalf("CreateJobs failed: %v", err)
	}
	if jobs[0].ID == 0 || jobs[1].ID == 0 {
		t.Fatal("expected job IDs assigned")
	}

	listed, err := store.JobsForRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("JobsForRun failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(listed))
	}
	cell, err := listed[0].Cell()
	if err != nil {
		t.Fatalf("Cell failed: %v", err)
	}
	if cell["python"] != "3.9" {
		t.Fatalf("unexpected cell: %v", cell)
	}

	now := time.Now().UTC()
	listed[0].Status = queue.JobFailed
	listed[0].ErrorMessage = "exit status 1"
	listed[0].FinishedAt = &now
	if err := store.UpdateJob(ctx, listed[0]); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}
	if err := store.UpdateJobHeartbeat(ctx, listed[1].ID); err != nil {
		t.Fatalf("UpdateJobHeartbeat failed: %v", err)
	}

	statuses, err := store.JobStatusesForRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("JobStatusesForRun failed: %v", err)
	}
	if got := queue.ReduceJobStatuses(statuses); got != queue.RunRunning {
		t.Fatalf("expected running reduction while a job is pending, got %s", got)
	}
}

func TestReduceJobStatuses(t *testing.T) {
	cases := []struct {
		name     string
		statuses []queue.JobStatus
		want     queue.RunStatus
	}{
		{"all success", []queue.JobStatus{queue.JobSucceeded, queue.JobSucceeded}, queue.RunSucceeded},
		{"one failure fails the run", []queue.JobStatus{queue.JobSucceeded, queue.JobFailed}, queue.RunFailed},
		{"skipped jobs are ignored", []queue.JobStatus{queue.JobSucceeded, queue.JobSkipped}, queue.RunSucceeded},
		{"cancelled wins over failed", []queue.JobStatus{queue.JobFailed, queue.JobCancelled}, queue.RunCancelled},
		{"in-flight keeps running", []queue.JobStatus{queue.JobSucceeded, queue.JobRunning}, queue.RunRunning},
		{"empty is success", nil, queue.RunSucceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := queue.ReduceJobStatuses(tc.statuses); got != tc.want {
				t.Fatalf("ReduceJobStatuses = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestRetryRunResetsStateAndClearsJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	run := testsupport.NewRun(t, store, queue.NewRun{Workflow: "tests", EventKind: "push"})
	claimed, _ := store.NextPendingRun(ctx)
	if err := store.CreateJobs(ctx, claimed.ID, []*queue.Job{{JobID: "a", Name: "a"}}); err != nil {
		t.Fatalf("CreateJobs: %v", err)
	}
	now := time.Now().UTC()
	claimed.Status = queue.RunFailed
	claimed.ErrorMessage = "boom"
	claimed.FinishedAt = &now
	if err := store.UpdateRun(ctx, claimed); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	ok, err := store.RetryRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("RetryRun failed: %v", err)
	}
	if !ok {
		t.Fatal("expected retry to apply")
	}
	fetched, _ := store.GetRun(ctx, run.ID)
	if fetched.Status != queue.RunPending || fetched.ErrorMessage != "" || fetched.FinishedAt != nil {
		t.Fatalf("unexpected run after retry: %#v", fetched)
	}
	jobs, _ := store.JobsForRun(ctx, run.ID)
	if len(jobs) != 0 {
		t.Fatalf("expected jobs cleared on retry, got %d", len(jobs))
	}

	// Retrying a non-terminal run is a no-op.
	ok, err = store.RetryRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("RetryRun failed: %v", err)
	}
	if ok {
		t.Fatal("expected retry of pending run to be rejected")
	}
}

func TestResetInterruptedRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	run := testsupport.NewRun(t, store, queue.NewRun{Workflow: "tests", EventKind: "push"})
	claimed, _ := store.NextPendingRun(ctx)
	if err := store.CreateJobs(ctx, claimed.ID, []*queue.Job{{JobID: "a", Name: "a"}}); err != nil {
		t.Fatalf("CreateJobs: %v", err)
	}

	cancelled := testsupport.NewRun(t, store, queue.NewRun{Workflow: "other", EventKind: "push"})
	claimedCancelled, _ := store.NextPendingRun(ctx)
	if claimedCancelled.ID != cancelled.ID {
		t.Fatalf("expected to claim the second run, got %s", claimedCancelled.ID)
	}
	if _, err := store.RequestCancel(ctx, cancelled.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}

	reset, err := store.ResetInterruptedRuns(ctx)
	if err != nil {
		t.Fatalf("ResetInterruptedRuns failed: %v", err)
	}
	if reset != 1 {
		t.Fatalf("expected 1 reset run, got %d", reset)
	}

	first, _ := store.GetRun(ctx, run.ID)
	if first.Status != queue.RunPending {
		t.Fatalf("expected interrupted run back to pending, got %s", first.Status)
	}
	if first.ErrorMessage != queue.ShutdownReason {
		t.Fatalf("expected requeued run to carry %q, got %q", queue.ShutdownReason, first.ErrorMessage)
	}
	jobs, _ := store.JobsForRun(ctx, run.ID)
	if len(jobs) != 0 {
		t.Fatalf("expected interrupted run jobs cleared, got %d", len(jobs))
	}

	second, _ := store.GetRun(ctx, cancelled.ID)
	if second.Status != queue.RunCancelled {
		t.Fatalf("expected cancel-requested run finalized as cancelled, got %s", second.Status)
	}
}

func TestStatsHealthAndClear(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewRun(t, store, queue.NewRun{Workflow: "a", EventKind: "push"})
	claimed, _ := store.NextPendingRun(ctx)
	now := time.Now().UTC()
	claimed.Status = queue.RunSucceeded
	claimed.FinishedAt = &now
	if err := store.UpdateRun(ctx, claimed); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	testsupport.NewRun(t, store, queue.NewRun{Workflow: "b", EventKind: "push"})

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 2 || health.Succeeded != 1 || health.Pending != 1 {
		t.Fatalf("unexpected health: %#v", health)
	}

	dbHealth, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !dbHealth.DatabaseReadable || !dbHealth.IntegrityCheck || len(dbHealth.MissingTables) != 0 {
		t.Fatalf("unexpected db health: %#v", dbHealth)
	}
	if dbHealth.TotalRuns != 2 {
		t.Fatalf("expected 2 runs counted, got %d", dbHealth.TotalRuns)
	}

	removed, err := store.ClearFinished(ctx)
	if err != nil {
		t.Fatalf("ClearFinished failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 finished run removed, got %d", removed)
	}
	removed, err = store.ClearAll(ctx)
	if err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 remaining run removed, got %d", removed)
	}
}

func TestListRunsFiltersByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewRun(t, store, queue.NewRun{Workflow: "a", EventKind: "push"})
	testsupport.NewRun(t, store, queue.NewRun{Workflow: "b", EventKind: "push"})
	claimed, _ := store.NextPendingRun(ctx)

	pending, err := store.ListRuns(ctx, queue.RunPending)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending run, got %d", len(pending))
	}
	all, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(all))
	}
	_ = claimed
}

func TestCreateRunSupersedesBranchlessRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	// Manual dispatches carry no branch; admission must still supersede
	// earlier runs in the same group.
	req := queue.NewRun{
		Workflow:         "tests",
		EventKind:        "workflow_dispatch",
		ConcurrencyGroup: "tests",
		CancelInProgress: true,
	}
	first := testsupport.NewRun(t, store, req)
	second := testsupport.NewRun(t, store, req)

	flagged, err := store.CancelRequested(ctx, first.ID)
	if err != nil {
		t.Fatalf("CancelRequested failed: %v", err)
	}
	if !flagged {
		t.Fatal("expected the first branchless run to be flagged for cancellation")
	}
	flagged, err = store.CancelRequested(ctx, second.ID)
	if err != nil {
		t.Fatalf("CancelRequested failed: %v", err)
	}
	if flagged {
		t.Fatal("the newest run must not supersede itself")
	}
}

func TestConcurrentJobUpdates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	run := testsupport.NewRun(t, store, queue.NewRun{Workflow: "tests", EventKind: "push", Branch: "main"})

	const cells = 12
	jobs := make([]*queue.Job, cells)
	for i := range jobs {
		jobs[i] = &queue.Job{JobID: "tests", Name: fmt.Sprintf("tests (cell-%d)", i)}
	}
	if err := store.CreateJobs(ctx, run.ID, jobs); err != nil {
		t.Fatalf("CreateJobs failed: %v", err)
	}

	// Matrix cells persist state from parallel goroutines over separate
	// pooled connections; without a busy timeout on each connection these
	// writes fail with SQLITE_BUSY instead of waiting.
	errs := make(chan error, cells)
	var wg sync.WaitGroup
	for _, job := range jobs {
		job := job
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				job.Status = queue.JobRunning
				if err := store.UpdateJob(ctx, job); err != nil {
					errs <- err
					return
				}
				if err := store.UpdateJobHeartbeat(ctx, job.ID); err != nil {
					errs <- err
					return
				}
			}
			now := time.Now().UTC()
			job.Status = queue.JobSucceeded
			job.FinishedAt = &now
			if err := store.UpdateJob(ctx, job); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent job update failed: %v", err)
	}

	statuses, err := store.JobStatusesForRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("JobStatusesForRun failed: %v", err)
	}
	if got := queue.ReduceJobStatuses(statuses); got != queue.RunSucceeded {
		t.Fatalf("expected all cells recorded succeeded, got %s", got)
	}
}
