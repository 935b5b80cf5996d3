package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"flywheel/internal/api"
	"flywheel/internal/daemon"
	"flywheel/internal/logging"
	"flywheel/internal/queue"
	"flywheel/internal/runner"
	"flywheel/internal/secrets"
	"flywheel/internal/testsupport"
	"flywheel/internal/trigger"
)

const testToken = "test-token"

func newDaemon(t *testing.T, apiBind string) (*daemon.Daemon, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = apiBind
	cfg.Paths.APIToken = testToken
	store := testsupport.MustOpenStore(t, cfg)

	testsupport.WriteWorkflow(t, cfg, "tests.yml", `
name: tests
on:
  push:
    branches: [main, 2.x]
  workflow_dispatch:
jobs:
  tests:
    steps:
      - name: run
        run: "true"
`)

	mgr := runner.NewManager(cfg, store, logging.NewNop(), secrets.Empty())
	d, err := daemon.New(cfg, store, logging.NewNop(), mgr)
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	return d, store
}

func TestDaemonStartStopAndLock(t *testing.T) {
	d, _ := newDaemon(t, "")
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	if !d.Running() {
		t.Fatal("expected daemon running")
	}
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("second Start must fail while running")
	}

	status := d.Status(context.Background())
	if !status.Running || status.PID == 0 || status.LockFilePath == "" {
		t.Fatalf("unexpected status %#v", status)
	}
	if len(status.Workflows) != 1 || status.Workflows[0] != "tests" {
		t.Fatalf("unexpected workflows %v", status.Workflows)
	}

	d.Stop()
	if d.Running() {
		t.Fatal("expected daemon stopped")
	}
}

func TestHandleEventAdmitsMatchingWorkflows(t *testing.T) {
	d, store := newDaemon(t, "")

	runs, err := d.HandleEvent(context.Background(), trigger.Event{
		Kind:   trigger.KindPush,
		Branch: "main",
		Commit: "abc1234",
		Actor:  "dev",
	})
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Workflow != "tests" {
		t.Fatalf("unexpected runs %#v", runs)
	}

	// A push to an undeclared branch admits nothing.
	runs, err = d.HandleEvent(context.Background(), trigger.Event{
		Kind:   trigger.KindPush,
		Branch: "feature/x",
	})
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no runs, got %#v", runs)
	}

	all, err := store.ListRuns(context.Background())
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 stored run, got %d", len(all))
	}
}

func TestDispatchRequiresDeclaredTrigger(t *testing.T) {
	d, _ := newDaemon(t, "")

	run, err := d.Dispatch(context.Background(), "tests", "main", "", "tester")
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if run.EventKind != "workflow_dispatch" || run.Actor != "tester" {
		t.Fatalf("unexpected run %#v", run)
	}

	if _, err := d.Dispatch(context.Background(), "ghost", "", "", ""); err == nil {
		t.Fatal("dispatch of unknown workflow must fail")
	}
}

func apiRequest(t *testing.T, method, url string, body any, token string) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHTTPAPIEndToEnd(t *testing.T) {
	d, store := newDaemon(t, "127.0.0.1:0")
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	base := "http://" + d.APIAddr()

	// Healthz needs no token.
	resp := apiRequest(t, http.MethodGet, base+"/api/healthz", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz returned %d", resp.StatusCode)
	}

	// Authenticated endpoints reject missing tokens.
	resp = apiRequest(t, http.MethodGet, base+"/api/status", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp = apiRequest(t, http.MethodGet, base+"/api/status", nil, testToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status returned %d", resp.StatusCode)
	}
	var status api.DaemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running {
		t.Fatalf("unexpected status %#v", status)
	}

	// Dispatch a run over the API and watch it finish.
	resp = apiRequest(t, http.MethodPost, base+"/api/dispatch",
		api.DispatchRequest{Workflow: "tests", Branch: "main"}, testToken)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("dispatch returned %d", resp.StatusCode)
	}
	var dispatched api.DispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&dispatched); err != nil {
		t.Fatalf("decode dispatch: %v", err)
	}
	if len(dispatched.Runs) != 1 {
		t.Fatalf("unexpected dispatch response %#v", dispatched)
	}
	runID := dispatched.Runs[0].ID

	deadline := time.Now().Add(30 * time.Second)
	for {
		run, err := store.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if run.Status.Terminal() {
			if run.Status != queue.RunSucceeded {
				t.Fatalf("expected succeeded, got %s (%s)", run.Status, run.ErrorMessage)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run did not finish, status %s", run.Status)
		}
		time.Sleep(50 * time.Millisecond)
	}

	resp = apiRequest(t, http.MethodGet, fmt.Sprintf("%s/api/runs/%s", base, runID), nil, testToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run show returned %d", resp.StatusCode)
	}
	var detail api.RunDetailResponse
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		t.Fatalf("decode run detail: %v", err)
	}
	if detail.Run.ID != runID || len(detail.Jobs) != 1 {
		t.Fatalf("unexpected detail %#v", detail)
	}

	resp = apiRequest(t, http.MethodGet, base+"/api/runs", nil, testToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run list returned %d", resp.StatusCode)
	}
	var list api.RunListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode run list: %v", err)
	}
	if len(list.Runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(list.Runs))
	}
}
