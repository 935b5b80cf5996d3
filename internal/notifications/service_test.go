package notifications_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"flywheel/internal/config"
	"flywheel/internal/notifications"
	"flywheel/internal/secrets"
)

type capture struct {
	requests int
	lastText string
}

func newWebhookServer(t *testing.T, cap *capture) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		cap.requests++
		cap.lastText = payload.Text
		w.WriteHeader(http.StatusOK)
	}))
}

func newConfig(url string) *config.Config {
	cfg := new(config.Config)
	*cfg = config.Default()
	cfg.Notifications.WebhookURL = url
	cfg.Notifications.RunStarted = true
	cfg.Notifications.RunCompleted = true
	cfg.Notifications.RunFailed = true
	cfg.Notifications.RunCancelled = true
	cfg.Notifications.Coverage = true
	cfg.Notifications.NotifyBranches = []string{"main"}
	return cfg
}

func TestNewServiceWithoutWebhookIsNoop(t *testing.T) {
	cfg := newConfig("")
	cfg.Notifications.WebhookSecret = ""
	service := notifications.NewService(cfg, secrets.Empty())
	if err := service.TestNotification(context.Background()); err != nil {
		t.Fatalf("noop service must not error: %v", err)
	}
}

func TestWebhookURLFromSecret(t *testing.T) {
	var cap capture
	server := newWebhookServer(t, &cap)
	defer server.Close()

	cfg := newConfig("")
	cfg.Notifications.WebhookSecret = "SLACK_WEBHOOK"
	store := secrets.WithValues(map[string]string{"SLACK_WEBHOOK": server.URL})

	service := notifications.NewService(cfg, store)
	if err := service.TestNotification(context.Background()); err != nil {
		t.Fatalf("TestNotification failed: %v", err)
	}
	if cap.requests != 1 {
		t.Fatalf("expected 1 webhook request, got %d", cap.requests)
	}
}

func TestNotifyRunFailedIncludesJobs(t *testing.T) {
	var cap capture
	server := newWebhookServer(t, &cap)
	defer server.Close()

	service := notifications.NewService(newConfig(server.URL), secrets.Empty())
	err := service.NotifyRunFailed(context.Background(), notifications.RunInfo{
		ID:         "run-1",
		Workflow:   "tests",
		Branch:     "main",
		Event:      "push",
		FailedJobs: []string{"tests (ubuntu, 3.10)", "tests (macos, 3.13)"},
	})
	if err != nil {
		t.Fatalf("NotifyRunFailed failed: %v", err)
	}
	if !strings.Contains(cap.lastText, "tests (run run-1)") {
		t.Fatalf("expected run label in message, got %q", cap.lastText)
	}
	if !strings.Contains(cap.lastText, "tests (ubuntu, 3.10)") {
		t.Fatalf("expected failed job names, got %q", cap.lastText)
	}
}

func TestBranchFilterSuppressesOtherBranches(t *testing.T) {
	var cap capture
	server := newWebhookServer(t, &cap)
	defer server.Close()

	service := notifications.NewService(newConfig(server.URL), secrets.Empty())
	info := notifications.RunInfo{ID: "run-1", Workflow: "tests", Event: "push", Branch: "feature/x"}
	if err := service.NotifyRunFailed(context.Background(), info); err != nil {
		t.Fatalf("NotifyRunFailed failed: %v", err)
	}
	if cap.requests != 0 {
		t.Fatalf("expected no webhook request for unlisted branch, got %d", cap.requests)
	}

	// Scheduled runs carry no branch and always pass the filter.
	info.Branch = ""
	info.Event = "schedule"
	if err := service.NotifyRunFailed(context.Background(), info); err != nil {
		t.Fatalf("NotifyRunFailed failed: %v", err)
	}
	if cap.requests != 1 {
		t.Fatalf("expected branchless run to notify, got %d requests", cap.requests)
	}
}

func TestEventTogglesSuppressMessages(t *testing.T) {
	var cap capture
	server := newWebhookServer(t, &cap)
	defer server.Close()

	cfg := newConfig(server.URL)
	cfg.Notifications.RunStarted = false
	service := notifications.NewService(cfg, secrets.Empty())

	info := notifications.RunInfo{ID: "run-1", Workflow: "tests", Branch: "main", Event: "push"}
	if err := service.NotifyRunStarted(context.Background(), info); err != nil {
		t.Fatalf("NotifyRunStarted failed: %v", err)
	}
	if cap.requests != 0 {
		t.Fatalf("expected disabled event to be suppressed, got %d requests", cap.requests)
	}
}

func TestSendReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer server.Close()

	service := notifications.NewService(newConfig(server.URL), secrets.Empty())
	err := service.TestNotification(context.Background())
	if err == nil {
		t.Fatal("expected error from failing webhook")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected status in error, got %v", err)
	}
}
