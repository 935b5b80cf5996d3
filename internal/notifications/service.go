// Package notifications posts run lifecycle messages to a Slack-compatible
// incoming webhook. Notifications are filtered by event toggles and by the
// configured branch list, so a failure on main pages the channel while
// feature-branch noise stays out.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"flywheel/internal/config"
	"flywheel/internal/secrets"
)

const userAgent = "Flywheel-Go/0.1.0"

// RunInfo carries the run fields notifications render.
type RunInfo struct {
	ID         string
	Workflow   string
	Branch     string
	Event      string
	FailedJobs []string
	Duration   time.Duration
}

// Service defines the notification surface exposed to the runner and CLI.
type Service interface {
	NotifyRunStarted(ctx context.Context, run RunInfo) error
	NotifyRunSucceeded(ctx context.Context, run RunInfo) error
	NotifyRunFailed(ctx context.Context, run RunInfo) error
	NotifyRunCancelled(ctx context.Context, run RunInfo, reason string) error
	NotifyCoverageUploadFailed(ctx context.Context, run RunInfo, err error) error
	TestNotification(ctx context.Context) error
}

// NewService builds a webhook-backed service. The webhook URL comes from
// webhook_url directly or from the secret named by webhook_secret; with
// neither configured a noop implementation is returned.
func NewService(cfg *config.Config, secretStore *secrets.Store) Service {
	url := strings.TrimSpace(cfg.Notifications.WebhookURL)
	if url == "" && cfg.Notifications.WebhookSecret != "" && secretStore != nil {
		if value, ok := secretStore.Get(cfg.Notifications.WebhookSecret); ok {
			url = strings.TrimSpace(value)
		}
	}
	if url == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &webhookService{
		endpoint: url,
		client:   &http.Client{Timeout: timeout},
		cfg:      cfg.Notifications,
	}
}

type webhookService struct {
	endpoint string
	client   *http.Client
	cfg      config.Notifications
}

// branchEnabled applies the notify_branches filter. An empty list means
// every branch; scheduled and manual runs may carry no branch and always
// pass.
func (s *webhookService) branchEnabled(branch string) bool {
	if len(s.cfg.NotifyBranches) == 0 || branch == "" {
		return true
	}
	for _, allowed := range s.cfg.NotifyBranches {
		if branch == allowed {
			return true
		}
	}
	return false
}

func (s *webhookService) NotifyRunStarted(ctx context.Context, run RunInfo) error {
	if !s.cfg.RunStarted || !s.branchEnabled(run.Branch) {
		return nil
	}
	return s.send(ctx, fmt.Sprintf(":arrow_forward: %s started %s", runLabel(run), runOrigin(run)))
}

func (s *webhookService) NotifyRunSucceeded(ctx context.Context, run RunInfo) error {
	if !s.cfg.RunCompleted || !s.branchEnabled(run.Branch) {
		return nil
	}
	return s.send(ctx, fmt.Sprintf(":white_check_mark: %s succeeded %s in %s",
		runLabel(run), runOrigin(run), durationText(run.Duration)))
}

func (s *webhookService) NotifyRunFailed(ctx context.Context, run RunInfo) error {
	if !s.cfg.RunFailed || !s.branchEnabled(run.Branch) {
		return nil
	}
	message := fmt.Sprintf(":x: %s failed %s", runLabel(run), runOrigin(run))
	if len(run.FailedJobs) > 0 {
		message += "\nFailed jobs: " + strings.Join(run.FailedJobs, ", ")
	}
	return s.send(ctx, message)
}

func (s *webhookService) NotifyRunCancelled(ctx context.Context, run RunInfo, reason string) error {
	if !s.cfg.RunCancelled || !s.branchEnabled(run.Branch) {
		return nil
	}
	message := fmt.Sprintf(":no_entry_sign: %s cancelled %s", runLabel(run), runOrigin(run))
	if reason = strings.TrimSpace(reason); reason != "" {
		message += "\n" + reason
	}
	return s.send(ctx, message)
}

func (s *webhookService) NotifyCoverageUploadFailed(ctx context.Context, run RunInfo, err error) error {
	if !s.cfg.Coverage || !s.branchEnabled(run.Branch) {
		return nil
	}
	detail := "unknown"
	if err != nil {
		detail = strings.TrimSpace(err.Error())
	}
	return s.send(ctx, fmt.Sprintf(":warning: coverage upload failed for %s: %s", runLabel(run), detail))
}

func (s *webhookService) TestNotification(ctx context.Context) error {
	return s.send(ctx, ":bell: flywheel notification test")
}

func (s *webhookService) send(ctx context.Context, text string) error {
	if s == nil || s.client == nil {
		return nil
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func runLabel(run RunInfo) string {
	workflow := strings.TrimSpace(run.Workflow)
	if workflow == "" {
		workflow = "workflow"
	}
	if run.ID == "" {
		return workflow
	}
	return fmt.Sprintf("%s (run %s)", workflow, run.ID)
}

func runOrigin(run RunInfo) string {
	parts := make([]string, 0, 2)
	if run.Event != "" {
		parts = append(parts, "on "+run.Event)
	}
	if run.Branch != "" {
		parts = append(parts, "branch "+run.Branch)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ", ")
}

func durationText(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

type noopService struct{}

func (noopService) NotifyRunStarted(context.Context, RunInfo) error           { return nil }
func (noopService) NotifyRunSucceeded(context.Context, RunInfo) error         { return nil }
func (noopService) NotifyRunFailed(context.Context, RunInfo) error            { return nil }
func (noopService) NotifyRunCancelled(context.Context, RunInfo, string) error { return nil }
func (noopService) NotifyCoverageUploadFailed(context.Context, RunInfo, error) error {
	return nil
}
func (noopService) TestNotification(context.Context) error { return nil }
