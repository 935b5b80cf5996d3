package coverage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"flywheel/internal/config"
	"flywheel/internal/logging"
)

// Client talks to the coverage service.
type Client struct {
	baseURL    string
	tokenFile  string
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a client from the coverage configuration. It returns nil when
// the integration is disabled or has no base URL; callers treat a nil client
// as "coverage upload off".
func New(cfg config.Coverage, logger *slog.Logger) *Client {
	if !cfg.Enabled || cfg.BaseURL == "" {
		return nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		tokenFile:  cfg.TokenFile,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Report identifies the run a coverage file belongs to.
type Report struct {
	Workflow string
	RunID    string
	Job      string
	Branch   string
	Commit   string
}

// Upload posts a coverage file to the service as a multipart form. The caller
// decides whether a failed upload fails the run.
func (c *Client) Upload(ctx context.Context, report Report, path string) error {
	token, err := c.Token()
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open coverage file: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := map[string]string{
		"workflow": report.Workflow,
		"run_id":   report.RunID,
		"job":      report.Job,
		"branch":   report.Branch,
		"commit":   report.Commit,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(name, value); err != nil {
			return fmt.Errorf("build upload form: %w", err)
		}
	}
	part, err := writer.CreateFormFile("report", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("read coverage file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("build upload form: %w", err)
	}

	url := strings.TrimRight(c.baseURL, "/") + "/api/coverage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload coverage: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upload coverage: status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	c.logger.Info("coverage report uploaded",
		logging.String(logging.FieldRunID, report.RunID),
		logging.String(logging.FieldJob, report.Job),
		logging.String("file", filepath.Base(path)))
	return nil
}

// UploadArtifacts uploads every coverage-looking file from the collected
// artifact paths. Individual failures are joined so one broken upload does
// not hide the others.
func (c *Client) UploadArtifacts(ctx context.Context, report Report, paths []string) error {
	var errs []error
	for _, path := range paths {
		if !IsCoverageFile(path) {
			continue
		}
		if err := c.Upload(ctx, report, path); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(path), err))
		}
	}
	return errors.Join(errs...)
}

// IsCoverageFile reports whether an artifact looks like a coverage report.
func IsCoverageFile(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	return strings.HasPrefix(name, "coverage") &&
		(strings.HasSuffix(name, ".xml") || strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".out"))
}
