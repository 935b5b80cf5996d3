package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	WorkflowsDir string `toml:"workflows_dir"`
	WorkspaceDir string `toml:"workspace_dir"`
	ArtifactsDir string `toml:"artifacts_dir"`
	LogDir       string `toml:"log_dir"`
	SecretsFile  string `toml:"secrets_file"`
	APIBind      string `toml:"api_bind"`
	APIToken     string `toml:"api_token"`
}

// Runner contains execution settings for workflow jobs.
type Runner struct {
	Shell                 string   `toml:"shell"`
	MaxParallelJobs       int      `toml:"max_parallel_jobs"`
	DefaultJobTimeoutMin  int      `toml:"default_job_timeout_minutes"`
	DefaultStepTimeoutMin int      `toml:"default_step_timeout_minutes"`
	QueuePollInterval     int      `toml:"queue_poll_interval"`
	ErrorRetryInterval    int      `toml:"error_retry_interval"`
	HeartbeatInterval     int      `toml:"heartbeat_interval"`
	HeartbeatTimeout      int      `toml:"heartbeat_timeout"`
	Labels                []string `toml:"labels"`
}

// Notifications contains configuration for the Slack-compatible webhook notifier.
type Notifications struct {
	WebhookURL     string   `toml:"webhook_url"`
	WebhookSecret  string   `toml:"webhook_secret"`
	RequestTimeout int      `toml:"request_timeout"`
	NotifyBranches []string `toml:"notify_branches"`
	RunStarted     bool     `toml:"run_started"`
	RunCompleted   bool     `toml:"run_completed"`
	RunFailed      bool     `toml:"run_failed"`
	RunCancelled   bool     `toml:"run_cancelled"`
	Coverage       bool     `toml:"coverage"`
}

// Coverage contains configuration for the external coverage report service.
type Coverage struct {
	Enabled     bool   `toml:"enabled"`
	BaseURL     string `toml:"base_url"`
	TokenFile   string `toml:"token_file"`
	Timeout     int    `toml:"timeout"`
	FailOnError bool   `toml:"fail_on_error"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Flywheel.
//
// Sections by subsystem:
//   - Paths: workflow/workspace/artifact directories and the API bind address
//   - Runner: shell, parallelism, timeouts, and polling intervals
//   - Notifications: Slack-compatible webhook settings
//   - Coverage: coverage report upload service
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Runner        Runner        `toml:"runner"`
	Notifications Notifications `toml:"notifications"`
	Coverage      Coverage      `toml:"coverage"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/flywheel/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("flywheel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	pathFields := []*string{
		&c.Paths.WorkflowsDir,
		&c.Paths.WorkspaceDir,
		&c.Paths.ArtifactsDir,
		&c.Paths.LogDir,
		&c.Paths.SecretsFile,
		&c.Coverage.TokenFile,
	}
	for _, field := range pathFields {
		if strings.TrimSpace(*field) == "" {
			continue
		}
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}

	if c.Runner.Shell == "" {
		c.Runner.Shell = defaultShell
	}
	if c.Runner.MaxParallelJobs <= 0 {
		c.Runner.MaxParallelJobs = defaultMaxParallelJobs
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
	if len(c.Notifications.NotifyBranches) == 0 {
		c.Notifications.NotifyBranches = []string{defaultNotifyBranch}
	}
	if c.Coverage.Timeout <= 0 {
		c.Coverage.Timeout = defaultCoverageTimeout
	}
	return nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkflowsDir, c.Paths.WorkspaceDir, c.Paths.ArtifactsDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
