package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateRunner(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateCoverage(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.WorkflowsDir) == "" {
		return errors.New("paths.workflows_dir must be set")
	}
	if strings.TrimSpace(c.Paths.WorkspaceDir) == "" {
		return errors.New("paths.workspace_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateRunner() error {
	if c.Runner.MaxParallelJobs < 1 {
		return errors.New("runner.max_parallel_jobs must be at least 1")
	}
	if c.Runner.DefaultJobTimeoutMin < 1 {
		return errors.New("runner.default_job_timeout_minutes must be at least 1")
	}
	if c.Runner.DefaultStepTimeoutMin < 1 {
		return errors.New("runner.default_step_timeout_minutes must be at least 1")
	}
	if c.Runner.DefaultStepTimeoutMin > c.Runner.DefaultJobTimeoutMin {
		return fmt.Errorf(
			"runner.default_step_timeout_minutes (%d) must not exceed runner.default_job_timeout_minutes (%d)",
			c.Runner.DefaultStepTimeoutMin, c.Runner.DefaultJobTimeoutMin,
		)
	}
	if c.Runner.QueuePollInterval < 1 {
		return errors.New("runner.queue_poll_interval must be at least 1 second")
	}
	if c.Runner.HeartbeatInterval < 1 {
		return errors.New("runner.heartbeat_interval must be at least 1 second")
	}
	if c.Runner.HeartbeatTimeout <= c.Runner.HeartbeatInterval {
		return errors.New("runner.heartbeat_timeout must exceed runner.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	url := strings.TrimSpace(c.Notifications.WebhookURL)
	secret := strings.TrimSpace(c.Notifications.WebhookSecret)
	if url != "" && secret != "" {
		return errors.New("notifications.webhook_url and notifications.webhook_secret are mutually exclusive")
	}
	for _, branch := range c.Notifications.NotifyBranches {
		if strings.TrimSpace(branch) == "" {
			return errors.New("notifications.notify_branches must not contain empty entries")
		}
	}
	return nil
}

func (c *Config) validateCoverage() error {
	if !c.Coverage.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Coverage.BaseURL) == "" {
		return errors.New("coverage.base_url must be set when coverage.enabled is true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
