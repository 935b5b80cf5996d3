package config

const (
	defaultWorkflowsDir      = "~/.config/flywheel/workflows"
	defaultWorkspaceDir      = "~/.local/share/flywheel/workspaces"
	defaultArtifactsDir      = "~/.local/share/flywheel/artifacts"
	defaultLogDir            = "~/.local/share/flywheel/logs"
	defaultSecretsFile       = "~/.config/flywheel/secrets.toml"
	defaultAPIBind           = "127.0.0.1:7718"
	defaultShell             = "/bin/sh"
	defaultMaxParallelJobs   = 4
	defaultJobTimeoutMin     = 50
	defaultStepTimeoutMin    = 40
	defaultQueuePollInterval = 5
	defaultErrorRetry        = 10
	defaultHeartbeatInterval = 15
	defaultHeartbeatTimeout  = 120
	defaultNotifyTimeout     = 10
	defaultNotifyBranch      = "main"
	defaultCoverageTimeout   = 60
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultCoverageTokenFile = "~/.config/flywheel/coverage_token"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkflowsDir: defaultWorkflowsDir,
			WorkspaceDir: defaultWorkspaceDir,
			ArtifactsDir: defaultArtifactsDir,
			LogDir:       defaultLogDir,
			SecretsFile:  defaultSecretsFile,
			APIBind:      defaultAPIBind,
		},
		Runner: Runner{
			Shell:                 defaultShell,
			MaxParallelJobs:       defaultMaxParallelJobs,
			DefaultJobTimeoutMin:  defaultJobTimeoutMin,
			DefaultStepTimeoutMin: defaultStepTimeoutMin,
			QueuePollInterval:     defaultQueuePollInterval,
			ErrorRetryInterval:    defaultErrorRetry,
			HeartbeatInterval:     defaultHeartbeatInterval,
			HeartbeatTimeout:      defaultHeartbeatTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			NotifyBranches: []string{defaultNotifyBranch},
			RunFailed:      true,
			RunCancelled:   false,
			Coverage:       true,
		},
		Coverage: Coverage{
			TokenFile: defaultCoverageTokenFile,
			Timeout:   defaultCoverageTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
