package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"flywheel/internal/daemonctl"
	"flywheel/internal/preflight"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the flywheel daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonLaunchOptions(ctx),
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintln(stdout, "Daemon started")
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			case daemonctl.StartStateRequested:
				if strings.TrimSpace(result.Message) != "" {
					fmt.Fprintln(stdout, result.Message)
					return nil
				}
				fmt.Fprintln(stdout, "Start request sent")
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the flywheel daemon (completely terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if !result.StopAcknowledged {
				fmt.Fprintln(stdout, "Stop request sent")
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the flywheel daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.Restart(
				ctx.socketPath(),
				ctx.configValue(),
				exe,
				daemonLaunchOptions(ctx),
				5*time.Second,
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.WasRunning {
				if result.Stop.ForcedKill && result.Stop.PID > 0 {
					fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}

			switch result.Start.State {
			case daemonctl.StartStateStarted, daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon restarted")
			case daemonctl.StartStateRequested:
				if strings.TrimSpace(result.Start.Message) != "" {
					fmt.Fprintln(stdout, result.Start.Message)
					return nil
				}
				fmt.Fprintln(stdout, "Start request sent")
			}
			return nil
		},
	}

	var runChecks bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and run queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			status, err := daemonctl.StatusSnapshot(cmd.Context(), ctx.socketPath(), cfg)
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("System Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if status.Running {
				fmt.Fprintln(stdout, renderStatusLine("Flywheel", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("Flywheel", statusWarn, "Not running (run `flywheel start`)", colorize))
			}
			if status.LastError != "" {
				fmt.Fprintln(stdout, renderStatusLine("Runner", statusError, status.LastError, colorize))
			}
			if status.ActiveRun != nil {
				detail := fmt.Sprintf("%s %s (%s)", status.ActiveRun.Workflow, shortID(status.ActiveRun.ID), status.ActiveRun.Status)
				fmt.Fprintln(stdout, renderStatusLine("Active run", statusInfo, detail, colorize))
			}
			if cfg != nil {
				notifyState := statusWarn
				notifyDetail := "Not configured"
				if cfg.Notifications.WebhookURL != "" || cfg.Notifications.WebhookSecret != "" {
					notifyState = statusOK
					notifyDetail = "Configured"
				}
				fmt.Fprintln(stdout, renderStatusLine("Notifications", notifyState, notifyDetail, colorize))

				coverageDetail := "Disabled"
				coverageState := statusInfo
				if cfg.Coverage.Enabled && cfg.Coverage.BaseURL != "" {
					coverageDetail = cfg.Coverage.BaseURL
					coverageState = statusOK
				}
				fmt.Fprintln(stdout, renderStatusLine("Coverage", coverageState, coverageDetail, colorize))
			}
			if len(status.Workflows) > 0 {
				fmt.Fprintln(stdout, renderStatusLine("Workflows", statusOK, strings.Join(status.Workflows, ", "), colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("Workflows", statusWarn, "None registered", colorize))
			}

			fmt.Fprintln(stdout)
			for _, line := range renderSectionHeader("Queue Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			rows := buildQueueStatusRows(status.QueueStats)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "Queue is empty")
			} else {
				fmt.Fprintln(stdout, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			}

			if runChecks && cfg != nil {
				fmt.Fprintln(stdout)
				for _, line := range renderSectionHeader("Host Checks", colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, check := range preflight.RunAll(cmd.Context(), cfg) {
					state := statusOK
					if !check.Passed {
						state = statusError
					}
					fmt.Fprintln(stdout, renderStatusLine(check.Name, state, check.Detail, colorize))
				}
			}
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&runChecks, "checks", false, "Also run host preflight checks (directories, binaries, services)")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{}
	if ctx.socketFlag != nil {
		if socket := strings.TrimSpace(*ctx.socketFlag); socket != "" {
			opts.SocketPath = socket
		}
	}
	if ctx.configFlag != nil {
		if cfgPath := strings.TrimSpace(*ctx.configFlag); cfgPath != "" {
			opts.ConfigPath = cfgPath
		}
	}
	return opts
}
