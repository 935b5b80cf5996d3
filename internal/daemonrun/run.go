// Package daemonrun hosts the shared daemon bootstrap used by the flywheeld
// binary and the CLI's foreground daemon command.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"flywheel/internal/config"
	"flywheel/internal/daemon"
	"flywheel/internal/ipc"
	"flywheel/internal/logging"
	"flywheel/internal/notifications"
	"flywheel/internal/preflight"
	"flywheel/internal/queue"
	"flywheel/internal/runner"
	"flywheel/internal/secrets"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel   string
	SocketPath string
}

// Run starts the flywheel daemon runtime loop and blocks until the context is
// canceled or a termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102T150405Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("flywheeld-%s.log", stamp))

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update flywheeld.log link: %v\n", err)
	}

	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open run store", logging.Error(err))
		return err
	}
	defer store.Close()

	secretStore, err := secrets.Load(cfg.Paths.SecretsFile)
	if err != nil {
		logger.Error("load secrets", logging.Error(err))
		return err
	}

	for _, check := range preflight.RunAll(signalCtx, cfg) {
		if !check.Passed {
			logger.Warn("preflight check failed",
				logging.String("check", check.Name),
				logging.String("detail", check.Detail))
		}
	}

	notifier := notifications.NewService(cfg, secretStore)
	mgr := runner.NewManagerWithNotifier(cfg, store, logger, secretStore, notifier)

	d, err := daemon.New(cfg, store, logger, mgr)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	socketPath := opts.SocketPath
	if socketPath == "" {
		socketPath = SocketPath(cfg)
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, notifier, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start", logging.Error(err))
	}

	<-signalCtx.Done()
	logger.Info("flywheel daemon shutting down")
	return nil
}

// SocketPath returns the control socket location for the given config.
func SocketPath(cfg *config.Config) string {
	if cfg == nil {
		return filepath.Join("", "flywheeld.sock")
	}
	return filepath.Join(cfg.Paths.LogDir, "flywheeld.sock")
}

// PIDPath returns the daemon pid file location for the given config.
func PIDPath(cfg *config.Config) string {
	if cfg == nil {
		return filepath.Join("", "flywheeld.pid")
	}
	return filepath.Join(cfg.Paths.LogDir, "flywheeld.pid")
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// ensureCurrentLogPointer keeps LogDir/flywheeld.log pointing at the newest
// daemon log so operators have a stable path to tail.
func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "flywheeld.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Symlink(target, current); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}
