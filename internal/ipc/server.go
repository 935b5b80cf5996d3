package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"flywheel/internal/api"
	"flywheel/internal/daemon"
	"flywheel/internal/logging"
	"flywheel/internal/notifications"
	"flywheel/internal/queue"
	"flywheel/internal/trigger"
)

// ServiceName is the JSON-RPC namespace the daemon registers.
const ServiceName = "Flywheel"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, notifier notifications.Service, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, notifier: notifier, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"))
	}
}

type service struct {
	daemon   *daemon.Daemon
	notifier notifications.Service
	logger   *slog.Logger
	ctx      context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.RunDBPath = status.RunDBPath
	resp.LockPath = status.LockFilePath
	resp.Workflows = status.Workflows
	resp.LastError = status.Runner.LastError
	resp.QueueStats = make(map[string]int, len(status.Runner.QueueStats))
	for key, count := range status.Runner.QueueStats {
		resp.QueueStats[string(key)] = count
	}
	if status.Runner.ActiveRun != nil {
		active := api.FromRun(status.Runner.ActiveRun)
		resp.ActiveRun = &active
	}
	return nil
}

func (s *service) RunList(req RunListRequest, resp *RunListResponse) error {
	statuses := make([]queue.RunStatus, 0, len(req.Statuses))
	for _, value := range req.Statuses {
		statuses = append(statuses, queue.RunStatus(value))
	}
	runs, err := s.daemon.Store().ListRuns(s.ctx, statuses...)
	if err != nil {
		return err
	}
	resp.Runs = api.FromRuns(runs)
	return nil
}

func (s *service) RunShow(req RunShowRequest, resp *RunShowResponse) error {
	run, err := s.daemon.Store().GetRun(s.ctx, req.ID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", req.ID)
	}
	jobs, err := s.daemon.Store().JobsForRun(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Run = api.FromRun(run)
	resp.Jobs = api.FromJobs(jobs)
	return nil
}

func (s *service) RunCancel(req RunCancelRequest, resp *RunCancelResponse) error {
	ok, err := s.daemon.Store().RequestCancel(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Cancelled = ok
	if ok {
		resp.Message = "cancellation requested"
	} else {
		resp.Message = "run is not cancellable"
	}
	return nil
}

func (s *service) RunRetry(req RunRetryRequest, resp *RunRetryResponse) error {
	ok, err := s.daemon.Store().RetryRun(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Retried = ok
	if ok {
		resp.Message = "run requeued"
	} else {
		resp.Message = "only failed or cancelled runs can be retried"
	}
	return nil
}

func (s *service) Dispatch(req DispatchRequest, resp *DispatchResponse) error {
	run, err := s.daemon.Dispatch(s.ctx, req.Workflow, req.Branch, req.Commit, req.Actor)
	if err != nil {
		return err
	}
	resp.Run = api.FromRun(run)
	return nil
}

func (s *service) Event(req EventRequest, resp *EventResponse) error {
	kind, err := trigger.ParseKind(req.Kind)
	if err != nil {
		return err
	}
	runs, err := s.daemon.HandleEvent(s.ctx, trigger.Event{
		Kind:   kind,
		Branch: req.Branch,
		Commit: req.Commit,
		Actor:  req.Actor,
	})
	if err != nil {
		return err
	}
	resp.Runs = api.FromRuns(runs)
	return nil
}

func (s *service) QueueClear(req QueueClearRequest, resp *QueueClearResponse) error {
	var removed int64
	var err error
	if req.All {
		removed, err = s.daemon.Store().ClearAll(s.ctx)
	} else {
		removed, err = s.daemon.Store().ClearFinished(s.ctx)
	}
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) DatabaseHealth(_ DatabaseHealthRequest, resp *DatabaseHealthResponse) error {
	health, err := s.daemon.Store().CheckHealth(s.ctx)
	if err != nil {
		return err
	}
	*resp = api.FromDatabaseHealth(health)
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	if s.notifier == nil {
		resp.Sent = false
		resp.Message = "notifications are not configured"
		return nil
	}
	if err := s.notifier.TestNotification(s.ctx); err != nil {
		resp.Sent = false
		resp.Message = err.Error()
		return nil
	}
	resp.Sent = true
	resp.Message = "notification sent"
	return nil
}

func (s *service) Reload(_ ReloadRequest, resp *ReloadResponse) error {
	if err := s.daemon.ReloadWorkflows(); err != nil {
		resp.Reloaded = false
		resp.Message = err.Error()
		return nil
	}
	resp.Reloaded = true
	resp.Message = "workflows reloaded"
	return nil
}
