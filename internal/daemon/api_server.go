package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"flywheel/internal/api"
	"flywheel/internal/config"
	"flywheel/internal/logging"
	"flywheel/internal/queue"
	"flywheel/internal/trigger"
)

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		token:  strings.TrimSpace(cfg.Paths.APIToken),
		logger: logger,
		daemon: d,
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Get("/api/healthz", srv.handleHealthz)
	router.Group(func(r chi.Router) {
		r.Use(srv.requireToken)
		r.Get("/api/status", srv.handleStatus)
		r.Get("/api/runs", srv.handleRunList)
		r.Get("/api/runs/{id}", srv.handleRunShow)
		r.Post("/api/runs/{id}/cancel", srv.handleRunCancel)
		r.Post("/api/runs/{id}/retry", srv.handleRunRetry)
		r.Post("/api/events", srv.handleEvent)
		r.Post("/api/dispatch", srv.handleDispatch)
	})

	srv.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr reports the bound listen address, useful when the configured bind
// uses port 0.
func (s *apiServer) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// requireToken enforces bearer authentication when an API token is
// configured.
func (s *apiServer) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != s.token {
				s.writeError(w, http.StatusUnauthorized, "invalid or missing API token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *apiServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	health, err := s.daemon.store.CheckHealth(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if !health.DatabaseReadable || !health.IntegrityCheck {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, api.FromDatabaseHealth(health))
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		RunDBPath:    status.RunDBPath,
		LockFilePath: status.LockFilePath,
		Workflows:    status.Workflows,
		Runner:       api.FromStatusSummary(status.Runner),
	})
}

func (s *apiServer) handleRunList(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.RunStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, value := range strings.Split(raw, ",") {
			statuses = append(statuses, queue.RunStatus(strings.TrimSpace(value)))
		}
	}
	runs, err := s.daemon.store.ListRuns(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.RunListResponse{Runs: api.FromRuns(runs)})
}

func (s *apiServer) handleRunShow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.daemon.store.GetRun(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", id))
		return
	}
	jobs, err := s.daemon.store.JobsForRun(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.RunDetailResponse{Run: api.FromRun(run), Jobs: api.FromJobs(jobs)})
}

func (s *apiServer) handleRunCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.daemon.store.RequestCancel(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("run %s is not cancellable", id))
		return
	}
	run, err := s.daemon.store.GetRun(r.Context(), id)
	if err != nil || run == nil {
		s.writeError(w, http.StatusInternalServerError, "cancel applied but run could not be re-read")
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromRun(run))
}

func (s *apiServer) handleRunRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.daemon.store.RetryRun(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("run %s is not retryable", id))
		return
	}
	run, err := s.daemon.store.GetRun(r.Context(), id)
	if err != nil || run == nil {
		s.writeError(w, http.StatusInternalServerError, "retry applied but run could not be re-read")
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromRun(run))
}

func (s *apiServer) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req api.EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	kind, err := trigger.ParseKind(req.Kind)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.daemon.HandleEvent(r.Context(), trigger.Event{
		Kind:   kind,
		Branch: req.Branch,
		Commit: req.Commit,
		Actor:  req.Actor,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.DispatchResponse{Runs: api.FromRuns(runs)})
}

func (s *apiServer) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req api.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Workflow) == "" {
		s.writeError(w, http.StatusBadRequest, "workflow is required")
		return
	}
	run, err := s.daemon.Dispatch(r.Context(), req.Workflow, req.Branch, req.Commit, req.Actor)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.DispatchResponse{Runs: []api.Run{api.FromRun(run)}})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode api response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
