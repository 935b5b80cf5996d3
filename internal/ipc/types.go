package ipc

import "flywheel/internal/api"

// Run mirrors the HTTP API run DTO for internal IPC callers.
type Run = api.Run

// Job mirrors the HTTP API job DTO for internal IPC callers.
type Job = api.Job

// StartRequest triggers daemon startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the daemon services.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon/runner status information.
type StatusResponse struct {
	Running    bool           `json:"running"`
	PID        int            `json:"pid"`
	QueueStats map[string]int `json:"queue_stats"`
	LastError  string         `json:"last_error"`
	ActiveRun  *Run           `json:"active_run"`
	LockPath   string         `json:"lock_path"`
	RunDBPath  string         `json:"run_db_path"`
	Workflows  []string       `json:"workflows"`
}

// RunListRequest filters run listing by status.
type RunListRequest struct {
	Statuses []string `json:"statuses"`
}

// RunListResponse contains run entries.
type RunListResponse struct {
	Runs []Run `json:"runs"`
}

// RunShowRequest fetches a single run with its jobs.
type RunShowRequest struct {
	ID string `json:"id"`
}

// RunShowResponse contains a run and its jobs.
type RunShowResponse struct {
	Run  Run   `json:"run"`
	Jobs []Job `json:"jobs"`
}

// RunCancelRequest requests cancellation of a run.
type RunCancelRequest struct {
	ID string `json:"id"`
}

// RunCancelResponse reports whether the cancel applied.
type RunCancelResponse struct {
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message"`
}

// RunRetryRequest requeues a terminal run.
type RunRetryRequest struct {
	ID string `json:"id"`
}

// RunRetryResponse reports whether the retry applied.
type RunRetryResponse struct {
	Retried bool   `json:"retried"`
	Message string `json:"message"`
}

// DispatchRequest starts a workflow manually.
type DispatchRequest struct {
	Workflow string `json:"workflow"`
	Branch   string `json:"branch"`
	Commit   string `json:"commit"`
	Actor    string `json:"actor"`
}

// DispatchResponse reports the admitted run.
type DispatchResponse struct {
	Run Run `json:"run"`
}

// EventRequest reports a repository event for trigger matching.
type EventRequest struct {
	Kind   string `json:"kind"`
	Branch string `json:"branch"`
	Commit string `json:"commit"`
	Actor  string `json:"actor"`
}

// EventResponse lists the runs admitted for the event.
type EventResponse struct {
	Runs []Run `json:"runs"`
}

// QueueClearRequest removes finished runs, or all runs when All is set.
type QueueClearRequest struct {
	All bool `json:"all"`
}

// QueueClearResponse reports number of removed runs.
type QueueClearResponse struct {
	Removed int64 `json:"removed"`
}

// DatabaseHealthRequest fetches detailed database diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse reports database health information.
type DatabaseHealthResponse = api.DatabaseHealth

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// ReloadRequest re-reads workflow files and refreshes schedules.
type ReloadRequest struct{}

// ReloadResponse reports reload outcome.
type ReloadResponse struct {
	Reloaded bool   `json:"reloaded"`
	Message  string `json:"message"`
}
