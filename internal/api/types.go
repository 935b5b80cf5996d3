package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Run describes a workflow run in a transport-friendly format.
type Run struct {
	ID               string `json:"id"`
	Workflow         string `json:"workflow"`
	Event            string `json:"event"`
	Branch           string `json:"branch,omitempty"`
	Commit           string `json:"commit,omitempty"`
	Actor            string `json:"actor,omitempty"`
	ConcurrencyGroup string `json:"concurrencyGroup,omitempty"`
	Status           string `json:"status"`
	CancelRequested  bool   `json:"cancelRequested,omitempty"`
	ErrorMessage     string `json:"errorMessage,omitempty"`
	CreatedAt        string `json:"createdAt,omitempty"`
	StartedAt        string `json:"startedAt,omitempty"`
	FinishedAt       string `json:"finishedAt,omitempty"`
}

// Job describes one matrix cell of a run.
type Job struct {
	ID           int64             `json:"id"`
	JobID        string            `json:"jobId"`
	Name         string            `json:"name"`
	RunsOn       string            `json:"runsOn,omitempty"`
	Matrix       map[string]string `json:"matrix,omitempty"`
	Status       string            `json:"status"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	LogPath      string            `json:"logPath,omitempty"`
	Artifacts    []string          `json:"artifacts,omitempty"`
	StartedAt    string            `json:"startedAt,omitempty"`
	FinishedAt   string            `json:"finishedAt,omitempty"`
}

// RunnerStatus summarizes runner execution state.
type RunnerStatus struct {
	Running    bool           `json:"running"`
	LastError  string         `json:"lastError,omitempty"`
	ActiveRun  *Run           `json:"activeRun,omitempty"`
	QueueStats map[string]int `json:"queueStats"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool         `json:"running"`
	PID          int          `json:"pid"`
	RunDBPath    string       `json:"runDbPath"`
	LockFilePath string       `json:"lockFilePath"`
	Workflows    []string     `json:"workflows"`
	Runner       RunnerStatus `json:"runner"`
}

// DatabaseHealth reports run database diagnostics.
type DatabaseHealth struct {
	DBPath           string   `json:"dbPath"`
	DatabaseExists   bool     `json:"databaseExists"`
	DatabaseReadable bool     `json:"databaseReadable"`
	TablesPresent    []string `json:"tablesPresent,omitempty"`
	MissingTables    []string `json:"missingTables,omitempty"`
	TotalRuns        int      `json:"totalRuns"`
	IntegrityCheck   bool     `json:"integrityCheck"`
	Error            string   `json:"error,omitempty"`
}

// RunListResponse wraps a collection of runs.
type RunListResponse struct {
	Runs []Run `json:"runs"`
}

// RunDetailResponse wraps a run with its jobs.
type RunDetailResponse struct {
	Run  Run   `json:"run"`
	Jobs []Job `json:"jobs"`
}

// DispatchRequest asks the daemon to start a workflow manually.
type DispatchRequest struct {
	Workflow string `json:"workflow"`
	Branch   string `json:"branch,omitempty"`
	Commit   string `json:"commit,omitempty"`
	Actor    string `json:"actor,omitempty"`
}

// EventRequest reports a repository event (push or pull request) to the
// daemon for trigger matching.
type EventRequest struct {
	Kind   string `json:"kind"`
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`
	Actor  string `json:"actor,omitempty"`
}

// DispatchResponse lists the runs admitted for an event or dispatch.
type DispatchResponse struct {
	Runs []Run `json:"runs"`
}
