package queue

import (
	"encoding/json"
	"time"
)

// RunStatus represents the lifecycle of a workflow run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// JobStatus represents the lifecycle of one job (matrix cell) in a run.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
	JobSkipped   JobStatus = "skipped"
)

// SupersededReason is the error message set on runs cancelled by a newer run
// in the same concurrency group.
const SupersededReason = "superseded by a newer run in the concurrency group"

// ShutdownReason is the error message set on runs interrupted by daemon shutdown.
const ShutdownReason = "daemon stopped"

// Run is one triggered execution of a workflow.
type Run struct {
	ID               string
	Workflow         string
	EventKind        string
	Branch           string
	Commit           string
	Actor            string
	ConcurrencyGroup string
	CancelInProgress bool
	Status           RunStatus
	CancelRequested  bool
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	StartedAt        *time.Time
	FinishedAt       *time.Time
}

// Job is one executable cell of a run: a workflow job identifier plus the
// matrix values selecting this cell.
type Job struct {
	ID            int64
	RunID         string
	JobID         string
	Name          string
	RunsOn        string
	CellJSON      string
	Status        JobStatus
	ErrorMessage  string
	LogPath       string
	ArtifactsJSON string
	LastHeartbeat *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
}

// Cell decodes the matrix values stored on the job.
func (j *Job) Cell() (map[string]string, error) {
	if j.CellJSON == "" {
		return map[string]string{}, nil
	}
	var values map[string]string
	if err := json.Unmarshal([]byte(j.CellJSON), &values); err != nil {
		return nil, err
	}
	return values, nil
}

// SetCell encodes matrix values onto the job.
func (j *Job) SetCell(values map[string]string) error {
	if len(values) == 0 {
		j.CellJSON = ""
		return nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	j.CellJSON = string(data)
	return nil
}

// Artifacts decodes the collected artifact paths stored on the job.
func (j *Job) Artifacts() ([]string, error) {
	if j.ArtifactsJSON == "" {
		return nil, nil
	}
	var paths []string
	if err := json.Unmarshal([]byte(j.ArtifactsJSON), &paths); err != nil {
		return nil, err
	}
	return paths, nil
}

// SetArtifacts encodes collected artifact paths onto the job.
func (j *Job) SetArtifacts(paths []string) error {
	if len(paths) == 0 {
		j.ArtifactsJSON = ""
		return nil
	}
	data, err := json.Marshal(paths)
	if err != nil {
		return err
	}
	j.ArtifactsJSON = string(data)
	return nil
}

// ReduceJobStatuses folds job results into the run outcome. Skipped jobs do
// not count; cancellation wins over failure so a superseded run never
// reports failed.
func ReduceJobStatuses(statuses []JobStatus) RunStatus {
	sawCancelled := false
	sawFailed := false
	for _, status := range statuses {
		switch status {
		case JobCancelled:
			sawCancelled = true
		case JobFailed:
			sawFailed = true
		case JobPending, JobRunning:
			return RunRunning
		}
	}
	switch {
	case sawCancelled:
		return RunCancelled
	case sawFailed:
		return RunFailed
	default:
		return RunSucceeded
	}
}

// HealthSummary aggregates run counts for diagnostics.
type HealthSummary struct {
	Total     int
	Pending   int
	Running   int
	Succeeded int
	Failed    int
	Cancelled int
}

// DatabaseHealth captures diagnostic information about the run database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TablesPresent    []string
	MissingTables    []string
	TotalRuns        int
	IntegrityCheck   bool
	Error            string
}
