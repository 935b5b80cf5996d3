// Package queue persists workflow runs and their jobs in SQLite.
//
// The store owns the run lifecycle (pending, running, succeeded, failed,
// cancelled) and the per-cell job records beneath each run. Concurrency
// admission happens here: creating a run whose workflow declares
// cancel_in_progress atomically flags superseded in-flight runs of the same
// group and branch for cancellation. Heartbeat columns let the runner
// reclaim work orphaned by a crash.
package queue
