// Package runner drives workflow runs from the queue to completion. A
// manager polls for pending runs, expands each workflow's jobs into matrix
// cells, and executes them level by level so a job never starts before its
// dependencies finish. Cells of the same job run in parallel up to the
// configured limit; a fail-fast matrix cancels its remaining siblings on the
// first failure. Job heartbeats are written while a cell executes and a
// cancellation watcher stops the run when a newer run supersedes it or an
// operator cancels it.
package runner
