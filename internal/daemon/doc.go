// Package daemon wires the long-running pieces together: the run store, the
// runner manager, the cron scheduler, and the HTTP API. A file lock enforces
// a single daemon per host so two runners never claim the same run database.
package daemon
