// Package executor runs the steps of a single job inside its workspace
// directory. Steps execute sequentially through the configured shell with a
// layered environment (workflow, then job, then step), secret references
// resolved, and combined output appended to the job's log file. A failing
// step stops the default flow; later steps still run when their condition
// evaluates true against the job's state, so gate and cleanup steps work.
package executor
