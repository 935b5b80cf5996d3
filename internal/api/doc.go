// Package api defines transport-neutral DTOs shared by the HTTP API and the
// unix-socket IPC surface, plus converters from the internal queue and
// runner types.
package api
