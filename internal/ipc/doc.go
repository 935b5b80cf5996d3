// Package ipc exposes daemon control over JSON-RPC on a Unix domain socket.
// The CLI talks to the daemon through this surface; the HTTP API covers
// remote callers such as post-receive hooks.
package ipc
