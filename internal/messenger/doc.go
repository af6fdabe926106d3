// Package messenger owns the broadcast runtime.
//
// Ownership boundary:
// - lifecycle state and the two worker loops
// - callback dispatch with per-handler fault isolation
// - liveness view merged from the registry and the transport
//
// Lifecycle order:
// - stopped -> starting -> running -> stopping -> stopped
//
// - Start on a running messenger is a no-op, never an error.
//
// - Stop joins workers within a bound and proceeds past stragglers.
//
// The messenger does not interpret payloads and does not retry sends.
package messenger
