// Package transport owns datagram movement for broadcast facts.
//
// Ownership boundary:
// - the Transport contract shared by every backend
// - UDP multicast send/receive on the fixed group endpoint
// - shared-directory publish/poll with atomic file handoff
// - the in-process hub used for loopback wiring
//
// Transports move encoded facts and never interpret payloads.
// Self-suppression at dispatch belongs to the orchestrator above; the
// shared-directory backend additionally skips files it wrote itself,
// which would otherwise echo back on every poll.
package transport
