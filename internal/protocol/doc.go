// Package protocol owns the wire contract for broadcast facts.
//
// Ownership boundary:
// - message shape and the closed kind tag
// - JSON encode/decode primitives
// - participant identity generation
package protocol
