// Package session owns the engine workspace session.
//
// Ownership boundary:
// - connect handshake and permission parsing
// - write-once workspace identity
// - session-scoped address construction and stripping
// - handshake retry/backoff primitives and reply timing defaults
//
// The session never touches a socket; it sends through a Sender (the relay).
package session
