// Package bridge runs the relay as a standalone process.
//
// Ownership boundary:
//   - engine channel lifecycle and the handshake retry policy
//   - HTTP surface: /osc (WebSocket clients), /healthz, /metrics
//   - shutdown ordering: clients, HTTP listener, relay
package bridge
