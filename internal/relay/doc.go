// Package relay is the dual-transport core of the bridge.
//
// Ownership boundary:
//   - decides, per inbound message, between correlate, forward and
//     log-and-forward
//   - turns outbound requests into one engine frame plus reply expectations
//   - runs the session handshake over its own send path
//
// The relay does not own sockets. Adapters in internal/transport feed it
// frames through transport.Handler and receive frames through
// transport.Channel.
package relay
