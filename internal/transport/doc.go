// Package transport defines the boundary between the relay and the sockets on
// either side of it.
//
// The relay depends on two capabilities it does not implement: a client
// channel toward the sandboxed host and an engine channel toward the control
// engine. Both are modelled as [Channel] for outbound frames and report
// inbound frames and failures to a [Handler]. Adapters live in subpackages:
// [github.com/danmuck/cuebridge/internal/transport/ws] serves sandboxed
// clients over WebSocket and [github.com/danmuck/cuebridge/internal/transport/udp]
// speaks OSC over UDP to the engine.
//
// Adapters never retransmit. Channel-level failures surface as [ErrTransport]
// through [Wrap].
package transport
