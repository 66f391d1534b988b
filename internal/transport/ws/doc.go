// Package ws serves sandboxed clients over WebSocket.
//
// Each binary WebSocket message carries exactly one OSC packet. The hub
// treats all connected clients as one client side of the relay.
package ws
