// Package protocol owns the control engine's wire contract.
//
// Ownership boundary:
// - message/bundle values and their OSC encoding
// - the address dictionary and reply addressing convention
// - reply match patterns and their specificity rule
// - reply envelope decoding
//
// Nothing in this package performs I/O.
package protocol
