// Package correlator pairs outbound batches with the asynchronous replies the
// engine sends back on pattern-matched addresses.
//
// Each reply-expecting message registers one PendingRequest keyed by a
// protocol.MatchPattern. An inbound reply is consumed by the most specific
// active pattern that matches it (exact beats wildcard, longer prefix beats
// shorter, oldest wins a tie), so overlapping patterns never double-count.
//
// Outcomes: every expectation satisfied (replies in arrival order), a denied
// reply (ErrAccessRevoked), an error reply or undecodable envelope
// (ErrSendFailed), or no reply within the timeout (ErrTimeout). Replies that
// arrive after their call resolved are ignored.
package correlator
