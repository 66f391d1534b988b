// Package cues turns authored cue files into engine request batches.
//
// Ownership boundary:
//   - cue file parsing and write-back (YAML)
//   - per-cue request batches: create with /new, then set properties
//   - the number -> uniqueID mapping pulled from /cueLists
//
// Sending and reply correlation belong to the relay; this package only sees
// it through [Sender].
package cues
