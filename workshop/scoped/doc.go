// Package scoped keeps each participant's in-progress sorting state,
// isolated per session and participant.
//
// # Keys
//
// Every entry is addressed by "<SESSIONCODE>:<PARTICIPANTID>". Keys are
// validated on access: the code half must be a well-formed session code and
// the participant half is limited to letters, digits, underscores, and
// hyphens. Malformed keys never create entries.
//
// # State
//
// A participant's bundle holds one StepState per sorting step (1 through 3):
// the card ordering being built and the named piles cards have been sorted
// into. Bundles are created empty on first access; reads and writes go
// through the bundle's own lock and reads return copies.
//
// # Eviction
//
// State lives exactly as long as its owner: leaving a session evicts the
// participant's entry, a session ending evicts all of its entries, and
// SweepOrphans clears entries whose session has expired out from under them.
package scoped
