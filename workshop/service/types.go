package service

import (
	"github.com/valuesort/valuesort/workshop/session"
)

// Event names for timer-driven and request-driven notifications fanned out
// to connected transports.
const (
	EventSessionCreated    = "session_created"
	EventSessionDeleted    = "session_deleted"
	EventSessionWarning    = "session_warning"
	EventSessionExpired    = "session_expired"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventRevealUpdated     = "reveal_updated"
	EventActivityUpdated   = "activity_updated"
)

// EventSink receives notifications that do not originate from a request,
// such as timeout warnings fired by a monitor loop. Implementations must
// not block; they run on lifecycle goroutines.
type EventSink func(event, sessionCode string, data any)

// JoinResult is returned by every operation that puts a participant into a
// session. Rejoined is set when an existing participant was resumed by
// client identity instead of a new one being added; Created is set when the
// session itself was created by this call.
type JoinResult struct {
	Session     *session.Session     `json:"session"`
	Participant *session.Participant `json:"participant"`
	Rejoined    bool                 `json:"rejoined,omitempty"`
	Created     bool                 `json:"created,omitempty"`
}

// LeaveResult reports the outcome of a leave. SessionDeleted is set when the
// departing participant was the last one and the session was removed with
// them.
type LeaveResult struct {
	SessionDeleted bool `json:"sessionDeleted"`
}
