// Package api provides the HTTP REST surface for ValueSort workshops.
//
// The api package implements:
//   - RESTful endpoints for session and participant operations
//   - Per-endpoint rate limiting with standard X-RateLimit headers
//   - Client identity cookies so reconnecting browsers resume their seat
//   - Observer event publishing after successful mutations
//   - WebSocket upgrade handling for the observer feed
//
// Endpoints:
//
// Session Management:
//   - POST /api/sessions - Create a session; with {participantName,
//     sessionCode} it is an atomic join-or-create, with {creatorName} the
//     creator joins as the first participant
//   - GET /api/sessions - List live sessions
//   - GET /api/sessions/{code} - One session plus its timeout status
//   - POST /api/sessions/{code}/join - Join (or resume) a session
//   - POST /api/sessions/{code}/leave - Leave; deletes the session when the
//     last participant goes
//
// Participant Operations:
//   - POST /api/sessions/{code}/activity - Heartbeat and step tracking
//   - POST /api/sessions/{code}/reveal - Reveal or hide top-8/top-3 piles
//   - GET/PUT /api/sessions/{code}/participants/{participantId}/state?step=N -
//     Per-step card arrangement storage
//
// Decks and Maintenance:
//   - GET /api/decks, GET /api/decks/{name} - Available card decks
//   - POST /api/cleanup - Sweep expired sessions
//   - GET /api/health - Liveness plus session count
//
// Observer Feed:
//   - GET /ws?session=CODE - WebSocket feed of that session's events
//
// Rate Limiting:
//
// Session creation and joins pass through independent fixed-window limiters
// keyed by client address. Every limited response carries X-RateLimit-Limit,
// X-RateLimit-Remaining, and X-RateLimit-Reset; a rejected request gets 429
// with Retry-After.
//
// Client Identity:
//
// Join-shaped requests are bound to a UUID carried in the vs_client_id
// cookie (issued on first contact). A join from a cookie already present in
// the session resumes that participant instead of seating a duplicate.
//
// Usage:
//
//	server := api.NewServer(svc, hub, api.RateLimitsFromEnv())
//	http.ListenAndServe(":8080", server)
//
// Error Handling:
//
// Errors are returned as JSON with appropriate HTTP status codes:
//
//	{
//	  "error": "error message",
//	  "code": 400
//	}
//
// Validation failures map to 400, unknown sessions and participants to 404,
// a full session to 403, an ended session to 410, and rate limiting to 429.
// Internal details never leak; they are logged server-side.
package api
