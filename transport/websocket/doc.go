// Package websocket provides the observer feed for ValueSort sessions.
//
// The websocket package implements:
//   - Session-scoped fan-out of workshop events
//   - Connection lifecycle management
//   - Non-blocking publishing from service goroutines
//
// Architecture:
//
// The package uses a hub-and-spoke model where a central Hub owns the
// observer registry. All registry access happens on the Run goroutine;
// registration, unregistration, and publishing flow through channels, so
// any goroutine may publish without additional locking.
//
// Message Protocol:
//
// Observers receive JSON frames and never send meaningful data back:
//
//	{"sessionCode": "ABC123", "event": "participant_joined", "data": {...}}
//
// Events mirror the service layer's event names: session_created,
// session_deleted, session_warning, session_expired, participant_joined,
// participant_left, reveal_updated, activity_updated.
//
// Session Integration:
//
// Observers subscribe to one session by query parameter (?session=ABC123)
// when establishing the connection. Events are delivered only to observers
// of the matching session code.
//
// Usage:
//
//	hub := websocket.NewHub()
//	go hub.Run()
//
//	svc.SetEventSink(func(event, code string, data any) {
//		hub.Publish(code, event, data)
//	})
//	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
//		hub.ServeWS(w, r, code)
//	})
//
// Delivery:
//
// Publishing never blocks. Events queue in a bounded buffer and are dropped
// with a log line when observers cannot keep up; the REST API remains the
// authoritative view, so a dropped event costs an observer one refresh.
package websocket
