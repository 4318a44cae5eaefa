// Package service provides the business logic layer for ValueSort workshops.
//
// The service package implements:
//   - Multi-session workshop management
//   - Atomic join-or-create with creator rollback
//   - Participant activity and reveal tracking
//   - Per-participant sorting state storage
//   - Session timeout monitoring and cleanup
//
// Core Interfaces:
//
// WorkshopService is the main service interface providing high-level session
// operations. SessionStore, LifecycleManager, DeckManager, and StateRegistry
// are the collaborator contracts it orchestrates; the concrete implementations
// live in the session, deck, and scoped packages.
//
// Architecture:
//
// The service layer sits between the transport layer (HTTP/WebSocket/MCP) and
// the session registry, enforcing the invariants individual stores cannot see
// on their own: a failed creator join rolls the new session back, a deleted
// session takes its sorting state and timeout monitor with it, and racing
// join-or-create calls for one code land every caller in the same session.
//
// Usage:
//
//	store := session.NewStore()
//	lifecycle := session.NewLifecycle(store, session.DefaultLifecycleOptions())
//	decks, err := deck.NewManager("decks")
//	if err != nil {
//		log.Fatal(err)
//	}
//	states := scoped.NewRegistry()
//	svc := service.NewWorkshopService(store, lifecycle, decks, states, session.DefaultConfigFromEnv())
//
//	// Create a session with its first participant
//	result, err := svc.CreateSessionWithCreator(ctx, session.Config{}, "Alice", clientID)
//
//	// Later joins resume by client identity
//	result, err = svc.JoinSession(ctx, result.Session.Code, "Alice", clientID)
//
// Events:
//
// Timer-driven events (expiry warnings, expiration) surface through an
// EventSink registered with SetEventSink. Request-driven events are the
// caller's responsibility; transports broadcast them after a mutation
// succeeds. Sinks run on lifecycle goroutines and must not block.
package service
