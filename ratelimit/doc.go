// Package ratelimit provides fixed-window request rate limiting keyed by an
// arbitrary client identifier (typically the source address).
//
// Each Limiter owns an independent counter table, so endpoints with different
// traffic profiles (session creation vs join) use separate Limiter instances
// and cannot starve one another.
//
// Semantics:
//
// The first request for a key opens a window [now, now+Window). Every call
// increments the key's counter; once the counter exceeds MaxRequests the
// request is denied until the window passes, at which point the next call
// opens a fresh window. Check is purely synchronous bookkeeping; it never
// blocks or sleeps.
//
// Usage:
//
//	limiter := ratelimit.New("create", ratelimit.Config{
//		MaxRequests: 5,
//		Window:      time.Minute,
//	})
//
//	result := limiter.Check(clientAddr)
//	if !result.Allowed {
//		// deny with retry metadata from result.ResetTime
//	}
//
// Call Purge periodically to drop counters whose window has passed and keep
// the table from growing with one-off clients.
package ratelimit
