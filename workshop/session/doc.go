// Package session implements the in-memory session registry and the
// lifecycle machinery built on top of it.
//
// # Registry
//
// Store keeps every session in a single map guarded by an RWMutex. Reads
// hand out deep clones, so callers can never mutate a record outside the
// store's lock; all writes go through Store methods that take the write
// lock for the full read-modify-write. Expiry is lazy: Get hides records
// past their deadline but leaves them in the map until CleanupExpired
// sweeps them, and Peek exposes them for lifecycle checks.
//
// # Codes
//
// Session codes are six characters from A-Z0-9, drawn uniformly via
// rejection sampling over crypto/rand. GenerateUniqueCode retries a bounded
// number of times against a caller-supplied existence check and fails with
// ErrCodeAllocationExhausted rather than looping forever.
//
// # Reveal state
//
// Each participant carries two reveal flags (top8, top3). ApplyReveal
// raises or lowers a flag, stores or clears the associated cards, and
// rederives the status label from the flags. The label is display-only;
// the flags are the source of truth.
//
// # Lifecycle
//
// Lifecycle runs one monitor goroutine per watched code. The loop checks
// the session's deadline, tightens its interval once inside the warning
// window, invokes registered callbacks, and deactivates the session when
// the deadline passes. Expiry callbacks fire exactly once; deactivated
// records stay in the registry for sweeps so observers can tell "expired"
// apart from "never existed".
//
// # Usage
//
//	store := session.NewStore()
//	lc := session.NewLifecycle(store, session.DefaultLifecycleOptions())
//
//	sess, err := store.Create(session.DefaultConfigFromEnv(), "")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	lc.RegisterCallbacks(sess.Code, session.Callbacks{
//		OnExpired: func(code string) { log.Printf("%s expired", code) },
//	})
//	lc.Monitor(sess.Code)
package session
