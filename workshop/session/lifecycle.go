package session

import (
	"log"
	"sync"
	"time"
)

// TimeoutInfo reports how close a session is to expiring. TimeRemaining is
// in milliseconds and never negative; once a session is past its expiry the
// info reads {0, false, true}.
type TimeoutInfo struct {
	TimeRemaining int64 `json:"timeRemaining"`
	IsWarning     bool  `json:"isWarning"`
	IsExpired     bool  `json:"isExpired"`
}

// Callbacks are invoked from a session's monitor loop. OnWarning fires on
// every check inside the warning window; OnExpired fires exactly once, when
// the session is deactivated. Both run outside the lifecycle's lock and are
// recovered if they panic.
type Callbacks struct {
	OnWarning func(code string, info TimeoutInfo)
	OnExpired func(code string)
}

// LifecycleOptions tune the monitor loops. Zero values fall back to the
// defaults: warn 5 minutes before expiry, check every 30 seconds, and check
// every 10 seconds once inside the warning window.
type LifecycleOptions struct {
	WarnBefore      time.Duration
	CheckInterval   time.Duration
	WarningInterval time.Duration
}

// DefaultLifecycleOptions returns the production intervals.
func DefaultLifecycleOptions() LifecycleOptions {
	return LifecycleOptions{
		WarnBefore:      5 * time.Minute,
		CheckInterval:   30 * time.Second,
		WarningInterval: 10 * time.Second,
	}
}

// Lifecycle watches sessions for inactivity timeouts. Each monitored code
// gets its own self-rescheduling goroutine that checks the session's expiry,
// tightens its interval inside the warning window, and deactivates the
// session once the deadline passes.
type Lifecycle struct {
	store *Store
	opts  LifecycleOptions

	mu        sync.Mutex
	callbacks map[string]Callbacks
	monitors  map[string]chan struct{}
}

// NewLifecycle wires a Lifecycle to the registry it watches.
func NewLifecycle(store *Store, opts LifecycleOptions) *Lifecycle {
	def := DefaultLifecycleOptions()
	if opts.WarnBefore <= 0 {
		opts.WarnBefore = def.WarnBefore
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = def.CheckInterval
	}
	if opts.WarningInterval <= 0 {
		opts.WarningInterval = def.WarningInterval
	}
	return &Lifecycle{
		store:     store,
		opts:      opts,
		callbacks: make(map[string]Callbacks),
		monitors:  make(map[string]chan struct{}),
	}
}

// CheckTimeout returns the current timeout info for code, or nil when no
// active record exists. Unlike Get-based reads it still sees sessions that
// are past expiry but not yet deactivated, which is what lets callers
// observe the expired state instead of a vanished session.
func (lc *Lifecycle) CheckTimeout(code string) *TimeoutInfo {
	sess, ok := lc.store.Peek(code)
	if !ok || !sess.IsActive {
		return nil
	}
	return lc.timeoutInfo(sess)
}

// ExtendSession pushes the session's expiry forward by its configured
// timeout, as if activity had just occurred. It reports whether a live
// session was found.
func (lc *Lifecycle) ExtendSession(code string) bool {
	return lc.store.UpdateLastActivity(code)
}

// RegisterCallbacks installs the warning/expiry callbacks for code,
// replacing any previous registration.
func (lc *Lifecycle) RegisterCallbacks(code string, cbs Callbacks) {
	code = NormalizeCode(code)
	lc.mu.Lock()
	lc.callbacks[code] = cbs
	lc.mu.Unlock()
}

// Unregister cancels the monitor loop for code and drops its callbacks.
// Safe to call for codes that were never monitored.
func (lc *Lifecycle) Unregister(code string) {
	code = NormalizeCode(code)
	lc.mu.Lock()
	if stop, exists := lc.monitors[code]; exists {
		close(stop)
		delete(lc.monitors, code)
	}
	delete(lc.callbacks, code)
	lc.mu.Unlock()
}

// ExpireSession deactivates the session for code and fires its expiry
// callback. The callback registration is consumed before the call, so even
// racing expirations invoke it at most once. Repeated calls are no-ops
// returning false.
func (lc *Lifecycle) ExpireSession(code string) bool {
	code = NormalizeCode(code)
	if !lc.store.Deactivate(code) {
		return false
	}

	lc.mu.Lock()
	cbs, registered := lc.callbacks[code]
	delete(lc.callbacks, code)
	lc.mu.Unlock()

	log.Printf("lifecycle: session %s expired", code)
	if registered && cbs.OnExpired != nil {
		lc.safeCall(func() { cbs.OnExpired(code) })
	}
	return true
}

// Monitor starts the timeout loop for code. At most one loop runs per code;
// calling Monitor again replaces the previous loop.
func (lc *Lifecycle) Monitor(code string) {
	code = NormalizeCode(code)

	lc.mu.Lock()
	if stop, exists := lc.monitors[code]; exists {
		close(stop)
	}
	stop := make(chan struct{})
	lc.monitors[code] = stop
	lc.mu.Unlock()

	go lc.run(code, stop)
}

// StopAll cancels every monitor loop and drops all callbacks. Called on
// shutdown.
func (lc *Lifecycle) StopAll() {
	lc.mu.Lock()
	for code, stop := range lc.monitors {
		close(stop)
		delete(lc.monitors, code)
	}
	lc.callbacks = make(map[string]Callbacks)
	lc.mu.Unlock()
}

// ActiveMonitors returns the number of running monitor loops.
func (lc *Lifecycle) ActiveMonitors() int {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return len(lc.monitors)
}

func (lc *Lifecycle) run(code string, stop chan struct{}) {
	defer lc.clearMonitor(code, stop)

	for {
		sess, ok := lc.store.Peek(code)
		if !ok || !sess.IsActive {
			return
		}

		info := lc.timeoutInfo(sess)
		if info.IsExpired {
			lc.ExpireSession(code)
			return
		}

		interval := lc.opts.CheckInterval
		if info.IsWarning {
			interval = lc.opts.WarningInterval
			lc.warn(code, *info)
		}

		select {
		case <-stop:
			return
		case <-time.After(interval):
		}
	}
}

func (lc *Lifecycle) warn(code string, info TimeoutInfo) {
	lc.mu.Lock()
	cbs := lc.callbacks[code]
	lc.mu.Unlock()

	if cbs.OnWarning != nil {
		lc.safeCall(func() { cbs.OnWarning(code, info) })
	}
}

func (lc *Lifecycle) timeoutInfo(sess *Session) *TimeoutInfo {
	remaining := time.Until(sess.ExpiresAt)
	if remaining <= 0 {
		return &TimeoutInfo{TimeRemaining: 0, IsExpired: true}
	}
	return &TimeoutInfo{
		TimeRemaining: remaining.Milliseconds(),
		IsWarning:     remaining <= lc.opts.WarnBefore,
	}
}

// safeCall shields monitor loops from panicking callbacks.
func (lc *Lifecycle) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("lifecycle: callback panic recovered: %v", r)
		}
	}()
	fn()
}

// clearMonitor removes the loop's stop channel unless Monitor has already
// replaced it with a newer one.
func (lc *Lifecycle) clearMonitor(code string, stop chan struct{}) {
	lc.mu.Lock()
	if lc.monitors[code] == stop {
		delete(lc.monitors, code)
	}
	lc.mu.Unlock()
}
