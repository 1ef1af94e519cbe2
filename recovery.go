package authsync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const recoveryFlightKey = "recovery"

// Recoverer resolves a disagreement between the sources of truth.
type Recoverer interface {
	Recover(ctx context.Context, trigger RecoveryTrigger) (RecoveryResult, error)
}

// RecoveryResult describes how an attempt ended. Concurrent triggers that
// joined the attempt all receive the same result.
type RecoveryResult struct {
	Outcome RecoveryOutcome
	Trigger RecoveryTrigger
	State   AuthState
	Cause   string
	At      time.Time
}

// Recovery is the single place that turns "something disagrees" into either
// a revalidated session or one forced logout.
type Recovery struct {
	machine *Machine
	logger  Logger

	flight   singleflight.Group
	attempts atomic.Int64

	mu        sync.Mutex
	heartbeat *Heartbeat
	monitor   *CookieMonitor
	last      *RecoveryResult
}

// NewRecovery returns a Recovery acting on machine.
func NewRecovery(machine *Machine, logger Logger) *Recovery {
	if logger == nil {
		logger = defLogger{name: "recovery"}
	}
	return &Recovery{machine: machine, logger: logger}
}

// Attach wires the components reset on a successful recovery. Either may be nil.
func (r *Recovery) Attach(heartbeat *Heartbeat, monitor *CookieMonitor) {
	r.mu.Lock()
	r.heartbeat = heartbeat
	r.monitor = monitor
	r.mu.Unlock()
}

// Attempts returns how many recovery attempts actually ran.
func (r *Recovery) Attempts() int64 {
	return r.attempts.Load()
}

// Last returns the result of the most recent attempt, if any.
func (r *Recovery) Last() (RecoveryResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return RecoveryResult{}, false
	}
	return *r.last, true
}

// Recover runs one authoritative check. Triggers arriving while an attempt
// is running join it. There is no automatic retry: a failed attempt ends in
// logout and the next attempt waits for a new trigger.
func (r *Recovery) Recover(ctx context.Context, trigger RecoveryTrigger) (RecoveryResult, error) {
	ch := r.flight.DoChan(recoveryFlightKey, func() (any, error) {
		return r.run(context.WithoutCancel(ctx), trigger), nil
	})

	select {
	case res := <-ch:
		out, _ := res.Val.(RecoveryResult)
		return out, res.Err
	case <-ctx.Done():
		return RecoveryResult{Trigger: trigger, State: r.machine.State()}, ctx.Err()
	}
}

func (r *Recovery) run(ctx context.Context, trigger RecoveryTrigger) RecoveryResult {
	n := r.attempts.Add(1)
	r.logger.Info("recovery #%d triggered by %s", n, trigger)

	reason := ReasonSessionExpired
	if trigger == TriggerIntegrityViolation {
		reason = ReasonIntegrityViolation
	}

	st, err := r.machine.check(ctx, true, reason)
	res := RecoveryResult{Trigger: trigger, At: r.machine.now()}

	r.mu.Lock()
	hb, mon := r.heartbeat, r.monitor
	r.mu.Unlock()

	if err == nil && st.IsAuthenticated() {
		if hb != nil {
			hb.ResetFailures()
		}
		if mon != nil {
			mon.ClearWarnings()
		}
		res.Outcome = OutcomeRevalidated
		res.State = st
		r.logger.Info("recovery revalidated session sid=%s", truncate(st.SessionID, 8))
	} else {
		res.Cause = ErrorMessage(err)
		if lerr := r.machine.Logout(ctx, reason); lerr != nil {
			r.logger.Debug("server logout during recovery failed: %s", ErrorMessage(lerr))
		}
		res.Outcome = OutcomeLoggedOut
		res.State = r.machine.State()
		r.logger.Info("recovery ended in logout reason=%s", reason)
	}

	r.mu.Lock()
	r.last = &res
	r.mu.Unlock()
	return res
}
