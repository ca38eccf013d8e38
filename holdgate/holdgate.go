// Package holdgate implements the Hold-transactions Gate (§4.6): a
// single boolean, applying_backlog, that a primary-election hands to
// secondary-applier sessions so they block in before_transaction_begin
// until failover finishes applying its backlog.
//
// Grounded on the teacher's per-instance wakeup idiom
// (src/consensus/scope.go's commitNotify map[InstanceID]*sync.Cond):
// the same mutex+condvar shape, generalized from per-instance to a
// single group-wide flag since the gate has exactly one predicate.
package holdgate

import (
	"sync"
	"time"
)

// Outcome is the result of waiting on the gate.
type Outcome int

const (
	// OutcomeReady means the flag cleared before timeout.
	OutcomeReady Outcome = iota
	// OutcomeTimedOut means timeout elapsed first.
	OutcomeTimedOut
	// OutcomeKilled means the caller-supplied killed predicate fired.
	OutcomeKilled
	// OutcomeMemberError means the local member entered ERROR while
	// waiting.
	OutcomeMemberError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "ready"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeKilled:
		return "killed"
	case OutcomeMemberError:
		return "member_error"
	default:
		return "unknown"
	}
}

// Gate is the hold-transactions gate.
type Gate struct {
	mu              sync.Mutex
	cond            *sync.Cond
	applyingBacklog bool
	memberError     bool
}

// New returns a gate with the backlog flag clear.
func New() *Gate {
	g := &Gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Enable sets applying_backlog, holding secondary-applier sessions that
// subsequently call WaitUntilPrimaryFailoverComplete.
func (g *Gate) Enable() {
	g.mu.Lock()
	g.applyingBacklog = true
	g.mu.Unlock()
}

// Disable clears applying_backlog and wakes every waiter.
func (g *Gate) Disable() {
	g.mu.Lock()
	g.applyingBacklog = false
	g.mu.Unlock()
	g.cond.Broadcast()
}

// IsEnabled reports whether the gate currently holds sessions.
func (g *Gate) IsEnabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.applyingBacklog
}

// SetMemberError marks the local member ERROR, waking every waiter with
// OutcomeMemberError. ClearMemberError reverses it; a gate constructed
// fresh after rejoin should call this so a later Enable/Disable cycle
// isn't immediately short-circuited by a stale error flag.
func (g *Gate) SetMemberError() {
	g.mu.Lock()
	g.memberError = true
	g.mu.Unlock()
	g.cond.Broadcast()
}

// ClearMemberError reverses SetMemberError.
func (g *Gate) ClearMemberError() {
	g.mu.Lock()
	g.memberError = false
	g.mu.Unlock()
}

// WaitUntilPrimaryFailoverComplete blocks until applying_backlog clears,
// timeout elapses, killed reports true, or the member enters ERROR.
// killed may be nil, meaning the caller's session is never killed.
func (g *Gate) WaitUntilPrimaryFailoverComplete(timeout time.Duration, killed func() bool) Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	if o, done := g.earlyExitLocked(killed); done {
		return o
	}

	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		g.mu.Lock()
		g.cond.Broadcast()
		g.mu.Unlock()
	})
	defer timer.Stop()

	for g.applyingBacklog {
		if o, done := g.earlyExitLocked(killed); done {
			return o
		}
		if !time.Now().Before(deadline) {
			return OutcomeTimedOut
		}
		g.cond.Wait()
	}
	return OutcomeReady
}

// earlyExitLocked checks the non-timeout exit conditions. Callers hold
// g.mu. The second return is true when the wait should stop now.
func (g *Gate) earlyExitLocked(killed func() bool) (Outcome, bool) {
	if g.memberError {
		return OutcomeMemberError, true
	}
	if killed != nil && killed() {
		return OutcomeKilled, true
	}
	if !g.applyingBacklog {
		return OutcomeReady, true
	}
	return OutcomeReady, false
}
