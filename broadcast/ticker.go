// Package broadcast implements the Broadcast/GC background task (§4.4):
// a single goroutine that wakes once a second and, on its own period,
// runs a flow-control tick, flags the next broadcast to carry
// transaction identifiers, broadcasts this member's group_gtid_executed,
// and sweeps idle per-session caches.
//
// Grounded on the teacher's cooperative-cancellation idiom: §5's
// "aborted flag plus a wakeup on the dispatcher's sleep slot" is the
// same shape the teacher uses for its consensus manager's retry/backoff
// waits (src/consensus/scope.go's timeout constants and commit-timeout
// retry loop), adapted here to a channel close rather than a condvar
// broadcast since the sleep is a ticker select, not a cond.Wait.
package broadcast

import (
	"sync"
	"time"

	logging "github.com/op/go-logging"

	"github.com/bolinfest/grouprepl/member"
	"github.com/bolinfest/grouprepl/metrics"
)

var logger = logging.MustGetLogger("broadcast")

// Periods, expressed as a multiple of the 1-second tick.
const (
	tickInterval              = 1 * time.Second
	sendTxIDsFlagTicks        = 30
	defaultExecutedBcastTicks = 60
	sweepCachesTicks          = 300
)

// Hooks are the external actions the ticker drives. Every hook is
// optional; a nil hook is skipped.
type Hooks struct {
	// LocalStatus reports this member's current status; broadcast is
	// skipped unless it is ONLINE or RECOVERING.
	LocalStatus func() member.Status
	// FlowControlTick runs every second.
	FlowControlTick func()
	// SetSendTransactionIDsFlag runs every 30 ticks.
	SetSendTransactionIDsFlag func()
	// BroadcastExecutedSet runs every ExecutedBroadcastTicks ticks.
	BroadcastExecutedSet func()
	// SweepSessionCaches runs every 300 ticks.
	SweepSessionCaches func()
}

// Ticker is the broadcast/GC background task.
type Ticker struct {
	hooks Hooks
	stats *metrics.Sink

	// ExecutedBroadcastTicks overrides the certifier-data broadcast
	// period (configurable, default 60).
	executedBroadcastTicks int64

	mu      sync.Mutex
	aborted bool
	quit    chan struct{}
	done    chan struct{}

	counter int64
}

// New constructs a ticker. broadcastPeriodSeconds is the configurable
// certifier-data broadcast period in seconds (default 60 if <= 0).
func New(hooks Hooks, broadcastPeriodSeconds int64, stats *metrics.Sink) *Ticker {
	if broadcastPeriodSeconds <= 0 {
		broadcastPeriodSeconds = defaultExecutedBcastTicks
	}
	return &Ticker{
		hooks:                  hooks,
		stats:                  stats,
		executedBroadcastTicks: broadcastPeriodSeconds,
		quit:                   make(chan struct{}),
		done:                   make(chan struct{}),
	}
}

// Run drives the ticker until Stop is called. Intended to be launched
// as `go ticker.Run()`. The select on t.quit alongside the clock is the
// cooperative-cancellation half of §5: Stop sets the aborted flag and
// closes the channel so a sleeping Run wakes immediately rather than
// waiting out the rest of the current second.
func (t *Ticker) Run() {
	defer close(t.done)
	clock := time.NewTicker(tickInterval)
	defer clock.Stop()

	for {
		select {
		case <-clock.C:
			t.tick()
		case <-t.quit:
			return
		}
		if t.isAborted() {
			return
		}
	}
}

func (t *Ticker) tick() {
	t.mu.Lock()
	t.counter++
	n := t.counter
	t.mu.Unlock()

	if t.hooks.FlowControlTick != nil {
		t.hooks.FlowControlTick()
	}
	t.stats.Inc("broadcast.tick", 1)

	if n%sendTxIDsFlagTicks == 0 && t.hooks.SetSendTransactionIDsFlag != nil {
		t.hooks.SetSendTransactionIDsFlag()
	}

	if n%t.executedBroadcastTicks == 0 {
		t.maybeBroadcast()
	}

	if n%sweepCachesTicks == 0 && t.hooks.SweepSessionCaches != nil {
		t.hooks.SweepSessionCaches()
	}
}

func (t *Ticker) maybeBroadcast() {
	if t.hooks.LocalStatus != nil {
		switch t.hooks.LocalStatus() {
		case member.StatusOnline, member.StatusRecovering:
			// proceed
		default:
			logger.Debugf("broadcast: skipping executed-set broadcast, member not ONLINE/RECOVERING")
			return
		}
	}
	if t.hooks.BroadcastExecutedSet != nil {
		t.hooks.BroadcastExecutedSet()
		t.stats.Inc("broadcast.executed_set.sent", 1)
	}
}

// Stop cooperatively cancels the ticker: it sets the aborted flag,
// closes the quit channel so a blocked Run wakes immediately, then
// waits for Run to return.
func (t *Ticker) Stop() {
	t.mu.Lock()
	t.aborted = true
	t.mu.Unlock()
	close(t.quit)
	<-t.done
}

func (t *Ticker) isAborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aborted
}
