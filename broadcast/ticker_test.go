package broadcast

import (
	"sync"
	"testing"

	"github.com/bolinfest/grouprepl/member"
)

// countingHooks records how many times each hook fired and lets a test
// pin LocalStatus to a fixed value.
type countingHooks struct {
	mu sync.Mutex

	flowControl int
	sendFlag    int
	broadcast   int
	sweep       int

	status member.Status
}

func (h *countingHooks) hooks() Hooks {
	return Hooks{
		LocalStatus: func() member.Status {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.status
		},
		FlowControlTick: func() {
			h.mu.Lock()
			h.flowControl++
			h.mu.Unlock()
		},
		SetSendTransactionIDsFlag: func() {
			h.mu.Lock()
			h.sendFlag++
			h.mu.Unlock()
		},
		BroadcastExecutedSet: func() {
			h.mu.Lock()
			h.broadcast++
			h.mu.Unlock()
		},
		SweepSessionCaches: func() {
			h.mu.Lock()
			h.sweep++
			h.mu.Unlock()
		},
	}
}

func (h *countingHooks) counts() (flowControl, sendFlag, broadcast, sweep int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flowControl, h.sendFlag, h.broadcast, h.sweep
}

func TestTicker_FlowControlEveryTick(t *testing.T) {
	h := &countingHooks{status: member.StatusOnline}
	tk := New(h.hooks(), 60, nil)

	for i := 0; i < 5; i++ {
		tk.tick()
	}

	flowControl, _, _, _ := h.counts()
	if flowControl != 5 {
		t.Fatalf("flowControl = %d, want 5", flowControl)
	}
}

func TestTicker_SendTransactionIDsFlagEvery30th(t *testing.T) {
	h := &countingHooks{status: member.StatusOnline}
	tk := New(h.hooks(), 60, nil)

	for i := 0; i < 30; i++ {
		tk.tick()
	}
	_, sendFlag, _, _ := h.counts()
	if sendFlag != 1 {
		t.Fatalf("sendFlag after 30 ticks = %d, want 1", sendFlag)
	}

	for i := 0; i < 30; i++ {
		tk.tick()
	}
	_, sendFlag, _, _ = h.counts()
	if sendFlag != 2 {
		t.Fatalf("sendFlag after 60 ticks = %d, want 2", sendFlag)
	}
}

func TestTicker_BroadcastEveryConfiguredPeriod(t *testing.T) {
	h := &countingHooks{status: member.StatusOnline}
	tk := New(h.hooks(), 10, nil)

	for i := 0; i < 9; i++ {
		tk.tick()
	}
	_, _, broadcast, _ := h.counts()
	if broadcast != 0 {
		t.Fatalf("broadcast after 9 ticks = %d, want 0", broadcast)
	}

	tk.tick()
	_, _, broadcast, _ = h.counts()
	if broadcast != 1 {
		t.Fatalf("broadcast after 10 ticks = %d, want 1", broadcast)
	}
}

func TestTicker_BroadcastSkippedWhenNotOnlineOrRecovering(t *testing.T) {
	h := &countingHooks{status: member.StatusOffline}
	tk := New(h.hooks(), 1, nil)

	tk.tick()
	_, _, broadcast, _ := h.counts()
	if broadcast != 0 {
		t.Fatalf("broadcast fired while offline: %d", broadcast)
	}

	h.mu.Lock()
	h.status = member.StatusRecovering
	h.mu.Unlock()
	tk.tick()
	_, _, broadcast, _ = h.counts()
	if broadcast != 1 {
		t.Fatalf("broadcast did not fire while recovering: %d", broadcast)
	}
}

func TestTicker_SweepEvery300th(t *testing.T) {
	h := &countingHooks{status: member.StatusOnline}
	tk := New(h.hooks(), 60, nil)

	for i := 0; i < 299; i++ {
		tk.tick()
	}
	_, _, _, sweep := h.counts()
	if sweep != 0 {
		t.Fatalf("sweep after 299 ticks = %d, want 0", sweep)
	}

	tk.tick()
	_, _, _, sweep = h.counts()
	if sweep != 1 {
		t.Fatalf("sweep after 300 ticks = %d, want 1", sweep)
	}
}

func TestTicker_RunAndStop(t *testing.T) {
	h := &countingHooks{status: member.StatusOnline}
	tk := New(h.hooks(), 60, nil)

	go tk.Run()
	tk.Stop()

	if !tk.isAborted() {
		t.Fatal("ticker not marked aborted after Stop")
	}
}

func TestTicker_DefaultBroadcastPeriod(t *testing.T) {
	tk := New(Hooks{}, 0, nil)
	if tk.executedBroadcastTicks != defaultExecutedBcastTicks {
		t.Fatalf("executedBroadcastTicks = %d, want default %d", tk.executedBroadcastTicks, defaultExecutedBcastTicks)
	}
}
