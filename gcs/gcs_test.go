package gcs

import (
	"testing"

	"github.com/bolinfest/grouprepl/member"
	"github.com/bolinfest/grouprepl/metrics"
	"github.com/bolinfest/grouprepl/view"
	"github.com/bolinfest/grouprepl/wireproto"
)

func snapshot(id member.ID) member.Snapshot {
	m := member.New(id, string(id)+"-uuid", "127.0.0.1", 3306, 50, 1)
	m.SetStatus(member.StatusOnline)
	return m.Snapshot()
}

func newAdapter(t *testing.T, transport *LoopbackTransport) (*Adapter, *view.Dispatcher) {
	t.Helper()
	d := view.NewDispatcher()
	a := New(transport, d, metrics.NoOp(), 0, 0, 0)
	return a, d
}

func TestAdapter_JoinDeliversView(t *testing.T) {
	transport := NewLoopbackTransport("group-1")
	a, d := newAdapter(t, transport)

	var delivered member.View
	d.OnView(func(v member.View) { delivered = v })

	if res, err := a.Join(snapshot("A")); res != JoinOK || err != nil {
		t.Fatalf("Join: res=%v err=%v", res, err)
	}
	if !delivered.Contains("A") {
		t.Fatal("view not delivered to dispatcher on join")
	}
}

func TestAdapter_SendDeliversToAllMembers(t *testing.T) {
	transport := NewLoopbackTransport("group-1")
	aA, dA := newAdapter(t, transport)
	aB, dB := newAdapter(t, transport)

	var gotA, gotB bool
	dA.Subscribe(wireproto.CargoTransaction, func(member.ID, wireproto.Message) { gotA = true })
	dB.Subscribe(wireproto.CargoTransaction, func(member.ID, wireproto.Message) { gotB = true })

	if _, err := aA.Join(snapshot("A")); err != nil {
		t.Fatalf("join A: %v", err)
	}
	if _, err := aB.Join(snapshot("B")); err != nil {
		t.Fatalf("join B: %v", err)
	}

	msg := wireproto.Message{Header: wireproto.Header{CargoType: wireproto.CargoTransaction}}
	res, err := aA.SendMessage(msg, false)
	if res != SendOK || err != nil {
		t.Fatalf("SendMessage: res=%v err=%v", res, err)
	}
	if !gotA || !gotB {
		t.Fatalf("delivery incomplete: gotA=%v gotB=%v", gotA, gotB)
	}
}

func TestAdapter_SendTooBig(t *testing.T) {
	transport := NewLoopbackTransport("group-1")
	d := view.NewDispatcher()
	a := New(transport, d, metrics.NoOp(), 4, 0, 0)
	if _, err := a.Join(snapshot("A")); err != nil {
		t.Fatalf("join: %v", err)
	}

	msg := wireproto.Message{
		Header: wireproto.Header{CargoType: wireproto.CargoTransaction},
		Items:  []wireproto.PayloadItem{{Type: wireproto.PITTransactionData, Data: make([]byte, 100)}},
	}
	res, err := a.SendMessage(msg, false)
	if res != SendTooBig || err == nil {
		t.Fatalf("res=%v err=%v, want TOO_BIG", res, err)
	}
}

func TestAdapter_SendBeforeJoinSkipped(t *testing.T) {
	transport := NewLoopbackTransport("group-1")
	a, _ := newAdapter(t, transport)

	msg := wireproto.Message{Header: wireproto.Header{CargoType: wireproto.CargoTransaction}}
	res, err := a.SendMessage(msg, true)
	if res != SendOK || err != nil {
		t.Fatalf("res=%v err=%v, want OK/nil for skip_if_not_initialized", res, err)
	}

	if res, err := a.SendMessage(msg, false); res != SendNOK || err == nil {
		t.Fatalf("res=%v err=%v, want NOK/error for send before join", res, err)
	}
}

func TestAdapter_LeaveTransitions(t *testing.T) {
	transport := NewLoopbackTransport("group-1")
	a, _ := newAdapter(t, transport)
	if _, err := a.Join(snapshot("A")); err != nil {
		t.Fatalf("join: %v", err)
	}

	if res := a.Leave(); res != LeaveNowLeaving {
		t.Fatalf("first Leave = %v, want NOW_LEAVING", res)
	}
	if res := a.Leave(); res != LeaveAlreadyLeft {
		t.Fatalf("second Leave = %v, want ALREADY_LEFT", res)
	}
}

func TestAdapter_LeadersDefaultEveryone(t *testing.T) {
	transport := NewLoopbackTransport("group-1")
	a, _ := newAdapter(t, transport)

	a.SetLeader("A")
	preferred, everyone := a.GetLeaders()
	if everyone || len(preferred) != 1 || preferred[0] != "A" {
		t.Fatalf("GetLeaders after SetLeader = %v, everyone=%v", preferred, everyone)
	}

	a.SetEveryoneLeader()
	preferred, everyone = a.GetLeaders()
	if !everyone || len(preferred) != 0 {
		t.Fatalf("GetLeaders after SetEveryoneLeader = %v, everyone=%v", preferred, everyone)
	}
}

func TestAdapter_WriteConcurrencyAndProtocolVersion(t *testing.T) {
	transport := NewLoopbackTransport("group-1")
	a, _ := newAdapter(t, transport)

	if err := a.SetWriteConcurrency(4); err != nil {
		t.Fatalf("SetWriteConcurrency: %v", err)
	}
	if got := a.WriteConcurrency(); got != 4 {
		t.Fatalf("WriteConcurrency = %d, want 4", got)
	}
	if err := a.SetWriteConcurrency(0); err == nil {
		t.Fatal("expected error for write concurrency 0")
	}

	if err := a.SetProtocolVersion(2); err != nil {
		t.Fatalf("SetProtocolVersion: %v", err)
	}
	if got := a.ProtocolVersion(); got != 2 {
		t.Fatalf("ProtocolVersion = %d, want 2", got)
	}
}

func capabilitySnapshot(id member.ID, version uint16, online bool) member.Snapshot {
	m := member.New(id, string(id)+"-uuid", "127.0.0.1", 3306, 50, version)
	if online {
		m.SetStatus(member.StatusOnline)
	}
	return m.Snapshot()
}

func TestAdapter_NegotiateProtocolVersionAdoptsLowest(t *testing.T) {
	transport := NewLoopbackTransport("group-1")
	a, _ := newAdapter(t, transport)
	if err := a.SetProtocolVersion(5); err != nil {
		t.Fatalf("SetProtocolVersion: %v", err)
	}

	members := []member.Snapshot{
		capabilitySnapshot("A", 5, true),
		capabilitySnapshot("B", 3, true),
		capabilitySnapshot("C", 4, true),
	}
	if got := a.NegotiateProtocolVersion(members); got != 3 {
		t.Fatalf("NegotiateProtocolVersion = %d, want 3", got)
	}
	if got := a.ProtocolVersion(); got != 3 {
		t.Fatalf("ProtocolVersion after negotiation = %d, want 3", got)
	}
}

func TestAdapter_NegotiateProtocolVersionIgnoresOffline(t *testing.T) {
	transport := NewLoopbackTransport("group-1")
	a, _ := newAdapter(t, transport)
	if err := a.SetProtocolVersion(5); err != nil {
		t.Fatalf("SetProtocolVersion: %v", err)
	}

	members := []member.Snapshot{
		capabilitySnapshot("A", 5, true),
		capabilitySnapshot("B", 1, false),
	}
	if got := a.NegotiateProtocolVersion(members); got != 5 {
		t.Fatalf("NegotiateProtocolVersion = %d, want 5 (offline B's low capability must not count)", got)
	}
}

func TestAdapter_NegotiateProtocolVersionEmptyViewNoop(t *testing.T) {
	transport := NewLoopbackTransport("group-1")
	a, _ := newAdapter(t, transport)
	if err := a.SetProtocolVersion(5); err != nil {
		t.Fatalf("SetProtocolVersion: %v", err)
	}
	if got := a.NegotiateProtocolVersion(nil); got != 5 {
		t.Fatalf("NegotiateProtocolVersion(nil) = %d, want unchanged 5", got)
	}
}
