package view

import (
	"testing"

	"github.com/bolinfest/grouprepl/member"
	"github.com/bolinfest/grouprepl/wireproto"
)

func TestDeliverMessageFanOut(t *testing.T) {
	d := NewDispatcher()
	var got []string
	d.Subscribe(wireproto.CargoTransaction, func(sender member.ID, msg wireproto.Message) {
		got = append(got, "a:"+string(sender))
	})
	d.Subscribe(wireproto.CargoTransaction, func(sender member.ID, msg wireproto.Message) {
		got = append(got, "b:"+string(sender))
	})

	d.DeliverMessage(member.ID("m1"), wireproto.Message{Header: wireproto.Header{CargoType: wireproto.CargoTransaction}})

	if len(got) != 2 || got[0] != "a:m1" || got[1] != "b:m1" {
		t.Fatalf("unexpected fan-out order: %v", got)
	}
}

func TestDeliverMessageUnknownCargoTypeDropped(t *testing.T) {
	d := NewDispatcher()
	called := false
	d.Subscribe(wireproto.CargoTransaction, func(member.ID, wireproto.Message) { called = true })

	// Should not panic or invoke the unrelated subscriber.
	d.DeliverMessage(member.ID("m1"), wireproto.Message{Header: wireproto.Header{CargoType: wireproto.CargoPrepareAck}})
	if called {
		t.Fatal("subscriber for a different cargo type must not be invoked")
	}
}

func TestDeliverViewFanOut(t *testing.T) {
	d := NewDispatcher()
	var seen []member.ViewID
	d.OnView(func(v member.View) { seen = append(seen, v.ID) })
	d.OnView(func(v member.View) { seen = append(seen, v.ID) })

	v := member.View{ID: member.ViewID{GroupName: "g", Counter: 1}}
	d.DeliverView(v)

	if len(seen) != 2 || seen[0] != v.ID || seen[1] != v.ID {
		t.Fatalf("unexpected view fan-out: %v", seen)
	}
}
