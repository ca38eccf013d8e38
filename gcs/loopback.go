package gcs

import (
	"fmt"
	"sync"

	"github.com/bolinfest/grouprepl/member"
)

// LoopbackTransport is an in-process Transport double standing in for
// the external group-communication engine: every joined member shares
// one LoopbackTransport, so Send on one fans out synchronously,
// in call order, to every joined member's inbound handler, the sender
// included. This
// gives the simulation driver and tests the same total-order and
// FIFO-per-sender guarantees §4.1 requires consumers to be able to rely
// on, without a real network.
type LoopbackTransport struct {
	mu       sync.Mutex
	members  []member.Snapshot
	inbound  map[member.ID]InboundHandler
	viewSeq  uint64
	groupName string
}

// NewLoopbackTransport returns an empty loopback group.
func NewLoopbackTransport(groupName string) *LoopbackTransport {
	return &LoopbackTransport{
		inbound:   make(map[member.ID]InboundHandler),
		groupName: groupName,
	}
}

// Join adds self to the group and installs a new view reflecting the
// join, delivered to every member (including self) via their inbound
// handler.
func (t *LoopbackTransport) Join(self member.Snapshot, inbound InboundHandler) error {
	t.mu.Lock()
	for _, m := range t.members {
		if m.GCSID == self.GCSID {
			t.mu.Unlock()
			return fmt.Errorf("gcs: loopback: member %s already joined", self.GCSID)
		}
	}
	t.members = append(t.members, self)
	t.inbound[self.GCSID] = inbound
	t.viewSeq++
	v := t.viewLocked([]member.ID{self.GCSID}, nil)
	handlers := t.handlersLocked()
	t.mu.Unlock()

	for _, h := range handlers {
		h.DeliverView(v)
	}
	return nil
}

// Leave removes self from the group and installs a new view.
func (t *LoopbackTransport) Leave(self member.ID) error {
	t.mu.Lock()
	idx := -1
	for i, m := range t.members {
		if m.GCSID == self {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.mu.Unlock()
		return fmt.Errorf("gcs: loopback: member %s not joined", self)
	}
	t.members = append(t.members[:idx], t.members[idx+1:]...)
	delete(t.inbound, self)
	t.viewSeq++
	v := t.viewLocked(nil, []member.ID{self})
	handlers := t.handlersLocked()
	t.mu.Unlock()

	for _, h := range handlers {
		h.DeliverView(v)
	}
	return nil
}

// Send delivers raw to every currently joined member's inbound handler,
// in the order Send is called across all senders — a single mutex
// serializes delivery, which is sufficient to model the total order a
// real engine would provide across one view.
func (t *LoopbackTransport) Send(sender member.ID, raw []byte) error {
	t.mu.Lock()
	if _, ok := t.inbound[sender]; !ok {
		t.mu.Unlock()
		return fmt.Errorf("gcs: loopback: sender %s not joined", sender)
	}
	handlers := t.handlersLocked()
	t.mu.Unlock()

	for _, h := range handlers {
		if err := h.DeliverRaw(sender, raw); err != nil {
			logger.Warningf("gcs: loopback: delivery error from %s: %v", sender, err)
		}
	}
	return nil
}

// ForceMembers is not supported by the loopback transport: it always
// returns an error naming the requested member list and leaves the view
// unchanged.
func (t *LoopbackTransport) ForceMembers(spec string) error {
	return fmt.Errorf("gcs: loopback: force_members not supported for simulation transport (spec %q)", spec)
}

func (t *LoopbackTransport) handlersLocked() []InboundHandler {
	out := make([]InboundHandler, 0, len(t.inbound))
	for _, h := range t.inbound {
		out = append(out, h)
	}
	return out
}

func (t *LoopbackTransport) viewLocked(joined, left []member.ID) member.View {
	members := make([]member.Snapshot, len(t.members))
	copy(members, t.members)
	return member.View{
		ID:      member.ViewID{GroupName: t.groupName, Counter: t.viewSeq},
		Members: members,
		Joined:  joined,
		Left:    left,
		Error:   member.ViewOK,
	}
}
