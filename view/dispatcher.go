// Package view implements the View/Message Plumbing (§4.2): it turns
// raw bytes delivered by the GCS Adapter into typed wireproto.Message
// values and fans them out to registered subscribers in delivery order,
// and separately fans out view-change notifications. Unknown cargo
// types are logged and dropped rather than rejected, preserving forward
// compatibility within a protocol version.
package view

import (
	"sync"

	logging "github.com/op/go-logging"

	"github.com/bolinfest/grouprepl/member"
	"github.com/bolinfest/grouprepl/wireproto"
)

var logger = logging.MustGetLogger("view")

// MessageHandler processes one decoded message from a given sender, in
// the total order the GCS Adapter delivered it.
type MessageHandler func(sender member.ID, msg wireproto.Message)

// ViewHandler processes one installed view.
type ViewHandler func(v member.View)

// Dispatcher is the single point through which every ordered message
// and every view change reaches the certifier, coordinator, and
// broadcast thread. It holds no certifier/coordinator-specific logic —
// those wire themselves in via Subscribe/OnView, matching the "one-way
// interface" design note: the plumbing never holds a pointer back into
// subscriber internals beyond the handler closure it was given.
type Dispatcher struct {
	mu          sync.Mutex
	subscribers map[wireproto.CargoType][]MessageHandler
	viewHooks   []ViewHandler
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[wireproto.CargoType][]MessageHandler),
	}
}

// Subscribe registers handler to be invoked for every delivered message
// of the given cargo type, in registration order.
func (d *Dispatcher) Subscribe(cargoType wireproto.CargoType, handler MessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[cargoType] = append(d.subscribers[cargoType], handler)
}

// OnView registers handler to be invoked for every installed view.
func (d *Dispatcher) OnView(handler ViewHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.viewHooks = append(d.viewHooks, handler)
}

// DeliverRaw decodes raw wire bytes from sender and fans the resulting
// message out to every subscriber registered for its cargo type. It
// must be called from the GCS dispatch callback, single-threaded with
// respect to ordered delivery — handlers run synchronously and must not
// block on user threads (§5).
func (d *Dispatcher) DeliverRaw(sender member.ID, raw []byte) error {
	msg, err := wireproto.Decode(raw)
	if err != nil {
		return err
	}
	d.DeliverMessage(sender, msg)
	return nil
}

// DeliverMessage fans out an already-decoded message. Exposed directly
// so in-process tests and the simulation driver can skip the wire
// round-trip.
func (d *Dispatcher) DeliverMessage(sender member.ID, msg wireproto.Message) {
	d.mu.Lock()
	handlers := append([]MessageHandler(nil), d.subscribers[msg.Header.CargoType]...)
	d.mu.Unlock()

	if len(handlers) == 0 {
		logger.Warningf("view: no subscriber for cargo type %s from %s; dropping", msg.Header.CargoType, sender)
		return
	}
	for _, h := range handlers {
		h(sender, msg)
	}
}

// DeliverView fans a newly installed view out to every view hook, in
// registration order. Views are delivered exactly once; callers (the
// GCS adapter's view notifier) must not invoke this twice for the same
// view id.
func (d *Dispatcher) DeliverView(v member.View) {
	d.mu.Lock()
	hooks := append([]ViewHandler(nil), d.viewHooks...)
	d.mu.Unlock()

	for _, h := range hooks {
		h(v)
	}
}
