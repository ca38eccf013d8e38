// Package gcs implements the GCS Adapter façade (§4.1): the core's
// public contract over an external group-communication engine. The
// engine's own total-order multicast, failure detection, and view
// installation are an explicit Non-goal, so Adapter only speaks to a
// Transport interface; tests and the simulation driver supply
// LoopbackTransport, an in-process stand-in.
//
// Grounded on the teacher's cluster-membership façade
// (src/cluster/cluster.go): a thin wrapper that owns no consensus
// logic itself, only wiring and lifecycle, logging through the same
// per-package github.com/op/go-logging logger.
package gcs

import (
	"fmt"
	"sync"

	logging "github.com/op/go-logging"
	"golang.org/x/time/rate"

	"github.com/bolinfest/grouprepl/member"
	"github.com/bolinfest/grouprepl/metrics"
	"github.com/bolinfest/grouprepl/view"
	"github.com/bolinfest/grouprepl/wireproto"
)

var logger = logging.MustGetLogger("gcs")

// JoinResult is the synchronous acknowledgement of Join; the actual
// membership outcome always arrives asynchronously as a view change.
type JoinResult int

const (
	JoinOK JoinResult = iota
	JoinError
)

// LeaveResult is the synchronous acknowledgement of Leave.
type LeaveResult int

const (
	LeaveNowLeaving LeaveResult = iota
	LeaveAlreadyLeaving
	LeaveAlreadyLeft
	LeaveError
)

// SendResult is the synchronous acknowledgement of SendMessage.
type SendResult int

const (
	SendOK SendResult = iota
	SendNOK
	SendTooBig
)

func (r SendResult) String() string {
	switch r {
	case SendOK:
		return "OK"
	case SendNOK:
		return "NOK"
	case SendTooBig:
		return "TOO_BIG"
	default:
		return "UNKNOWN"
	}
}

// InboundHandler receives ordered messages and installed views from a
// Transport. view.Dispatcher already implements this.
type InboundHandler interface {
	DeliverRaw(sender member.ID, raw []byte) error
	DeliverView(v member.View)
}

// Transport is the engine underneath the façade: whatever actually
// performs total-order multicast, failure detection, and view
// computation. The core never implements one for real; LoopbackTransport
// is the in-process double used by tests and the simulation driver.
type Transport interface {
	// Join registers this member with the engine and wires inbound to
	// receive every subsequently delivered message and view. Join is
	// itself synchronous; the membership outcome is still delivered
	// asynchronously through inbound.DeliverView, matching §4.1.
	Join(self member.Snapshot, inbound InboundHandler) error
	// Leave removes this member from the engine's view.
	Leave(self member.ID) error
	// Send hands raw wire bytes to the engine for total-order
	// broadcast. A nil error means the engine accepted the message for
	// delivery; it does not mean delivery has happened yet.
	Send(sender member.ID, raw []byte) error
	// ForceMembers is the unsafe recovery path used only when a
	// majority is unreachable.
	ForceMembers(spec string) error
}

// Adapter is the GCS Adapter façade.
type Adapter struct {
	transport  Transport
	dispatcher *view.Dispatcher
	stats      *metrics.Sink

	selfID                 member.ID
	maxMessageSize         int64
	limiter                *rate.Limiter

	mu               sync.Mutex
	initialized      bool
	leaving          bool
	left             bool
	writeConcurrency int
	protocolVersion  uint16
	everyoneLeader   bool
	preferredLeaders map[member.ID]bool
}

// New constructs an adapter over transport, fanning inbound deliveries
// into dispatcher. maxMessageSize bounds outgoing message size (0
// disables the check); quota/period, if quota > 0, rate-limit
// SendMessage to model the flow_control_quota/flow_control_period
// configuration options.
func New(transport Transport, dispatcher *view.Dispatcher, stats *metrics.Sink, maxMessageSize int64, quota int64, period int64) *Adapter {
	a := &Adapter{
		transport:        transport,
		dispatcher:       dispatcher,
		stats:            stats,
		maxMessageSize:   maxMessageSize,
		writeConcurrency: 1,
		protocolVersion:  1,
		preferredLeaders: make(map[member.ID]bool),
	}
	if quota > 0 && period > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(quota)/rate.Limit(period), int(quota))
	}
	return a
}

// Join registers self with the transport. Non-blocking: the outcome is
// delivered asynchronously as a view change through the dispatcher
// this adapter was constructed with.
func (a *Adapter) Join(self member.Snapshot) (JoinResult, error) {
	if err := a.transport.Join(self, a.dispatcher); err != nil {
		logger.Errorf("gcs: join failed for %s: %v", self.GCSID, err)
		return JoinError, err
	}
	a.mu.Lock()
	a.selfID = self.GCSID
	a.initialized = true
	a.left = false
	a.leaving = false
	a.mu.Unlock()
	return JoinOK, nil
}

// Leave removes this member from the group.
func (a *Adapter) Leave() LeaveResult {
	a.mu.Lock()
	if a.left {
		a.mu.Unlock()
		return LeaveAlreadyLeft
	}
	if a.leaving {
		a.mu.Unlock()
		return LeaveAlreadyLeaving
	}
	a.leaving = true
	self := a.selfID
	a.mu.Unlock()

	if err := a.transport.Leave(self); err != nil {
		logger.Errorf("gcs: leave failed for %s: %v", self, err)
		a.mu.Lock()
		a.leaving = false
		a.mu.Unlock()
		return LeaveError
	}

	a.mu.Lock()
	a.leaving = false
	a.left = true
	a.mu.Unlock()
	return LeaveNowLeaving
}

// SendMessage broadcasts msg to every member of the view that includes
// the sender, in the total order shared with every other OK-sent
// message. skipIfNotInitialized suppresses the send (returning OK
// without contacting the transport) before Join has completed.
func (a *Adapter) SendMessage(msg wireproto.Message, skipIfNotInitialized bool) (SendResult, error) {
	a.mu.Lock()
	initialized := a.initialized
	self := a.selfID
	a.mu.Unlock()

	if !initialized {
		if skipIfNotInitialized {
			return SendOK, nil
		}
		return SendNOK, fmt.Errorf("gcs: send before join")
	}

	raw := wireproto.Encode(msg)
	if a.maxMessageSize > 0 && int64(len(raw)) > a.maxMessageSize {
		a.stats.Inc("gcs.send.too_big", 1)
		return SendTooBig, fmt.Errorf("gcs: message of %d bytes exceeds communication_max_message_size %d", len(raw), a.maxMessageSize)
	}
	if a.limiter != nil && !a.limiter.Allow() {
		a.stats.Inc("gcs.send.throttled", 1)
		return SendNOK, fmt.Errorf("gcs: send throttled by flow control quota")
	}

	if err := a.transport.Send(self, raw); err != nil {
		a.stats.Inc("gcs.send.nok", 1)
		return SendNOK, fmt.Errorf("gcs: send: %w", err)
	}
	a.stats.Inc("gcs.send.ok", 1)
	return SendOK, nil
}

// ForceMembers is the unsafe recovery path, valid only when a majority
// is unreachable.
func (a *Adapter) ForceMembers(spec string) error {
	logger.Warningf("gcs: force_members invoked with spec %q", spec)
	return a.transport.ForceMembers(spec)
}

// WriteConcurrency returns the last-set write concurrency. Changing it
// is asynchronous in the real engine; here the setter takes effect
// immediately since there is no remote round-trip to model.
func (a *Adapter) WriteConcurrency() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writeConcurrency
}

// SetWriteConcurrency requests a new write concurrency level.
func (a *Adapter) SetWriteConcurrency(n int) error {
	if n < 1 {
		return fmt.Errorf("gcs: write concurrency must be >= 1, got %d", n)
	}
	a.mu.Lock()
	a.writeConcurrency = n
	a.mu.Unlock()
	return nil
}

// ProtocolVersion returns the currently negotiated protocol version.
func (a *Adapter) ProtocolVersion() uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.protocolVersion
}

// SetProtocolVersion requests a protocol version change. Per §9's
// design notes, the caller must only issue this as part of a
// coordinated group action, never mid-transaction; the adapter itself
// does not enforce that ordering.
func (a *Adapter) SetProtocolVersion(v uint16) error {
	if v == 0 {
		return fmt.Errorf("gcs: protocol version must be >= 1")
	}
	a.mu.Lock()
	a.protocolVersion = v
	a.mu.Unlock()
	return nil
}

// NegotiateProtocolVersion recomputes the adapter's protocol version from
// the capability versions carried in a view's online members (the
// Group_member_info fields exchanged at join), and adopts the lowest one
// found — the version every member in the view is guaranteed to
// understand. A view with no online members leaves the current version
// untouched. Returns the version now in effect.
func (a *Adapter) NegotiateProtocolVersion(members []member.Snapshot) uint16 {
	var lowest uint16
	for _, m := range members {
		if m.Status != member.StatusOnline {
			continue
		}
		if lowest == 0 || m.CapabilityVersion < lowest {
			lowest = m.CapabilityVersion
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if lowest == 0 {
		return a.protocolVersion
	}
	if lowest != a.protocolVersion {
		logger.Infof("gcs: negotiated protocol version %d -> %d across %d online members", a.protocolVersion, lowest, len(members))
		a.protocolVersion = lowest
	}
	return a.protocolVersion
}

// SetLeader designates id as the sole preferred consensus leader.
func (a *Adapter) SetLeader(id member.ID) {
	a.mu.Lock()
	a.everyoneLeader = false
	a.preferredLeaders = map[member.ID]bool{id: true}
	a.mu.Unlock()
}

// SetEveryoneLeader reverts to every member being an eligible leader.
func (a *Adapter) SetEveryoneLeader() {
	a.mu.Lock()
	a.everyoneLeader = true
	a.preferredLeaders = make(map[member.ID]bool)
	a.mu.Unlock()
}

// GetLeaders returns the preferred leader set (possibly empty, meaning
// "everyone") and reports whether everyone is currently preferred.
func (a *Adapter) GetLeaders() (preferred []member.ID, everyone bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id := range a.preferredLeaders {
		preferred = append(preferred, id)
	}
	return preferred, a.everyoneLeader
}
