// Package observer implements the Observer Surface (§2, §6): the set of
// hook entry points a server plugin framework calls into at well-known
// points of a session's lifecycle and of group membership change. Every
// hook here is a thin translation into a certifier/consistency.Coordinator
// call; the package owns no certification or barrier state itself.
//
// Grounded on the teacher's manager-as-façade shape (src/consensus/scope.go):
// Manager there is the single entry point external RPC handlers call into,
// fanning out to per-instance state exactly the way Observer fans each hook
// out to the certifier and coordinator it wraps.
package observer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/op/go-logging"

	"github.com/bolinfest/grouprepl/certifier"
	"github.com/bolinfest/grouprepl/consistency"
	"github.com/bolinfest/grouprepl/gtid"
	"github.com/bolinfest/grouprepl/holdgate"
	"github.com/bolinfest/grouprepl/member"
	"github.com/bolinfest/grouprepl/memberactions"
	"github.com/bolinfest/grouprepl/metrics"
)

var logger = logging.MustGetLogger("observer")

// ErrMemberNotReady is returned by PreDML when the local member's status
// does not currently accept new writes.
var ErrMemberNotReady = errors.New("observer: local member not ready to accept transactions")

// CertOutcome classifies the result of a PreCommit call.
type CertOutcome int

const (
	CertPositive CertOutcome = iota
	CertNegative
)

// PreCommitRequest carries everything before_commit needs to run
// certification and register a consistency record for one transaction.
type PreCommitRequest struct {
	ThreadID        int64
	Local           bool
	SnapshotVersion *gtid.Set
	WriteSet        []certifier.WriteSetItem
	GenerateID      bool
	SpecifiedGTID   gtid.ID
	OriginatorID    member.ID
	Level           consistency.Level
	// Payload is the opaque transaction-context/GTID/binlog-cache blob
	// to carry over the wire on a Local certification; unused for
	// remote transactions, which already arrived with their own
	// payload attached to the inbound message.
	Payload []byte
}

// PreCommitResult is what the engine must do next with the transaction.
type PreCommitResult struct {
	Outcome CertOutcome
	GTID    gtid.ID
	LastCommitted  int64
	SequenceNumber int64
}

// Hooks are the actions Observer drives outward, towards the broadcast
// and applier machinery the rest of the core owns.
type Hooks struct {
	// BroadcastTransaction sends req, not yet certified, over the group
	// for every member — including this one — to certify once it comes
	// back in delivery order; used only when req.Local is true. A nil
	// hook means single-member operation (tests, the simulation driver's
	// direct-call mode), where PreCommit certifies immediately since
	// there is no group to round-trip through.
	BroadcastTransaction func(req PreCommitRequest) error
	// RunMemberAction executes one member action after a primary
	// election completes (§6 member-actions AFTER_PRIMARY_ELECTION).
	RunMemberAction func(a memberactions.Action) error
	// OnFatalError is invoked when certification itself faults
	// (CERTIFICATION_EXHAUSTED, INTERNAL — §7); the caller is expected
	// to apply the configured exit_state_action.
	OnFatalError func(err error)
}

// Observer wires the certifier, the consistency coordinator, the
// hold-transactions gate, and the member-actions store into the hook
// surface a server plugin framework calls.
type Observer struct {
	cert    *certifier.Certifier
	coord   *consistency.Coordinator
	gate    *holdgate.Gate
	actions *memberactions.Store
	stats   *metrics.Sink
	hooks   Hooks

	selfID member.ID

	mu          sync.RWMutex
	currentView member.View
	ready       bool

	pendingMu sync.Mutex
	// pendingLocal holds, per in-flight local thread id, the channel
	// PreCommit is blocked reading from while it waits for this
	// member's own broadcast to come back through ordered delivery and
	// actually get certified (see certifyAndRegister/HandleTransactionMessage).
	pendingLocal map[int64]chan localCertOutcome
}

// localCertOutcome is what a self-delivered transaction message hands
// back to the PreCommit call still waiting on it.
type localCertOutcome struct {
	result PreCommitResult
	err    error
}

// New constructs an Observer. selfID must match the id this member joins
// the group under, so online-member bookkeeping can exclude self.
func New(cert *certifier.Certifier, coord *consistency.Coordinator, gate *holdgate.Gate, actions *memberactions.Store, stats *metrics.Sink, selfID member.ID, hooks Hooks) *Observer {
	return &Observer{
		cert:         cert,
		coord:        coord,
		gate:         gate,
		actions:      actions,
		stats:        stats,
		hooks:        hooks,
		selfID:       selfID,
		pendingLocal: make(map[int64]chan localCertOutcome),
	}
}

// SetReady marks the member as accepting new local transactions;
// PreDML checks this flag alone.
func (o *Observer) SetReady(ready bool) {
	o.mu.Lock()
	o.ready = ready
	o.mu.Unlock()
}

// PreDML implements the pre-DML veto hook: a session may only start
// writing once this member is ready to certify and broadcast.
func (o *Observer) PreDML(threadID int64) error {
	o.mu.RLock()
	ready := o.ready
	o.mu.RUnlock()
	if !ready {
		return ErrMemberNotReady
	}
	return nil
}

// BeforeBegin implements the before_transaction_begin hook (§4.5): the
// session blocks here per its requested consistency level before any
// work executes.
func (o *Observer) BeforeBegin(threadID int64, level consistency.Level, timeout time.Duration, killed func() bool) error {
	return o.coord.BeforeTransactionBegin(threadID, level, timeout, killed)
}

// PreCommit implements the before_commit hook: blocking certification.
// On CertPositive the caller must proceed to apply locally and then call
// PostCommit; on CertNegative the caller must roll back.
//
// A local transaction is never certified directly here. Certifying it
// before the group has delivered it back in total order would let two
// members decide a conflicting or colliding GTID assignment for two
// concurrently committing, non-conflicting transactions independently of
// one another — the "decides identically on every replica" guarantee
// only holds if every member, including the originator, runs certify()
// over the exact same, exactly-ordered input. So a local transaction is
// broadcast first, uncertified, and only actually certified once it
// comes back through HandleTransactionMessage; PreCommit blocks on that
// round trip. With no broadcast hook wired (single-member operation)
// there is no group to round-trip through, so it certifies immediately.
func (o *Observer) PreCommit(req PreCommitRequest) (PreCommitResult, error) {
	if req.Local && o.hooks.BroadcastTransaction != nil {
		return o.preCommitLocal(req)
	}
	return o.certifyAndRegister(req)
}

// preCommitLocal broadcasts req uncertified and blocks until this
// member's own delivery of it has been certified and registered.
func (o *Observer) preCommitLocal(req PreCommitRequest) (PreCommitResult, error) {
	ch := make(chan localCertOutcome, 1)
	o.pendingMu.Lock()
	o.pendingLocal[req.ThreadID] = ch
	o.pendingMu.Unlock()
	defer func() {
		o.pendingMu.Lock()
		delete(o.pendingLocal, req.ThreadID)
		o.pendingMu.Unlock()
	}()

	if err := o.hooks.BroadcastTransaction(req); err != nil {
		return PreCommitResult{}, fmt.Errorf("observer: broadcasting transaction: %w", err)
	}

	outcome := <-ch
	if outcome.err != nil {
		return PreCommitResult{}, outcome.err
	}
	return outcome.result, nil
}

// certifyAndRegister runs certification for one delivered transaction
// (local or remote) and, on positive certification, registers its
// consistency record. It is the single place both PreCommit's
// no-broadcast-hook path and HandleTransactionMessage's delivery path
// call into, so a transaction is certified exactly once no matter which
// path reaches it.
func (o *Observer) certifyAndRegister(req PreCommitRequest) (PreCommitResult, error) {
	gno, certResult, err := o.cert.Certify(certifier.CertifyRequest{
		SnapshotVersion:    req.SnapshotVersion,
		WriteSet:           req.WriteSet,
		GenerateID:         req.GenerateID,
		SpecifiedGTID:      req.SpecifiedGTID,
		OriginatorMemberID: req.OriginatorID,
		Local:              req.Local,
	})
	if err != nil {
		if o.hooks.OnFatalError != nil {
			o.hooks.OnFatalError(err)
		}
		return PreCommitResult{}, fmt.Errorf("observer: certification fault: %w", err)
	}
	if gno == 0 {
		return PreCommitResult{Outcome: CertNegative}, nil
	}

	result := PreCommitResult{
		Outcome:        CertPositive,
		GTID:           certResult.GTID,
		LastCommitted:  certResult.LastCommitted,
		SequenceNumber: certResult.SequenceNumber,
	}

	o.mu.RLock()
	online := o.currentView.OnlineMembers()
	o.mu.RUnlock()
	o.coord.AfterCertification(req.ThreadID, req.Local, certResult.GTID, req.Level, o.selfID, online)

	return result, nil
}

// AwaitCommit blocks the committing session until id's consistency
// record is released, per the requested level's AFTER semantics.
func (o *Observer) AwaitCommit(id gtid.ID, timeout time.Duration) (consistency.CommitOutcome, error) {
	return o.coord.AwaitCommitDecision(id, timeout)
}

// PreRollback implements the before_rollback hook: there is nothing to
// veto, so it always returns nil.
func (o *Observer) PreRollback(threadID int64) error {
	return nil
}

// PostCommit implements the after_commit hook: release BEFORE waiters
// blocked on id, and mark it committed locally.
func (o *Observer) PostCommit(id gtid.ID) {
	o.coord.AfterCommit(id)
}

// PostRollback implements the after_rollback hook: a transaction that
// was certified positive but then failed to apply locally must still
// release anything waiting on its consistency record, as a rollback
// rather than a commit.
func (o *Observer) PostRollback(id gtid.ID) {
	o.coord.Abort(id)
}

// AfterApplierPrepare implements the after_applier_prepare hook, carrying
// (sidno, gno, thread_id, member_status) per §6: only an ONLINE member
// participates in the prepare-ack protocol, matching the certifier's
// members_to_prepare set, which is built from OnlineMembers at
// after_certification time.
func (o *Observer) AfterApplierPrepare(id gtid.ID, threadID int64, memberStatus member.Status) error {
	if memberStatus != member.StatusOnline {
		return nil
	}
	return o.coord.AfterApplierPrepare(id)
}

// HandleRemotePrepare implements the handle_remote_prepare hook.
func (o *Observer) HandleRemotePrepare(id gtid.ID, sender member.ID) {
	o.coord.HandleRemotePrepare(id, sender)
}

// HandleMemberLeave implements the handle_member_leave hook: vector of
// member ids that left the group, independent of whether a full view
// change has been delivered yet.
func (o *Observer) HandleMemberLeave(leavers []member.ID) {
	o.coord.HandleMemberLeave(leavers)
}

// HandleView implements the view-change hook: installs the new view for
// OnlineMembers bookkeeping, forwards it to the certifier for
// stable-set-round and per-member-block cleanup, and releases any
// consistency records waiting on a member that just left.
func (o *Observer) HandleView(v member.View) {
	o.mu.Lock()
	o.currentView = v
	o.mu.Unlock()

	o.cert.HandleViewChange(v)
	if len(v.Left) > 0 {
		o.coord.HandleMemberLeave(v.Left)
	}
}

// PrimaryElectionStart implements the before-primary-election hook:
// secondary appliers start blocking new transactions in BeforeBegin
// until PrimaryElectionEnd.
func (o *Observer) PrimaryElectionStart() {
	o.gate.Enable()
}

// PrimaryElectionEnd implements the after-primary-election hook: releases
// the hold-transactions gate and fires every enabled
// AFTER_PRIMARY_ELECTION member action.
func (o *Observer) PrimaryElectionEnd() {
	o.gate.Disable()
	for _, a := range o.actions.ForEvent(memberactions.EventAfterPrimaryElection) {
		if o.hooks.RunMemberAction == nil {
			continue
		}
		if err := o.hooks.RunMemberAction(a); err != nil {
			logger.Errorf("observer: member action %s failed: %v", a.Name, err)
		}
	}
}

// SetMemberError marks the local member ERROR, unblocking every
// BeforeBegin / PrimaryElectionStart waiter with holdgate.OutcomeMemberError.
func (o *Observer) SetMemberError() {
	o.gate.SetMemberError()
}

// ClearMemberError reverses SetMemberError, e.g. after a successful
// rejoin.
func (o *Observer) ClearMemberError() {
	o.gate.ClearMemberError()
}
