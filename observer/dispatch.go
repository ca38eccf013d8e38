package observer

import (
	"github.com/bolinfest/grouprepl/member"
	"github.com/bolinfest/grouprepl/wireproto"
)

// HandleTransactionMessage is the view.Dispatcher MessageHandler for
// CargoTransaction and CargoTransactionWithGuarantee: every member,
// including the sender's own delivery of its own broadcast, receives it
// in the same total order and certifies it here — this is the single
// point a transaction is ever actually certified. A self-delivery wakes
// the PreCommit call still blocked on it (see preCommitLocal); any other
// delivery just runs certification for its own sake.
func (o *Observer) HandleTransactionMessage(sender member.ID, msg wireproto.Message) {
	certReq, threadID, level, payload, err := DecodeTransactionMessage(msg)
	if err != nil {
		logger.Errorf("observer: decoding transaction from %s: %v", sender, err)
		return
	}

	local := sender == o.selfID
	result, certErr := o.certifyAndRegister(PreCommitRequest{
		ThreadID:        threadID,
		Local:           local,
		SnapshotVersion: certReq.SnapshotVersion,
		WriteSet:        certReq.WriteSet,
		GenerateID:      certReq.GenerateID,
		SpecifiedGTID:   certReq.SpecifiedGTID,
		OriginatorID:    sender,
		Level:           level,
		Payload:         payload,
	})

	if local {
		o.pendingMu.Lock()
		ch, ok := o.pendingLocal[threadID]
		o.pendingMu.Unlock()
		if ok {
			ch <- localCertOutcome{result: result, err: certErr}
		}
		return
	}

	if certErr != nil {
		logger.Errorf("observer: remote certification from %s (thread %d) failed: %v", sender, threadID, certErr)
		return
	}
	if result.Outcome == CertNegative {
		logger.Warningf("observer: remote transaction from %s (thread %d) negatively certified", sender, threadID)
	}
}

// HandlePrepareAckMessage is the MessageHandler for CargoPrepareAck.
func (o *Observer) HandlePrepareAckMessage(sender member.ID, msg wireproto.Message) {
	id, err := DecodePrepareAck(msg)
	if err != nil {
		logger.Errorf("observer: decoding prepare-ack from %s: %v", sender, err)
		return
	}
	o.HandleRemotePrepare(id, sender)
}

// HandleSyncBeforeExecutionMessage is the MessageHandler for
// CargoSyncBeforeExecution: only the originating session's own delivery
// wakes its BeforeBegin wait, carrying the executed set at this delivery
// point as the "received set" §4.5 waits for local commit to reach.
func (o *Observer) HandleSyncBeforeExecutionMessage(sender member.ID, msg wireproto.Message) {
	if sender != o.selfID {
		return
	}
	threadID, err := DecodeSyncBeforeExecution(msg)
	if err != nil {
		logger.Errorf("observer: decoding sync-before-execution: %v", err)
		return
	}
	o.coord.DeliverSyncBeforeExecution(threadID, o.cert.GroupGTIDExecuted())
}
