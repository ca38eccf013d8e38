package observer

import (
	"encoding/binary"
	"fmt"

	"github.com/bolinfest/grouprepl/certifier"
	"github.com/bolinfest/grouprepl/consistency"
	"github.com/bolinfest/grouprepl/gtid"
	"github.com/bolinfest/grouprepl/wireproto"
)

// EncodeTransactionMessage renders one not-yet-certified transaction as
// the CargoTransaction (EVENTUAL) or CargoTransactionWithGuarantee (any
// other level) message every member — including the originator — certifies
// against once it is delivered back in the group's total order, matching
// the view plumbing's per-cargo-type subscription model. Certification
// itself never runs before this message is built: a transaction is only
// ever certified on delivery, so that every member runs certify() over
// the identical, identically-ordered input and agrees on the outcome.
func EncodeTransactionMessage(req PreCommitRequest) wireproto.Message {
	cargo := wireproto.CargoTransaction
	if req.Level != consistency.LevelEventual {
		cargo = wireproto.CargoTransactionWithGuarantee
	}

	generateID := byte(0)
	if req.GenerateID {
		generateID = 1
	}
	snapshot := req.SnapshotVersion
	if snapshot == nil {
		snapshot = gtid.NewSet()
	}

	items := []wireproto.PayloadItem{
		{Type: wireproto.PITThreadID, Data: encodeInt64(req.ThreadID)},
		{Type: wireproto.PITGenerateID, Data: []byte{generateID}},
		{Type: wireproto.PITSnapshotVersion, Data: []byte(snapshot.EncodeWire())},
		{Type: wireproto.PITConsistencyLevel, Data: []byte(req.Level)},
		{Type: wireproto.PITWriteSet, Data: encodeWriteSet(req.WriteSet)},
	}
	if !req.GenerateID {
		items = append(items, wireproto.PayloadItem{Type: wireproto.PITGTIDExecuted, Data: []byte(req.SpecifiedGTID.String())})
	}
	if len(req.Payload) > 0 {
		items = append(items, wireproto.PayloadItem{Type: wireproto.PITTransactionData, Data: req.Payload})
	}
	return wireproto.Message{
		Header: wireproto.Header{CargoType: cargo},
		Items:  items,
	}
}

// DecodeTransactionMessage reverses EncodeTransactionMessage, producing
// the CertifyRequest every recipient — including the sender's own
// delivery — certifies on arrival.
func DecodeTransactionMessage(msg wireproto.Message) (req certifier.CertifyRequest, threadID int64, level consistency.Level, payload []byte, err error) {
	threadIDItem, ok := msg.Find(wireproto.PITThreadID)
	if !ok {
		return req, 0, "", nil, fmt.Errorf("observer: transaction message missing thread id")
	}
	threadID, err = decodeInt64(threadIDItem.Data)
	if err != nil {
		return req, 0, "", nil, fmt.Errorf("observer: decoding thread id: %w", err)
	}

	genIDItem, ok := msg.Find(wireproto.PITGenerateID)
	if !ok {
		return req, 0, "", nil, fmt.Errorf("observer: transaction message missing generate-id flag")
	}
	if len(genIDItem.Data) != 1 {
		return req, 0, "", nil, fmt.Errorf("observer: malformed generate-id flag: %d bytes", len(genIDItem.Data))
	}
	generateID := genIDItem.Data[0] != 0

	var snapshot *gtid.Set
	if snapItem, ok := msg.Find(wireproto.PITSnapshotVersion); ok {
		snapshot, err = gtid.ParseWire(string(snapItem.Data))
		if err != nil {
			return req, 0, "", nil, fmt.Errorf("observer: decoding snapshot version: %w", err)
		}
	} else {
		snapshot = gtid.NewSet()
	}

	var specifiedGTID gtid.ID
	if !generateID {
		gtidItem, ok := msg.Find(wireproto.PITGTIDExecuted)
		if !ok {
			return req, 0, "", nil, fmt.Errorf("observer: transaction message missing specified gtid")
		}
		specifiedGTID, err = parseGTIDString(string(gtidItem.Data))
		if err != nil {
			return req, 0, "", nil, fmt.Errorf("observer: decoding gtid: %w", err)
		}
	}

	if levelItem, ok := msg.Find(wireproto.PITConsistencyLevel); ok {
		level = consistency.Level(levelItem.Data)
	} else {
		level = consistency.LevelEventual
	}

	writeSet, err := decodeWriteSet(msg)
	if err != nil {
		return req, 0, "", nil, err
	}

	if item, ok := msg.Find(wireproto.PITTransactionData); ok {
		payload = item.Data
	}

	req = certifier.CertifyRequest{
		SnapshotVersion: snapshot,
		WriteSet:        writeSet,
		GenerateID:      generateID,
		SpecifiedGTID:   specifiedGTID,
	}
	return req, threadID, level, payload, nil
}

// EncodePrepareAck renders a CargoPrepareAck message carrying one
// transaction id, the this-member-is-prepared signal §4.5 broadcasts
// once after_applier_prepare completes.
func EncodePrepareAck(id gtid.ID) wireproto.Message {
	return wireproto.Message{
		Header: wireproto.Header{CargoType: wireproto.CargoPrepareAck},
		Items: []wireproto.PayloadItem{
			{Type: wireproto.PITGTIDExecuted, Data: []byte(id.String())},
		},
	}
}

// DecodePrepareAck reverses EncodePrepareAck.
func DecodePrepareAck(msg wireproto.Message) (gtid.ID, error) {
	item, ok := msg.Find(wireproto.PITGTIDExecuted)
	if !ok {
		return gtid.ID{}, fmt.Errorf("observer: prepare-ack message missing gtid")
	}
	return parseGTIDString(string(item.Data))
}

// EncodeSyncBeforeExecution renders a CargoSyncBeforeExecution message
// for a BEFORE-consistency session, carrying only its thread id; the
// member that sent it recovers the session's wait state from threadID
// alone once the message is delivered back in order.
func EncodeSyncBeforeExecution(threadID int64) wireproto.Message {
	return wireproto.Message{
		Header: wireproto.Header{CargoType: wireproto.CargoSyncBeforeExecution},
		Items: []wireproto.PayloadItem{
			{Type: wireproto.PITThreadID, Data: encodeInt64(threadID)},
		},
	}
}

// DecodeSyncBeforeExecution reverses EncodeSyncBeforeExecution.
func DecodeSyncBeforeExecution(msg wireproto.Message) (int64, error) {
	item, ok := msg.Find(wireproto.PITThreadID)
	if !ok {
		return 0, fmt.Errorf("observer: sync-before-execution message missing thread id")
	}
	return decodeInt64(item.Data)
}

func encodeInt64(v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

func decodeInt64(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("want 8 bytes, got %d", len(b))
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func parseGTIDString(s string) (gtid.ID, error) {
	set, err := gtid.ParseWire(s)
	if err != nil {
		return gtid.ID{}, err
	}
	for _, sid := range set.Sids() {
		ivs := set.Intervals(sid)
		if len(ivs) != 1 || ivs[0].Start != ivs[0].End {
			return gtid.ID{}, fmt.Errorf("observer: expected single gtid, got set %q", s)
		}
		return gtid.ID{SID: sid, GNO: ivs[0].Start}, nil
	}
	return gtid.ID{}, fmt.Errorf("observer: empty gtid in %q", s)
}

// encodeWriteSet length-prefixes each write-set item after a 4-byte
// count, the same little-endian framing memberactions.EncodeBlob uses.
func encodeWriteSet(items []certifier.WriteSetItem) []byte {
	var out []byte
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(items)))
	out = append(out, countBuf[:]...)
	for _, item := range items {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(item)))
		out = append(out, lenBuf[:]...)
		out = append(out, item...)
	}
	return out
}

func decodeWriteSet(msg wireproto.Message) ([]certifier.WriteSetItem, error) {
	item, ok := msg.Find(wireproto.PITWriteSet)
	if !ok {
		return nil, nil
	}
	raw := item.Data
	if len(raw) < 4 {
		return nil, fmt.Errorf("observer: short write-set header: %d bytes", len(raw))
	}
	count := binary.LittleEndian.Uint32(raw[0:4])
	raw = raw[4:]

	out := make([]certifier.WriteSetItem, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(raw) < 4 {
			return nil, fmt.Errorf("observer: short write-set item %d header", i)
		}
		n := binary.LittleEndian.Uint32(raw[0:4])
		raw = raw[4:]
		if uint32(len(raw)) < n {
			return nil, fmt.Errorf("observer: short write-set item %d body: want %d, have %d", i, n, len(raw))
		}
		out = append(out, certifier.WriteSetItem(raw[:n]))
		raw = raw[n:]
	}
	return out, nil
}
