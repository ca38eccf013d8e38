package observer

import (
	"testing"

	"github.com/google/uuid"

	"github.com/bolinfest/grouprepl/certifier"
	"github.com/bolinfest/grouprepl/consistency"
	"github.com/bolinfest/grouprepl/gtid"
	"github.com/bolinfest/grouprepl/wireproto"
)

func TestTransactionMessageRoundTrip_SpecifiedGTID(t *testing.T) {
	id := gtid.ID{SID: uuid.New(), GNO: 42}
	req := PreCommitRequest{
		ThreadID:      7,
		WriteSet:      []certifier.WriteSetItem{"row-a", "row-b"},
		Level:         consistency.LevelAfter,
		GenerateID:    false,
		SpecifiedGTID: id,
		Payload:       []byte("binlog-bytes"),
	}

	msg := EncodeTransactionMessage(req)
	if msg.Header.CargoType.String() != "TRANSACTION_WITH_GUARANTEE" {
		t.Fatalf("cargo type = %v, want TRANSACTION_WITH_GUARANTEE", msg.Header.CargoType)
	}

	decodedReq, threadID, level, payload, err := DecodeTransactionMessage(msg)
	if err != nil {
		t.Fatalf("DecodeTransactionMessage: %v", err)
	}
	if threadID != req.ThreadID {
		t.Fatalf("threadID = %d, want %d", threadID, req.ThreadID)
	}
	if level != req.Level {
		t.Fatalf("level = %v, want %v", level, req.Level)
	}
	if decodedReq.SpecifiedGTID != id {
		t.Fatalf("gtid = %v, want %v", decodedReq.SpecifiedGTID, id)
	}
	if decodedReq.GenerateID {
		t.Fatal("decoded GenerateID must match the encoded request")
	}
	if len(decodedReq.WriteSet) != 2 || decodedReq.WriteSet[0] != "row-a" || decodedReq.WriteSet[1] != "row-b" {
		t.Fatalf("write set = %v, want [row-a row-b]", decodedReq.WriteSet)
	}
	if string(payload) != "binlog-bytes" {
		t.Fatalf("payload = %q, want %q", payload, "binlog-bytes")
	}
}

func TestTransactionMessageRoundTrip_GenerateIDAndSnapshot(t *testing.T) {
	snapshot := gtid.NewSet()
	snapshot.AddInterval(uuid.New(), gtid.Interval{Start: 1, End: 5})

	req := PreCommitRequest{
		ThreadID:        3,
		WriteSet:        []certifier.WriteSetItem{"row-c"},
		Level:           consistency.LevelEventual,
		GenerateID:      true,
		SnapshotVersion: snapshot,
	}

	msg := EncodeTransactionMessage(req)
	decodedReq, threadID, level, _, err := DecodeTransactionMessage(msg)
	if err != nil {
		t.Fatalf("DecodeTransactionMessage: %v", err)
	}
	if threadID != req.ThreadID {
		t.Fatalf("threadID = %d, want %d", threadID, req.ThreadID)
	}
	if level != req.Level {
		t.Fatalf("level = %v, want %v", level, req.Level)
	}
	if !decodedReq.GenerateID {
		t.Fatal("GenerateID must survive the round trip as true")
	}
	if !decodedReq.SnapshotVersion.Equal(snapshot) {
		t.Fatalf("snapshot version = %v, want %v", decodedReq.SnapshotVersion, snapshot)
	}
}

func TestTransactionMessageEventualCargo(t *testing.T) {
	msg := EncodeTransactionMessage(PreCommitRequest{Level: consistency.LevelEventual, GenerateID: true})
	if msg.Header.CargoType.String() != "TRANSACTION" {
		t.Fatalf("cargo type = %v, want TRANSACTION", msg.Header.CargoType)
	}
}

func TestPrepareAckRoundTrip(t *testing.T) {
	id := gtid.ID{SID: uuid.New(), GNO: 9}
	msg := EncodePrepareAck(id)
	got, err := DecodePrepareAck(msg)
	if err != nil {
		t.Fatalf("DecodePrepareAck: %v", err)
	}
	if got != id {
		t.Fatalf("got %v, want %v", got, id)
	}
}

func TestSyncBeforeExecutionRoundTrip(t *testing.T) {
	msg := EncodeSyncBeforeExecution(123)
	got, err := DecodeSyncBeforeExecution(msg)
	if err != nil {
		t.Fatalf("DecodeSyncBeforeExecution: %v", err)
	}
	if got != 123 {
		t.Fatalf("got %d, want 123", got)
	}
}

func TestDecodeTransactionMessageMissingFieldsError(t *testing.T) {
	if _, _, _, _, err := DecodeTransactionMessage(wireproto.Message{}); err == nil {
		t.Fatal("expected error decoding message with no items")
	}
}
