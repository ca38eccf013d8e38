package corectx

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bolinfest/grouprepl/certifier"
	"github.com/bolinfest/grouprepl/config"
	"github.com/bolinfest/grouprepl/consistency"
	"github.com/bolinfest/grouprepl/gcs"
	"github.com/bolinfest/grouprepl/member"
	"github.com/bolinfest/grouprepl/metrics"
	"github.com/bolinfest/grouprepl/observer"
)

func newTestMember(id member.ID, uuidStr string) *member.Member {
	m := member.New(id, uuidStr, "127.0.0.1", 3306, 50, 1)
	m.SetStatus(member.StatusOnline)
	return m
}

func TestCoreContext_RemoteCertificationOverLoopback(t *testing.T) {
	group := uuid.New()
	transport := gcs.NewLoopbackTransport("group-1")

	memberA := newTestMember("A", "uuid-a")
	memberB := newTestMember("B", "uuid-b")

	ccA := New(config.New(group), memberA, transport, metrics.NoOp(), Hooks{})
	ccB := New(config.New(group), memberB, transport, metrics.NoOp(), Hooks{})

	if err := ccA.Initialize(); err != nil {
		t.Fatalf("ccA.Initialize: %v", err)
	}
	defer ccA.Finalize()
	if err := ccB.Initialize(); err != nil {
		t.Fatalf("ccB.Initialize: %v", err)
	}
	defer ccB.Finalize()

	ccA.Observer().SetReady(true)
	ccB.Observer().SetReady(true)

	result, err := ccA.Observer().PreCommit(observer.PreCommitRequest{
		ThreadID:   1,
		Local:      true,
		GenerateID: true,
		WriteSet:   []certifier.WriteSetItem{"row-a"},
		Level:      consistency.LevelEventual,
	})
	if err != nil {
		t.Fatalf("PreCommit: %v", err)
	}
	if result.Outcome != observer.CertPositive {
		t.Fatalf("Outcome = %v, want CertPositive", result.Outcome)
	}

	if !ccB.Certifier().GroupGTIDExecuted().Contains(result.GTID) {
		t.Fatal("remote member never certified the broadcast transaction")
	}
}

func TestCoreContext_AfterConsistencyReleasesOnBothMembers(t *testing.T) {
	group := uuid.New()
	transport := gcs.NewLoopbackTransport("group-2")

	memberA := newTestMember("A", "uuid-a")
	memberB := newTestMember("B", "uuid-b")

	ccA := New(config.New(group), memberA, transport, metrics.NoOp(), Hooks{})
	ccB := New(config.New(group), memberB, transport, metrics.NoOp(), Hooks{})

	if err := ccA.Initialize(); err != nil {
		t.Fatalf("ccA.Initialize: %v", err)
	}
	defer ccA.Finalize()
	if err := ccB.Initialize(); err != nil {
		t.Fatalf("ccB.Initialize: %v", err)
	}
	defer ccB.Finalize()

	ccA.Observer().SetReady(true)
	ccB.Observer().SetReady(true)

	result, err := ccA.Observer().PreCommit(observer.PreCommitRequest{
		ThreadID:   1,
		Local:      true,
		GenerateID: true,
		WriteSet:   []certifier.WriteSetItem{"row-a"},
		Level:      consistency.LevelAfter,
	})
	if err != nil {
		t.Fatalf("PreCommit: %v", err)
	}

	if err := ccA.Observer().AfterApplierPrepare(result.GTID, 1, member.StatusOnline); err != nil {
		t.Fatalf("ccA AfterApplierPrepare: %v", err)
	}
	if err := ccB.Observer().AfterApplierPrepare(result.GTID, 1, member.StatusOnline); err != nil {
		t.Fatalf("ccB AfterApplierPrepare: %v", err)
	}

	outcomeA, err := ccA.Observer().AwaitCommit(result.GTID, time.Second)
	if err != nil {
		t.Fatalf("ccA AwaitCommit: %v", err)
	}
	if outcomeA != consistency.OutcomeCommit {
		t.Fatalf("ccA outcome = %v, want OutcomeCommit", outcomeA)
	}

	outcomeB, err := ccB.Observer().AwaitCommit(result.GTID, time.Second)
	if err != nil {
		t.Fatalf("ccB AwaitCommit: %v", err)
	}
	if outcomeB != consistency.OutcomeCommit {
		t.Fatalf("ccB outcome = %v, want OutcomeCommit", outcomeB)
	}

	ccA.Observer().PostCommit(result.GTID)
	ccB.Observer().PostCommit(result.GTID)
}
