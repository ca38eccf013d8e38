package main

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/bolinfest/grouprepl/certifier"
	"github.com/bolinfest/grouprepl/consistency"
	"github.com/bolinfest/grouprepl/gcs"
	"github.com/bolinfest/grouprepl/gtid"
	"github.com/bolinfest/grouprepl/member"
	"github.com/bolinfest/grouprepl/metrics"
	"github.com/bolinfest/grouprepl/observer"
)

// scenarioS1 certifies one non-conflicting transaction per member and
// checks every member's group_gtid_executed eventually contains every
// other member's GTID.
func scenarioS1(w io.Writer, members int) error {
	if members < 2 {
		members = 2
	}
	sg, err := newSimGroup("s1", members, 1)
	if err != nil {
		return err
	}
	defer sg.Stop()

	ids := make([]gtid.ID, 0, members)
	for i, cc := range sg.members {
		r, err := cc.Observer().PreCommit(observer.PreCommitRequest{
			ThreadID:   1,
			Local:      true,
			GenerateID: true,
			WriteSet:   []certifier.WriteSetItem{fmt.Sprintf("w%d", i)},
			Level:      consistency.LevelEventual,
		})
		if err != nil {
			return fmt.Errorf("member %d certify: %w", i, err)
		}
		if r.Outcome != observer.CertPositive {
			return fmt.Errorf("member %d: expected positive certification", i)
		}
		fmt.Fprintf(w, "S1: member %d committed %s last_committed=%d seq=%d\n", i, r.GTID, r.LastCommitted, r.SequenceNumber)
		ids = append(ids, r.GTID)
	}

	for i, cc := range sg.members {
		for _, id := range ids {
			if !cc.Certifier().GroupGTIDExecuted().Contains(id) {
				return fmt.Errorf("member %d never observed %s", i, id)
			}
		}
	}
	return nil
}

// scenarioS2 certifies a transaction on A, then a conflicting one
// (same write-set item, empty snapshot) on B, ordered after A's.
func scenarioS2(w io.Writer) error {
	sg, err := newSimGroup("s2", 2, 1)
	if err != nil {
		return err
	}
	defer sg.Stop()
	a, b := sg.members[0], sg.members[1]

	r1, err := a.Observer().PreCommit(observer.PreCommitRequest{
		ThreadID: 1, Local: true, GenerateID: true,
		WriteSet: []certifier.WriteSetItem{"w1"},
		Level:    consistency.LevelEventual,
	})
	if err != nil {
		return fmt.Errorf("T1 certify: %w", err)
	}
	if r1.Outcome != observer.CertPositive {
		return fmt.Errorf("T1: expected positive certification")
	}
	fmt.Fprintf(w, "S2: T1 -> %s outcome=%v\n", r1.GTID, r1.Outcome)

	r2, err := b.Observer().PreCommit(observer.PreCommitRequest{
		ThreadID: 1, Local: true, GenerateID: true,
		WriteSet: []certifier.WriteSetItem{"w1"},
		Level:    consistency.LevelEventual,
	})
	if err != nil {
		return fmt.Errorf("T2 certify: %w", err)
	}
	fmt.Fprintf(w, "S2: T2 -> outcome=%v (conflicts with T1 on w1)\n", r2.Outcome)
	if r2.Outcome != observer.CertNegative {
		return fmt.Errorf("T2: expected negative certification")
	}
	return nil
}

// scenarioS3 certifies an AFTER transaction across three members and
// shows the committing session only unblocks once it has both applied
// locally and received every other online member's prepare-ack, in
// whatever order those acks arrive.
func scenarioS3(w io.Writer) error {
	sg, err := newSimGroup("s3", 3, 1)
	if err != nil {
		return err
	}
	defer sg.Stop()
	a, b, c := sg.members[0], sg.members[1], sg.members[2]

	result, err := a.Observer().PreCommit(observer.PreCommitRequest{
		ThreadID: 1, Local: true, GenerateID: true,
		WriteSet: []certifier.WriteSetItem{"w1"},
		Level:    consistency.LevelAfter,
	})
	if err != nil {
		return fmt.Errorf("certify: %w", err)
	}

	if err := b.Observer().AfterApplierPrepare(result.GTID, 1, member.StatusOnline); err != nil {
		return fmt.Errorf("B prepare: %w", err)
	}
	if err := c.Observer().AfterApplierPrepare(result.GTID, 1, member.StatusOnline); err != nil {
		return fmt.Errorf("C prepare: %w", err)
	}
	if a.Coordinator().Pending() == 0 {
		return fmt.Errorf("A released before its own applier prepared")
	}
	fmt.Fprintf(w, "S3: B and C acked first; A is still waiting on its own local apply\n")

	if err := a.Observer().AfterApplierPrepare(result.GTID, 1, member.StatusOnline); err != nil {
		return fmt.Errorf("A prepare: %w", err)
	}

	outcome, err := a.Observer().AwaitCommit(result.GTID, time.Second)
	if err != nil {
		return fmt.Errorf("await commit: %w", err)
	}
	fmt.Fprintf(w, "S3: T -> %s released outcome=%v\n", result.GTID, outcome)
	if outcome != consistency.OutcomeCommit {
		return fmt.Errorf("expected OutcomeCommit")
	}
	return nil
}

// scenarioS3Leave shows a consistency record releasing once a member
// that never acked leaves the group.
func scenarioS3Leave(w io.Writer) error {
	sg, err := newSimGroup("s3-leave", 3, 1)
	if err != nil {
		return err
	}
	defer sg.Stop()
	a, b, c := sg.members[0], sg.members[1], sg.members[2]

	result, err := a.Observer().PreCommit(observer.PreCommitRequest{
		ThreadID: 1, Local: true, GenerateID: true,
		WriteSet: []certifier.WriteSetItem{"w1"},
		Level:    consistency.LevelAfter,
	})
	if err != nil {
		return fmt.Errorf("certify: %w", err)
	}
	if err := a.Observer().AfterApplierPrepare(result.GTID, 1, member.StatusOnline); err != nil {
		return fmt.Errorf("A prepare: %w", err)
	}
	if err := b.Observer().AfterApplierPrepare(result.GTID, 1, member.StatusOnline); err != nil {
		return fmt.Errorf("B prepare: %w", err)
	}

	if res := c.Adapter().Leave(); res != gcs.LeaveNowLeaving {
		return fmt.Errorf("C leave: unexpected result %v", res)
	}

	outcome, err := a.Observer().AwaitCommit(result.GTID, time.Second)
	if err != nil {
		return fmt.Errorf("await commit: %w", err)
	}
	fmt.Fprintf(w, "S3-leave: T -> %s released outcome=%v after C left without acking\n", result.GTID, outcome)
	if outcome != consistency.OutcomeCommit {
		return fmt.Errorf("expected OutcomeCommit")
	}
	return nil
}

// scenarioS4 puts B's applier 2 transactions behind its own
// certification state, then shows a BEFORE read on B blocks until the
// remaining transactions are reported applied.
func scenarioS4(w io.Writer) error {
	sg, err := newSimGroup("s4", 2, 1)
	if err != nil {
		return err
	}
	defer sg.Stop()
	a, b := sg.members[0], sg.members[1]

	ids := make([]gtid.ID, 0, 10)
	for i := 0; i < 10; i++ {
		r, err := a.Observer().PreCommit(observer.PreCommitRequest{
			ThreadID: int64(i + 1), Local: true, GenerateID: true,
			WriteSet: []certifier.WriteSetItem{fmt.Sprintf("w%d", i)},
			Level:    consistency.LevelEventual,
		})
		if err != nil {
			return fmt.Errorf("certify T%d: %w", i, err)
		}
		ids = append(ids, r.GTID)
	}

	// B's certifier already has all 10 (certification is broadcast
	// synchronously); only its applier is behind, modeled by calling
	// PostCommit for the first 8 only.
	for i := 0; i < 8; i++ {
		b.Observer().PostCommit(ids[i])
	}
	fmt.Fprintf(w, "S4: B certified all 10, applied only 8; issuing a BEFORE read on B\n")

	done := make(chan error, 1)
	go func() {
		done <- b.Observer().BeforeBegin(99, consistency.LevelBefore, 2*time.Second, func() bool { return false })
	}()

	select {
	case <-done:
		return fmt.Errorf("BEFORE read returned before B's applier caught up")
	case <-time.After(50 * time.Millisecond):
	}

	b.Observer().PostCommit(ids[8])
	b.Observer().PostCommit(ids[9])

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("BEFORE read: %w", err)
		}
	case <-time.After(time.Second):
		return fmt.Errorf("BEFORE read never unblocked after B caught up")
	}
	fmt.Fprintf(w, "S4: BEFORE read unblocked once B applied the remaining 2 transactions\n")
	return nil
}

// scenarioS5 drives the per-member GNO block reservation directly
// against two independent certifiers (standing in for two members),
// then crosses a block-size boundary on one of them to exercise the
// periodic stale-block reclaim.
func scenarioS5(w io.Writer, blockSize int64) error {
	if blockSize < 2 {
		blockSize = 2
	}
	group := uuid.New()

	certA := certifier.New(group, blockSize, metrics.NoOp())
	certB := certifier.New(group, blockSize, metrics.NoOp())

	idA := member.ID("A")
	idB := member.ID("B")

	gnoA, _, err := certA.Certify(certifier.CertifyRequest{
		WriteSet: []certifier.WriteSetItem{"a-w1"}, GenerateID: true,
		OriginatorMemberID: idA, Local: true,
	})
	if err != nil {
		return fmt.Errorf("A certify: %w", err)
	}
	fmt.Fprintf(w, "S5: A reserves a %d-wide block, uses gno=%d\n", blockSize, gnoA)

	// B's certifier mirrors A's transaction over the wire, the same as
	// handleTransactionMessage would, before B reserves its own block.
	if _, _, err := certB.Certify(certifier.CertifyRequest{
		WriteSet: []certifier.WriteSetItem{"a-w1"}, GenerateID: false,
		SpecifiedGTID: gtid.ID{SID: group, GNO: gnoA}, OriginatorMemberID: idA,
	}); err != nil {
		return fmt.Errorf("B mirrors A's transaction: %w", err)
	}

	gnoB, _, err := certB.Certify(certifier.CertifyRequest{
		WriteSet: []certifier.WriteSetItem{"b-w1"}, GenerateID: true,
		OriginatorMemberID: idB, Local: true,
	})
	if err != nil {
		return fmt.Errorf("B certify: %w", err)
	}
	fmt.Fprintf(w, "S5: B reserves its own %d-wide block, uses gno=%d (only A's assigned gno is excluded)\n", blockSize, gnoB)

	var last int64
	for i := int64(0); i < blockSize+1; i++ {
		gno, _, err := certA.Certify(certifier.CertifyRequest{
			WriteSet: []certifier.WriteSetItem{fmt.Sprintf("a-w%d", i+2)}, GenerateID: true,
			OriginatorMemberID: idA, Local: true,
		})
		if err != nil {
			return fmt.Errorf("A certify round %d: %w", i, err)
		}
		last = gno
	}
	fmt.Fprintf(w, "S5: %d more local transactions on A cross a gtids_assigned_in_blocks_counter boundary; last gno=%d\n", blockSize+1, last)
	return nil
}

// scenarioS6 seeds certification info with two entries whose snapshot
// versions span different ranges, advances the stable set between
// them, and shows exactly one entry gets swept while the other is
// retained, followed by a forced full parallel-applier barrier.
func scenarioS6(w io.Writer) error {
	group := uuid.New()
	cert := certifier.New(group, 1, metrics.NoOp())

	snap1 := gtid.NewSet()
	snap1.AddInterval(group, gtid.Interval{Start: 1, End: 4})
	if _, _, err := cert.Certify(certifier.CertifyRequest{
		SnapshotVersion: snap1, WriteSet: []certifier.WriteSetItem{"w1"},
		SpecifiedGTID: gtid.ID{SID: group, GNO: 5},
	}); err != nil {
		return fmt.Errorf("seeding w1: %w", err)
	}

	snap2 := gtid.NewSet()
	snap2.AddInterval(group, gtid.Interval{Start: 1, End: 9})
	if _, _, err := cert.Certify(certifier.CertifyRequest{
		SnapshotVersion: snap2, WriteSet: []certifier.WriteSetItem{"w2"},
		SpecifiedGTID: gtid.ID{SID: group, GNO: 10},
	}); err != nil {
		return fmt.Errorf("seeding w2: %w", err)
	}

	before := cert.Stats().CertInfoSize
	fmt.Fprintf(w, "S6: certification info holds %d entries (w1 snapshot {1..5}, w2 snapshot {1..10})\n", before)

	stable := gtid.NewSet()
	stable.AddInterval(group, gtid.Interval{Start: 1, End: 7})
	cert.SetGroupStableTransactionsSet(stable)

	after := cert.Stats().CertInfoSize
	fmt.Fprintf(w, "S6: stable set advances to {1..7}; certification info now holds %d entries (w1 swept, w2 retained)\n", after)
	if after != before-1 {
		return fmt.Errorf("expected exactly one entry swept, before=%d after=%d", before, after)
	}

	gno, result, err := cert.Certify(certifier.CertifyRequest{
		WriteSet:      []certifier.WriteSetItem{"w3"},
		SpecifiedGTID: gtid.ID{SID: group, GNO: 11},
	})
	if err != nil {
		return fmt.Errorf("post-sweep certify: %w", err)
	}
	fmt.Fprintf(w, "S6: next transaction gno=%d last_committed=%d confirms the forced full barrier\n", gno, result.LastCommitted)
	return nil
}
