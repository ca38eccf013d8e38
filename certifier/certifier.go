// Package certifier implements the certifier (§4.3): the deterministic,
// in-memory optimistic-concurrency engine that decides whether an
// ordered transaction may commit everywhere, assigns GTIDs, and
// computes parallel-applier dependency indices.
//
// Grounded on the teacher's consensus manager (src/consensus/scope.go,
// manager_dependencies_test.go): both engines keep a per-key conflict
// history and derive a dependency index (the teacher's instance
// dependency graph; here, last_committed/sequence_number) from the
// write-sets of concurrently ordered operations. The certifier trades
// the teacher's per-scope EPaxos ballot/accept/commit phases for a
// single deterministic pass over a totally-ordered input, since the
// group-communication layer below already supplies total order.
package certifier

import (
	"errors"
	"sync"
	"time"

	logging "github.com/op/go-logging"
	"github.com/google/uuid"

	"github.com/bolinfest/grouprepl/gtid"
	"github.com/bolinfest/grouprepl/member"
	"github.com/bolinfest/grouprepl/metrics"
)

var logger = logging.MustGetLogger("certifier")

// Errors surfaced by the core's certification path (§7).
var (
	// ErrGNOExhausted is CERTIFICATION_EXHAUSTED: the sid's GNO space is
	// used up below MaxGNO. Fatal; requires a regroup under a new group
	// name.
	ErrGNOExhausted = errors.New("certifier: gno space exhausted, restart with a new group name")
	// ErrGTIDAlreadyExecuted names the case of a specified GTID already
	// present in group_gtid_executed. Certify reports that case as a
	// negative certification (0, nil) and does not return this error.
	ErrGTIDAlreadyExecuted = errors.New("certifier: specified gtid already in group_gtid_executed")
)

// version is a reference-counted snapshot-version object, shared by
// every write-set item a single transaction touches, per the "owner
// index" design note: deleting a transaction's footprint during GC is a
// single decrement per item rather than a deep copy per item.
type version struct {
	set  *gtid.Set
	refs int
}

// entry is one certification-info mapping: write-set item -> (snapshot
// version, last assigned applier sequence number).
type entry struct {
	ver *version
	seq int64
}

// blockReservation is a per-member contiguous GNO block, used when
// gtid_assignment_block_size > 1.
type blockReservation struct {
	next, end gtid.GNO // [next, end] remaining in the block, inclusive
}

// WriteSetItem is an opaque row-fingerprint byte string; equality is
// bytewise, modeled as the string conversion of the bytes so it can key
// a map directly.
type WriteSetItem = string

// CertifyRequest is the input to Certify, mirroring the certify(...)
// operation's parameter list in §4.3.
type CertifyRequest struct {
	SnapshotVersion     *gtid.Set
	WriteSet            []WriteSetItem
	GenerateID          bool
	SpecifiedGTID       gtid.ID // used when GenerateID is false
	OriginatorMemberID  member.ID
	Local               bool
}

// CertifyResult carries the side effects certify() applies to the
// outgoing transaction event on positive certification.
type CertifyResult struct {
	GTID           gtid.ID
	LastCommitted  int64
	SequenceNumber int64
}

// Stats is a point-in-time snapshot of certification counters,
// standing in for the original's performance-schema exposure (out of
// scope; the counters themselves are ambient observability).
type Stats struct {
	PositiveLocal  int64
	PositiveRemote int64
	NegativeLocal  int64
	NegativeRemote int64
	CertInfoSize   int
}

// Certifier is the per-member certification engine. One instance exists
// per CoreContext; all of its exported methods are safe for concurrent
// use.
type Certifier struct {
	groupUUID uuid.UUID // the sid used for every transaction this member generates a GTID for
	stats     *metrics.Sink

	mu sync.RWMutex // guards every field below for the duration of one certify/GC/broadcast-round step

	conflictDetectionEnabled bool
	catchingUp               bool

	groupGTIDExecuted  *gtid.Set
	groupGTIDExtracted *gtid.Set
	stableSet          *gtid.Set

	certInfo map[WriteSetItem]*entry

	sequenceNumber              int64
	parallelApplierLastCommitted int64

	lastConflictFreeGTID gtid.ID
	lastLocalGTID        gtid.ID

	blockSize                   int64
	perMemberBlocks             map[member.ID]*blockReservation
	gtidsAssignedInBlocksCounter int64

	// stable-set broadcast round bookkeeping (§4.3 "Executed-set
	// broadcast round")
	roundContributions map[member.ID]*gtid.Set
	roundViewMembers    map[member.ID]bool

	positiveLocal, positiveRemote int64
	negativeLocal, negativeRemote int64
}

// New constructs a certifier for a freshly initialized or freshly
// rejoining member. blockSize matches gtid_assignment_block_size: 1 (or
// less) selects the sequential allocation policy, >1 selects per-member
// reserved blocks.
func New(groupUUID uuid.UUID, blockSize int64, stats *metrics.Sink) *Certifier {
	if blockSize < 1 {
		blockSize = 1
	}
	return &Certifier{
		groupUUID:                groupUUID,
		stats:                    stats,
		conflictDetectionEnabled: true,
		groupGTIDExecuted:        gtid.NewSet(),
		groupGTIDExtracted:       gtid.NewSet(),
		stableSet:                gtid.NewSet(),
		certInfo:                 make(map[WriteSetItem]*entry),
		sequenceNumber:           1,
		blockSize:                blockSize,
		perMemberBlocks:          make(map[member.ID]*blockReservation),
		roundContributions:       make(map[member.ID]*gtid.Set),
		roundViewMembers:         make(map[member.ID]bool),
	}
}

// EnableConflictDetection / DisableConflictDetection toggle certification
// automatically when the group transitions between multi-primary and
// single-primary mode.
func (c *Certifier) EnableConflictDetection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflictDetectionEnabled = true
}

func (c *Certifier) DisableConflictDetection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflictDetectionEnabled = false
}

// GroupGTIDExecuted returns a clone of the current executed set.
func (c *Certifier) GroupGTIDExecuted() *gtid.Set {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.groupGTIDExecuted.Clone()
}

// Stats returns a snapshot of the certification counters.
func (c *Certifier) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		PositiveLocal:  c.positiveLocal,
		PositiveRemote: c.positiveRemote,
		NegativeLocal:  c.negativeLocal,
		NegativeRemote: c.negativeRemote,
		CertInfoSize:   len(c.certInfo),
	}
}

// Certify runs the full certification algorithm (§4.3 steps 1-8) for
// one ordered transaction and returns the MySQL-compatible GNO
// semantics: >0 on success (the assigned GNO, or 1 if the caller
// supplied its own GTID), 0 on negative certification. A non-nil error
// means exhaustion or an internal fault (§7 CERTIFICATION_EXHAUSTED /
// INTERNAL); the caller must invoke the configured exit-state action.
func (c *Certifier) Certify(req CertifyRequest) (gno int64, result CertifyResult, err error) {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() { c.stats.Since("certifier.certify.duration", start) }()

	snapshot := req.SnapshotVersion
	if snapshot == nil {
		snapshot = gtid.NewSet()
	}

	// Step 1: conflict test.
	if c.conflictDetectionEnabled {
		for _, w := range req.WriteSet {
			if e, ok := c.certInfo[w]; ok && !e.ver.set.IsSubsetOf(snapshot) {
				c.recordNegative(req.Local)
				logger.Debugf("certifier: negative certification on item %x", []byte(w))
				return 0, CertifyResult{}, nil
			}
		}
	}

	// Step 2: catch-up bookkeeping.
	if c.catchingUp && c.groupGTIDExtracted.IsSubsetOf(c.groupGTIDExecuted) && !c.groupGTIDExtracted.Equal(c.groupGTIDExecuted) {
		c.catchingUp = false
	}

	// Step 3/4: GTID assignment.
	var assignedGTID gtid.ID
	if req.GenerateID {
		g, genErr := c.reserveGNO(req.OriginatorMemberID)
		if genErr != nil {
			return -1, CertifyResult{}, genErr
		}
		assignedGTID = g
		snapshot = snapshot.Clone()
		snapshot.Add(assignedGTID)
		gno = assignedGTID.GNO
	} else {
		if c.groupGTIDExecuted.Contains(req.SpecifiedGTID) {
			return 0, CertifyResult{}, nil
		}
		assignedGTID = req.SpecifiedGTID
		snapshot = snapshot.Clone()
		snapshot.Add(assignedGTID)
		gno = 1
	}

	// Step 6 reads p_w — the prior sequence number recorded against each
	// write-set item — which only exists if it is captured before step
	// 5 overwrites the same map entries. Current sequence number for
	// this transaction; p_w == currentSeq means the item was already
	// bumped by this same transaction (multiple items, same txn), which
	// must not count as a dependency on itself.
	currentSeq := c.sequenceNumber
	lastCommitted := c.parallelApplierLastCommitted
	for _, w := range req.WriteSet {
		if prev, ok := c.certInfo[w]; ok {
			if prev.seq > lastCommitted && prev.seq != currentSeq {
				lastCommitted = prev.seq
			}
		}
	}
	if len(req.WriteSet) == 0 {
		lastCommitted = currentSeq - 1
	}

	// Step 5: insert/replace certification info for every write-set
	// item, now that step 6 has read the prior values it needed.
	shared := &version{set: snapshot, refs: len(req.WriteSet)}
	for _, w := range req.WriteSet {
		if old, ok := c.certInfo[w]; ok {
			old.ver.refs--
		}
		c.certInfo[w] = &entry{ver: shared, seq: currentSeq}
	}

	seq := currentSeq
	c.sequenceNumber++
	if len(req.WriteSet) == 0 {
		c.parallelApplierLastCommitted = c.sequenceNumber
	}

	// Step 7: bookkeeping.
	c.groupGTIDExecuted.Add(assignedGTID)
	c.lastConflictFreeGTID = assignedGTID
	if req.Local {
		c.lastLocalGTID = assignedGTID
	}

	// Step 8: counters.
	c.recordPositive(req.Local)

	result = CertifyResult{GTID: assignedGTID, LastCommitted: lastCommitted, SequenceNumber: seq}
	return gno, result, nil
}

// reserveGNO allocates the next GNO per the configured block policy
// (§4.3 "Per-member GNO blocks").
func (c *Certifier) reserveGNO(originator member.ID) (gtid.ID, error) {
	sid := c.groupUUID

	source := c.groupGTIDExecuted
	if c.catchingUp {
		source = c.groupGTIDExtracted
	}

	if c.blockSize <= 1 {
		avail := source.Complement(sid)
		if len(avail) == 0 {
			return gtid.ID{}, ErrGNOExhausted
		}
		return gtid.ID{SID: sid, GNO: avail[0].Start}, nil
	}

	res := c.perMemberBlocks[originator]
	if res == nil || res.next > res.end {
		taken := source.Clone()
		for id, other := range c.perMemberBlocks {
			if id != originator && other.next <= other.end {
				taken.AddInterval(sid, gtid.Interval{Start: other.next, End: other.end})
			}
		}
		avail := taken.Complement(sid)
		if len(avail) == 0 {
			return gtid.ID{}, ErrGNOExhausted
		}
		head := avail[0]
		end := head.Start + c.blockSize - 1
		if end > head.End {
			end = head.End
		}
		res = &blockReservation{next: head.Start, end: end}
		c.perMemberBlocks[originator] = res
	}

	g := res.next
	res.next++
	c.gtidsAssignedInBlocksCounter++
	if c.gtidsAssignedInBlocksCounter%(c.blockSize+1) == 0 {
		c.reclaimStaleBlocks(source)
	}
	return gtid.ID{SID: sid, GNO: g}, nil
}

// reclaimStaleBlocks drops any per-member block whose next GNO is no
// longer free in `source`; that member's next request then draws a
// fresh block.
func (c *Certifier) reclaimStaleBlocks(source *gtid.Set) {
	avail := source.Complement(c.groupUUID)
	for id, res := range c.perMemberBlocks {
		stillFree := false
		for _, iv := range avail {
			if res.next >= iv.Start && res.next <= iv.End {
				stillFree = true
				break
			}
		}
		if !stillFree {
			delete(c.perMemberBlocks, id)
		}
	}
}

func (c *Certifier) recordPositive(local bool) {
	if local {
		c.positiveLocal++
		c.stats.Inc("certifier.certify.positive.local", 1)
	} else {
		c.positiveRemote++
		c.stats.Inc("certifier.certify.positive.remote", 1)
	}
}

func (c *Certifier) recordNegative(local bool) {
	if local {
		c.negativeLocal++
		c.stats.Inc("certifier.certify.negative.local", 1)
	} else {
		c.negativeRemote++
		c.stats.Inc("certifier.certify.negative.remote", 1)
	}
}

// AddSpecifiedGTIDToGroupGTIDExecuted absorbs an event that carries its
// own id (e.g. a view-change marker) without running the conflict test.
func (c *Certifier) AddSpecifiedGTIDToGroupGTIDExecuted(id gtid.ID, local bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groupGTIDExecuted.Add(id)
	c.lastConflictFreeGTID = id
	if local {
		c.lastLocalGTID = id
	}
}

// GenerateViewChangeGroupGNO allocates a GNO for a view-change marker
// using sequential (block-size-1) semantics, deterministic across
// members since every member applies the same deterministic scan over
// the same executed set at the same point in the total order.
func (c *Certifier) GenerateViewChangeGroupGNO(viewChangeSID uuid.UUID) (gtid.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	avail := c.groupGTIDExecuted.Complement(viewChangeSID)
	if len(avail) == 0 {
		return gtid.ID{}, ErrGNOExhausted
	}
	id := gtid.ID{SID: viewChangeSID, GNO: avail[0].Start}
	c.groupGTIDExecuted.Add(id)
	return id, nil
}

