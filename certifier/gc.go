package certifier

import (
	"github.com/bolinfest/grouprepl/gtid"
	"github.com/bolinfest/grouprepl/member"
)

// SetGroupStableTransactionsSet updates the stable set (the intersection
// of every live member's group_gtid_executed) and sweeps every
// certification-info entry whose recorded snapshot version is now
// wholly contained in it. A full parallel-applier barrier is forced
// afterwards, because losing certification history can otherwise
// under-report a future transaction's dependencies (§4.3 "Stable-set
// garbage collection").
func (c *Certifier) SetGroupStableTransactionsSet(executed *gtid.Set) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stableSet = executed.Clone()
	c.sweepLocked()
}

func (c *Certifier) sweepLocked() {
	removed := 0
	for w, e := range c.certInfo {
		if e.ver.set.IsSubsetOf(c.stableSet) {
			e.ver.refs--
			delete(c.certInfo, w)
			removed++
		}
	}
	if removed > 0 {
		c.stats.Inc("certifier.gc.entries_removed", int64(removed))
	}
	c.stats.Gauge("certifier.gc.cert_info_size", int64(len(c.certInfo)))

	// Force a full barrier: the next transaction must not assume any
	// dependency information lost in this sweep.
	c.parallelApplierLastCommitted = c.sequenceNumber
	c.sequenceNumber++
}

// HandleCertifierData absorbs one member's executed-set broadcast for
// the current stable-set round. When every member of the current view
// has contributed, it intersects every contribution and feeds the
// result into SetGroupStableTransactionsSet. Duplicate contributions
// from the same member in the same round are discarded.
func (c *Certifier) HandleCertifierData(senderID member.ID, executed *gtid.Set, viewMembers []member.ID) {
	c.mu.Lock()

	if len(c.roundViewMembers) == 0 || !sameMembership(c.roundViewMembers, viewMembers) {
		// (Re)start the round against the current view's membership.
		c.roundContributions = make(map[member.ID]*gtid.Set)
		c.roundViewMembers = make(map[member.ID]bool, len(viewMembers))
		for _, id := range viewMembers {
			c.roundViewMembers[id] = true
		}
	}

	if !c.roundViewMembers[senderID] {
		c.mu.Unlock()
		return
	}
	if _, dup := c.roundContributions[senderID]; dup {
		c.mu.Unlock()
		return
	}
	c.roundContributions[senderID] = executed.Clone()

	if len(c.roundContributions) != len(c.roundViewMembers) {
		c.mu.Unlock()
		return
	}

	// Every expected member has contributed: intersect and reset the
	// round before running GC, so a GC-triggered callback never
	// re-enters this method while the round bookkeeping is still in
	// a "full" state.
	var stable *gtid.Set
	for _, s := range c.roundContributions {
		if stable == nil {
			stable = s.Clone()
			continue
		}
		stable = stable.Intersect(s)
	}
	c.roundContributions = make(map[member.ID]*gtid.Set)
	c.mu.Unlock()

	if stable != nil {
		c.SetGroupStableTransactionsSet(stable)
	}
}

// HandleViewChange drops any partial stable-set round and per-member
// block reservations held by members no longer present in the new
// view. Delivering the same view twice is idempotent: recomputing the
// same membership produces the same dropped state both times.
func (c *Certifier) HandleViewChange(view member.View) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.roundContributions = make(map[member.ID]*gtid.Set)
	c.roundViewMembers = make(map[member.ID]bool)
	for _, id := range view.OnlineMembers() {
		c.roundViewMembers[id] = true
	}

	for id := range c.perMemberBlocks {
		if !view.Contains(id) {
			delete(c.perMemberBlocks, id)
		}
	}
}

func sameMembership(have map[member.ID]bool, want []member.ID) bool {
	if len(have) != len(want) {
		return false
	}
	for _, id := range want {
		if !have[id] {
			return false
		}
	}
	return true
}
