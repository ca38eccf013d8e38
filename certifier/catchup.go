package certifier

import (
	"fmt"

	"github.com/bolinfest/grouprepl/gtid"
)

// CertEntrySnapshot is one write-set item's certification-info entry in
// wire-transferable form.
type CertEntrySnapshot struct {
	WriteSetItem  WriteSetItem
	SnapshotVersion string // gtid.Set.EncodeWire()
	Sequence        int64
}

// CertificationInfoSnapshot is the full serializable state transfer
// payload a joiner imports from a donor (§4.3 get/set_certification_info).
type CertificationInfoSnapshot struct {
	Entries            []CertEntrySnapshot
	GroupGTIDExecuted  string // gtid.Set.EncodeWire()
	SequenceNumber     int64
	LastCommittedGlobal int64
}

// GetCertificationInfo serializes the certifier's certification info
// for transfer to a joining member.
func (c *Certifier) GetCertificationInfo() CertificationInfoSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// One entry per write-set item, each carrying its own copy of the
	// snapshot-version text; items that share a *version object in
	// memory are not grouped.
	out := CertificationInfoSnapshot{
		GroupGTIDExecuted:   c.groupGTIDExecuted.EncodeWire(),
		SequenceNumber:      c.sequenceNumber,
		LastCommittedGlobal: c.parallelApplierLastCommitted,
	}
	for w, e := range c.certInfo {
		out.Entries = append(out.Entries, CertEntrySnapshot{
			WriteSetItem:    w,
			SnapshotVersion: e.ver.set.EncodeWire(),
			Sequence:        e.seq,
		})
	}
	return out
}

// SetCertificationInfo replaces the certifier's state with a donor's
// snapshot. The donor's executed set becomes this member's
// group_gtid_extracted (not group_gtid_executed): until the applier
// catches up to it, GNO allocation must draw from the complement of
// extracted, not executed, so it never regenerates an id the donor
// already assigned (§4.3 "Catch-up semantics").
func (c *Certifier) SetCertificationInfo(snap CertificationInfoSnapshot) error {
	extracted, err := gtid.ParseWire(snap.GroupGTIDExecuted)
	if err != nil {
		return fmt.Errorf("certifier: importing donor gtid_executed: %w", err)
	}

	versions := make(map[string]*version, len(snap.Entries))
	certInfo := make(map[WriteSetItem]*entry, len(snap.Entries))
	for _, e := range snap.Entries {
		v, ok := versions[e.SnapshotVersion]
		if !ok {
			set, err := gtid.ParseWire(e.SnapshotVersion)
			if err != nil {
				return fmt.Errorf("certifier: importing entry for %x: %w", []byte(e.WriteSetItem), err)
			}
			v = &version{set: set}
			versions[e.SnapshotVersion] = v
		}
		v.refs++
		certInfo[e.WriteSetItem] = &entry{ver: v, seq: e.Sequence}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.groupGTIDExtracted = extracted
	c.catchingUp = !extracted.IsEmpty()
	c.certInfo = certInfo
	c.sequenceNumber = snap.SequenceNumber
	c.parallelApplierLastCommitted = snap.LastCommittedGlobal
	return nil
}

// IsCatchingUp reports whether the member is still certifying
// already-applied transactions against the donor's extracted snapshot.
func (c *Certifier) IsCatchingUp() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.catchingUp
}
