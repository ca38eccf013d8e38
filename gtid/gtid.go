// Package gtid implements the transaction-identifier and interval-set
// machinery described by the certifier's data model: a GTID is a pair
// (sid, gno); a set of GTIDs is kept as a compact, sorted interval list
// per sid so that subset tests, unions, and complements stay cheap even
// across millions of assigned transactions.
package gtid

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// GNO is the monotonic, per-sid integer half of a GTID. Valid GNOs start
// at 1; MaxGNO bounds the space a single sid can ever exhaust.
type GNO = int64

// MaxGNO is the largest GNO the allocator will ever hand out. Reaching it
// means the sid's namespace is exhausted and the group must be restarted
// under a new group name (see certifier.ErrGNOExhausted).
const MaxGNO GNO = (1 << 63) - 1

// ID is a single transaction identifier: a group or originator UUID plus
// a monotonic sequence number.
type ID struct {
	SID uuid.UUID
	GNO GNO
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%d", id.SID, id.GNO)
}

// Interval is a closed range [Start, End], both inclusive, matching the
// certifier's "available GTID intervals" representation.
type Interval struct {
	Start, End GNO
}

func (iv Interval) Len() GNO { return iv.End - iv.Start + 1 }

// Set is a GTID set: for every sid it has seen, a sorted, merged,
// non-overlapping list of closed intervals. The zero value is an empty
// set ready to use. Set is not safe for concurrent use without external
// locking — callers (certifier, coordinator) already hold the relevant
// lock for the whole operation that touches it.
type Set struct {
	bySID map[uuid.UUID][]Interval
}

// NewSet returns an empty GTID set.
func NewSet() *Set {
	return &Set{bySID: make(map[uuid.UUID][]Interval)}
}

// Clone deep-copies the set.
func (s *Set) Clone() *Set {
	out := NewSet()
	for sid, ivs := range s.bySID {
		cp := make([]Interval, len(ivs))
		copy(cp, ivs)
		out.bySID[sid] = cp
	}
	return out
}

// Add inserts a single GTID into the set, merging it into the sid's
// interval list.
func (s *Set) Add(id ID) {
	s.AddInterval(id.SID, Interval{Start: id.GNO, End: id.GNO})
}

// AddInterval merges iv into sid's interval list, coalescing adjacent or
// overlapping runs.
func (s *Set) AddInterval(sid uuid.UUID, iv Interval) {
	if s.bySID == nil {
		s.bySID = make(map[uuid.UUID][]Interval)
	}
	ivs := append(s.bySID[sid], iv)
	s.bySID[sid] = normalize(ivs)
}

// Contains reports whether id is a member of the set.
func (s *Set) Contains(id ID) bool {
	for _, iv := range s.bySID[id.SID] {
		if id.GNO >= iv.Start && id.GNO <= iv.End {
			return true
		}
	}
	return false
}

// IsSubsetOf reports whether every GTID in s is also in other. Equal
// sets are subsets of each other — this is the tie-break the certifier
// relies on so a transaction never conflicts with itself re-observed.
func (s *Set) IsSubsetOf(other *Set) bool {
	if s == nil || len(s.bySID) == 0 {
		return true
	}
	for sid, ivs := range s.bySID {
		otherIvs := other.bySID[sid]
		for _, iv := range ivs {
			if !coveredBy(iv, otherIvs) {
				return false
			}
		}
	}
	return true
}

// Equal reports whether s and other contain exactly the same GTIDs.
func (s *Set) Equal(other *Set) bool {
	return s.IsSubsetOf(other) && other.IsSubsetOf(s)
}

// IsEmpty reports whether the set contains no GTIDs.
func (s *Set) IsEmpty() bool {
	for _, ivs := range s.bySID {
		if len(ivs) > 0 {
			return false
		}
	}
	return true
}

// Union returns a new set containing every GTID in s or other.
func (s *Set) Union(other *Set) *Set {
	out := s.Clone()
	for sid, ivs := range other.bySID {
		for _, iv := range ivs {
			out.AddInterval(sid, iv)
		}
	}
	return out
}

// Intersect returns a new set containing only GTIDs present in both s
// and other, used to compute the stable set from per-member broadcasts.
func (s *Set) Intersect(other *Set) *Set {
	out := NewSet()
	for sid, ivs := range s.bySID {
		otherIvs := other.bySID[sid]
		for _, iv := range ivs {
			for _, piece := range intersectInterval(iv, otherIvs) {
				out.AddInterval(sid, piece)
			}
		}
	}
	return out
}

// Complement returns the ordered list of closed intervals in
// [1, MaxGNO] for sid that are NOT present in the set — the "available
// GTID intervals" the certifier draws new GNOs from.
func (s *Set) Complement(sid uuid.UUID) []Interval {
	ivs := s.bySID[sid]
	var out []Interval
	cursor := GNO(1)
	for _, iv := range ivs {
		if iv.Start > cursor {
			out = append(out, Interval{Start: cursor, End: iv.Start - 1})
		}
		if iv.End >= MaxGNO {
			return out
		}
		if iv.End+1 > cursor {
			cursor = iv.End + 1
		}
	}
	if cursor <= MaxGNO {
		out = append(out, Interval{Start: cursor, End: MaxGNO})
	}
	return out
}

// Sids returns the set of sids with at least one interval, for iteration
// during GC sweeps and broadcasts.
func (s *Set) Sids() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s.bySID))
	for sid := range s.bySID {
		out = append(out, sid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Intervals returns a copy of sid's interval list.
func (s *Set) Intervals(sid uuid.UUID) []Interval {
	ivs := s.bySID[sid]
	cp := make([]Interval, len(ivs))
	copy(cp, ivs)
	return cp
}

func normalize(ivs []Interval) []Interval {
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].Start < ivs[j].Start })
	out := ivs[:0:0]
	for _, iv := range ivs {
		if len(out) > 0 && iv.Start <= out[len(out)-1].End+1 {
			last := &out[len(out)-1]
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

func coveredBy(iv Interval, ivs []Interval) bool {
	for _, other := range ivs {
		if iv.Start >= other.Start && iv.End <= other.End {
			return true
		}
	}
	// iv may span multiple adjacent entries in ivs since they're merged
	// on insert; because AddInterval always coalesces adjacency, a
	// properly normalized ivs slice only needs the single-entry check
	// above. Fall through to false for a genuine gap.
	return false
}

func intersectInterval(iv Interval, ivs []Interval) []Interval {
	var out []Interval
	for _, other := range ivs {
		start := iv.Start
		if other.Start > start {
			start = other.Start
		}
		end := iv.End
		if other.End < end {
			end = other.End
		}
		if start <= end {
			out = append(out, Interval{Start: start, End: end})
		}
	}
	return out
}
