package gtid

import (
	"testing"

	"github.com/google/uuid"
)

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	if err != nil {
		t.Fatalf("uuid.Parse(%q): %v", s, err)
	}
	return id
}

func TestAddAndMerge(t *testing.T) {
	sid := mustUUID(t, "3E11FA47-71CA-11E1-9E33-C80AA9429562")
	s := NewSet()
	s.AddInterval(sid, Interval{Start: 1, End: 3})
	s.AddInterval(sid, Interval{Start: 4, End: 4})
	s.AddInterval(sid, Interval{Start: 6, End: 7})

	ivs := s.Intervals(sid)
	if len(ivs) != 2 {
		t.Fatalf("expected 2 merged intervals, got %v", ivs)
	}
	if ivs[0] != (Interval{Start: 1, End: 4}) {
		t.Errorf("expected [1,4], got %v", ivs[0])
	}
	if ivs[1] != (Interval{Start: 6, End: 7}) {
		t.Errorf("expected [6,7], got %v", ivs[1])
	}
}

func TestSubsetTieBreak(t *testing.T) {
	sid := mustUUID(t, "3E11FA47-71CA-11E1-9E33-C80AA9429562")
	s := NewSet()
	s.AddInterval(sid, Interval{Start: 1, End: 5})
	other := s.Clone()
	if !s.IsSubsetOf(other) {
		t.Fatal("equal sets must be mutual subsets")
	}
	other.AddInterval(sid, Interval{Start: 6, End: 6})
	if !s.IsSubsetOf(other) {
		t.Fatal("s should remain a subset of a superset")
	}
	if other.IsSubsetOf(s) {
		t.Fatal("superset must not be a subset of the smaller set")
	}
}

func TestComplement(t *testing.T) {
	sid := mustUUID(t, "3E11FA47-71CA-11E1-9E33-C80AA9429562")
	s := NewSet()
	s.AddInterval(sid, Interval{Start: 1, End: 5})
	s.AddInterval(sid, Interval{Start: 10, End: 10})

	comp := s.Complement(sid)
	if len(comp) != 2 {
		t.Fatalf("expected 2 gaps, got %v", comp)
	}
	if comp[0] != (Interval{Start: 6, End: 9}) {
		t.Errorf("expected first gap [6,9], got %v", comp[0])
	}
	if comp[1].Start != 11 || comp[1].End != MaxGNO {
		t.Errorf("expected tail gap starting at 11, got %v", comp[1])
	}
}

func TestIntersect(t *testing.T) {
	sidA := mustUUID(t, "3E11FA47-71CA-11E1-9E33-C80AA9429562")
	a := NewSet()
	a.AddInterval(sidA, Interval{Start: 1, End: 10})
	b := NewSet()
	b.AddInterval(sidA, Interval{Start: 5, End: 15})

	got := a.Intersect(b)
	ivs := got.Intervals(sidA)
	if len(ivs) != 1 || ivs[0] != (Interval{Start: 5, End: 10}) {
		t.Fatalf("expected [5,10], got %v", ivs)
	}
}

func TestWireRoundTrip(t *testing.T) {
	sid := mustUUID(t, "3e11fa47-71ca-11e1-9e33-c80aa9429562")
	s := NewSet()
	s.AddInterval(sid, Interval{Start: 1, End: 5})
	s.Add(ID{SID: sid, GNO: 7})

	encoded := s.EncodeWire()
	decoded, err := ParseWire(encoded)
	if err != nil {
		t.Fatalf("ParseWire(%q): %v", encoded, err)
	}
	if !s.Equal(decoded) {
		t.Fatalf("round trip mismatch: %s -> %v", encoded, decoded.Intervals(sid))
	}
}

func TestParseWireRejectsGarbage(t *testing.T) {
	if _, err := ParseWire("not-a-gtid-set"); err == nil {
		t.Fatal("expected an error for malformed gtid set text")
	}
}

func TestContains(t *testing.T) {
	sid := mustUUID(t, "3E11FA47-71CA-11E1-9E33-C80AA9429562")
	s := NewSet()
	s.AddInterval(sid, Interval{Start: 1, End: 5})
	if !s.Contains(ID{SID: sid, GNO: 3}) {
		t.Error("expected 3 to be contained in [1,5]")
	}
	if s.Contains(ID{SID: sid, GNO: 6}) {
		t.Error("6 should not be contained in [1,5]")
	}
}
