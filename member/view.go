package member

// ErrorCode classifies why a view was installed, per the data model's
// {OK, MEMBER_EXPELLED} error code on each delivered view.
type ErrorCode string

const (
	ViewOK             ErrorCode = "OK"
	ViewMemberExpelled ErrorCode = "MEMBER_EXPELLED"
)

// ViewID is a monotonically increasing view identifier, shared by every
// surviving member. The concrete group-communication engine assigns it;
// the core only needs total ordering and equality.
type ViewID struct {
	GroupName string
	Counter   uint64
}

// Less reports whether v precedes other by comparing Counter alone;
// GroupName is not checked.
func (v ViewID) Less(other ViewID) bool {
	return v.Counter < other.Counter
}

// View is a single membership snapshot: the full current membership
// plus the joined/left deltas from the immediately preceding view. Views
// are delivered exactly once, in a total order shared by all surviving
// members.
type View struct {
	ID      ViewID
	Members []Snapshot
	Joined  []ID
	Left    []ID
	Error   ErrorCode
}

// ByID returns the member with the given id, if present in this view.
func (v View) ByID(id ID) (Snapshot, bool) {
	for _, m := range v.Members {
		if m.GCSID == id {
			return m, true
		}
	}
	return Snapshot{}, false
}

// OnlineMembers returns the ids of every member whose status is ONLINE,
// the set the certifier/coordinator treat as "must acknowledge".
func (v View) OnlineMembers() []ID {
	var out []ID
	for _, m := range v.Members {
		if m.Status == StatusOnline {
			out = append(out, m.GCSID)
		}
	}
	return out
}

// Contains reports whether id is a member of this view.
func (v View) Contains(id ID) bool {
	_, ok := v.ByID(id)
	return ok
}
