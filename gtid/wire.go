package gtid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/google/uuid"
)

// EncodeWire renders the set using the MySQL GTID-set text grammar
// ("sid:1-5:7,sid2:10"), the wire form carried by PIT_GTID_EXECUTED
// payloads (§6 of the design).
func (s *Set) EncodeWire() string {
	sids := s.Sids()
	parts := make([]string, 0, len(sids))
	for _, sid := range sids {
		ivs := s.Intervals(sid)
		if len(ivs) == 0 {
			continue
		}
		segs := make([]string, 0, len(ivs))
		for _, iv := range ivs {
			if iv.Start == iv.End {
				segs = append(segs, strconv.FormatInt(iv.Start, 10))
			} else {
				segs = append(segs, fmt.Sprintf("%d-%d", iv.Start, iv.End))
			}
		}
		parts = append(parts, fmt.Sprintf("%s:%s", sid, strings.Join(segs, ":")))
	}
	return strings.Join(parts, ",")
}

// ParseWire decodes a MySQL GTID-set string into a Set. It first hands
// the string to the real MySQL GTID-set parser so that malformed input
// is rejected exactly the way a MySQL server would reject it on a
// CHANGE REPLICATION SOURCE / SET GTID_PURGED statement, then builds our
// own interval representation from the same grammar.
func ParseWire(encoded string) (*Set, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return NewSet(), nil
	}
	if _, err := mysql.ParseMysqlGTIDSet(encoded); err != nil {
		return nil, fmt.Errorf("gtid: invalid gtid set %q: %w", encoded, err)
	}

	out := NewSet()
	for _, sidPart := range strings.Split(encoded, ",") {
		sidPart = strings.TrimSpace(sidPart)
		if sidPart == "" {
			continue
		}
		fields := strings.Split(sidPart, ":")
		if len(fields) < 2 {
			return nil, fmt.Errorf("gtid: malformed uuid-set %q", sidPart)
		}
		sid, err := uuid.Parse(fields[0])
		if err != nil {
			return nil, fmt.Errorf("gtid: malformed sid %q: %w", fields[0], err)
		}
		for _, rng := range fields[1:] {
			iv, err := parseRange(rng)
			if err != nil {
				return nil, fmt.Errorf("gtid: malformed range %q: %w", rng, err)
			}
			out.AddInterval(sid, iv)
		}
	}
	return out, nil
}

func parseRange(rng string) (Interval, error) {
	if dash := strings.IndexByte(rng, '-'); dash >= 0 {
		start, err := strconv.ParseInt(rng[:dash], 10, 64)
		if err != nil {
			return Interval{}, err
		}
		end, err := strconv.ParseInt(rng[dash+1:], 10, 64)
		if err != nil {
			return Interval{}, err
		}
		return Interval{Start: start, End: end}, nil
	}
	n, err := strconv.ParseInt(rng, 10, 64)
	if err != nil {
		return Interval{}, err
	}
	return Interval{Start: n, End: n}, nil
}
