// Package metrics wraps github.com/cactus/go-statsd-client/statsd in the
// same shape the teacher's consensus manager carries a stats field
// (src/consensus/testing_mocks.go: stats statsd.Statter). The certifier,
// coordinator, and GCS adapter each hold a *metrics.Sink so that
// positive/negative certification counts, GC sweep counts, and
// prepare-round timings are observable without performance-schema
// tables (those are an explicit Non-goal).
package metrics

import (
	"time"

	"github.com/cactus/go-statsd-client/statsd"
)

// Sink is the statsd handle shared by the core's subsystems. A nil
// *Sink is valid and simply drops every metric, so tests and the
// simulation driver can opt out of a real statsd client.
type Sink struct {
	statter statsd.Statter
	prefix  string
}

// New wraps an existing statsd.Statter. Passing a nil statter is
// allowed and yields a no-op sink.
func New(statter statsd.Statter, prefix string) *Sink {
	return &Sink{statter: statter, prefix: prefix}
}

// noopStatter implements statsd.Statter by discarding everything,
// grounded on the teacher's mockStatter
// (src/consensus/testing_mocks.go) but without the bookkeeping maps —
// this sink never needs to be inspected, only to satisfy the interface.
type noopStatter struct{}

func (noopStatter) Inc(string, int64, float32) error       { return nil }
func (noopStatter) Dec(string, int64, float32) error       { return nil }
func (noopStatter) Gauge(string, int64, float32) error     { return nil }
func (noopStatter) GaugeDelta(string, int64, float32) error { return nil }
func (noopStatter) Timing(string, int64, float32) error    { return nil }
func (noopStatter) TimingDuration(string, time.Duration, float32) error { return nil }
func (noopStatter) Set(string, string, float32) error      { return nil }
func (noopStatter) SetInt(string, int64, float32) error    { return nil }
func (noopStatter) Raw(string, string, float32) error      { return nil }
func (noopStatter) NewSubStatter(string) statsd.SubStatter  { return nil }
func (noopStatter) SetPrefix(string)                       {}
func (noopStatter) Close() error                           { return nil }

// NoOp builds a sink that discards every metric, for callers that want
// the Sink API without configuring a real statsd endpoint.
func NoOp() *Sink {
	return New(noopStatter{}, "")
}

func (s *Sink) name(stat string) string {
	if s == nil || s.prefix == "" {
		return stat
	}
	return s.prefix + "." + stat
}

// Inc increments a counter by delta at sample rate 1.0.
func (s *Sink) Inc(stat string, delta int64) {
	if s == nil || s.statter == nil {
		return
	}
	_ = s.statter.Inc(s.name(stat), delta, 1.0)
}

// Gauge sets a gauge's absolute value.
func (s *Sink) Gauge(stat string, value int64) {
	if s == nil || s.statter == nil {
		return
	}
	_ = s.statter.Gauge(s.name(stat), value, 1.0)
}

// Timing records a duration in milliseconds.
func (s *Sink) Timing(stat string, d time.Duration) {
	if s == nil || s.statter == nil {
		return
	}
	_ = s.statter.Timing(s.name(stat), int64(d/time.Millisecond), 1.0)
}

// Since is a convenience for Timing(stat, time.Since(start)).
func (s *Sink) Since(stat string, start time.Time) {
	s.Timing(stat, time.Since(start))
}
