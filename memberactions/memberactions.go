// Package memberactions implements the persistent member-actions
// configuration (§6): a serialized record enumerating
// {action_name, event, enabled}, the only state the core owns outside
// the binlog. It is exchanged between members on join and can be
// force-overridden by any one member's replace_all broadcast.
//
// Grounded on the teacher's pluggable store contract (src/store):
// Store here plays the same role — a small keyed map the rest of the
// core reads through an explicit interface rather than touching a
// package-level global.
package memberactions

import (
	"fmt"
	"sync"

	logging "github.com/op/go-logging"
)

var logger = logging.MustGetLogger("memberactions")

// Event is the trigger a member action fires on. AFTER_PRIMARY_ELECTION
// is the only event the original design names; the type is kept open
// for forward compatibility with future event kinds arriving over the
// wire.
type Event string

const (
	EventAfterPrimaryElection Event = "AFTER_PRIMARY_ELECTION"
)

// Action is one persisted member-action record.
type Action struct {
	Name    string
	Event   Event
	Enabled bool
}

// Store holds the current set of member actions, keyed by name. The
// zero value is not ready to use; call New.
type Store struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// New returns an empty store.
func New() *Store {
	return &Store{actions: make(map[string]Action)}
}

// ReplaceAll atomically swaps the entire action set, the effect of a
// replace_all_actions call from any one member. Subsequent joiners
// receive this set wholesale rather than merging.
func (s *Store) ReplaceAll(actions []Action) {
	next := make(map[string]Action, len(actions))
	for _, a := range actions {
		next[a.Name] = a
	}
	s.mu.Lock()
	s.actions = next
	s.mu.Unlock()
	logger.Infof("memberactions: replaced action set with %d entries", len(next))
}

// Get returns the named action and whether it is currently registered.
func (s *Store) Get(name string) (Action, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actions[name]
	return a, ok
}

// IsEnabled reports whether the named action is both registered and
// enabled; an unregistered action is never enabled.
func (s *Store) IsEnabled(name string) bool {
	a, ok := s.Get(name)
	return ok && a.Enabled
}

// SetEnabled toggles a single action's enabled flag, leaving the rest
// of the set untouched. Returns an error if the action is not
// registered, since enabling an unknown action would silently do
// nothing on every other member.
func (s *Store) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[name]
	if !ok {
		return fmt.Errorf("memberactions: unknown action %q", name)
	}
	a.Enabled = enabled
	s.actions[name] = a
	return nil
}

// ForEvent returns every enabled action registered for the given event,
// in an unspecified order; callers that care about order should sort by
// Name.
func (s *Store) ForEvent(event Event) []Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Action
	for _, a := range s.actions {
		if a.Event == event && a.Enabled {
			out = append(out, a)
		}
	}
	return out
}

// Snapshot returns every registered action, for exchange on join.
func (s *Store) Snapshot() []Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Action, 0, len(s.actions))
	for _, a := range s.actions {
		out = append(out, a)
	}
	return out
}
