package memberactions

import "testing"

func TestStore_ReplaceAllAndGet(t *testing.T) {
	s := New()
	s.ReplaceAll([]Action{
		{Name: "grow_shrink_ip_allowlist", Event: EventAfterPrimaryElection, Enabled: true},
		{Name: "set_read_only", Event: EventAfterPrimaryElection, Enabled: false},
	})

	a, ok := s.Get("grow_shrink_ip_allowlist")
	if !ok || !a.Enabled {
		t.Fatalf("Get = %+v, ok=%v, want enabled action", a, ok)
	}
	if s.IsEnabled("set_read_only") {
		t.Fatal("set_read_only should not be enabled")
	}
	if s.IsEnabled("unknown") {
		t.Fatal("unknown action should never be enabled")
	}
}

func TestStore_SetEnabledUnknownErrors(t *testing.T) {
	s := New()
	if err := s.SetEnabled("nope", true); err == nil {
		t.Fatal("expected error toggling unknown action")
	}
}

func TestStore_ForEvent(t *testing.T) {
	s := New()
	s.ReplaceAll([]Action{
		{Name: "a", Event: EventAfterPrimaryElection, Enabled: true},
		{Name: "b", Event: EventAfterPrimaryElection, Enabled: false},
		{Name: "c", Event: Event("OTHER"), Enabled: true},
	})

	got := s.ForEvent(EventAfterPrimaryElection)
	if len(got) != 1 || got[0].Name != "a" {
		t.Fatalf("ForEvent = %+v, want only action a", got)
	}
}

func TestStore_ReplaceAllDiscardsPrevious(t *testing.T) {
	s := New()
	s.ReplaceAll([]Action{{Name: "old", Event: EventAfterPrimaryElection, Enabled: true}})
	s.ReplaceAll([]Action{{Name: "new", Event: EventAfterPrimaryElection, Enabled: true}})

	if _, ok := s.Get("old"); ok {
		t.Fatal("old action should be gone after ReplaceAll")
	}
	if _, ok := s.Get("new"); !ok {
		t.Fatal("new action missing after ReplaceAll")
	}
}

func TestEncodeDecodeBlobRoundTrip(t *testing.T) {
	actions := []Action{
		{Name: "grow_shrink_ip_allowlist", Event: EventAfterPrimaryElection, Enabled: true},
		{Name: "set_read_only", Event: EventAfterPrimaryElection, Enabled: false},
	}
	blob := EncodeBlob(actions)
	got, err := DecodeBlob(blob)
	if err != nil {
		t.Fatalf("DecodeBlob: %v", err)
	}
	if len(got) != len(actions) {
		t.Fatalf("got %d actions, want %d", len(got), len(actions))
	}
	for i, a := range actions {
		if got[i] != a {
			t.Fatalf("action %d = %+v, want %+v", i, got[i], a)
		}
	}
}

func TestDecodeBlobRejectsTruncated(t *testing.T) {
	if _, err := DecodeBlob([]byte{1, 2}); err == nil {
		t.Fatal("expected error decoding truncated blob")
	}
}
