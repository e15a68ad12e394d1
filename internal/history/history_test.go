package history

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAddAndRecent(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	attempts := []*Attempt{
		{
			Platform:  "bybit",
			Addresses: []string{"0xaaa"},
			Outcome:   OutcomeConfirmed,
			StartedAt: base,
			EndedAt:   base.Add(time.Minute),
		},
		{
			Platform:  "okx",
			Addresses: []string{"0xbbb", "0xccc"},
			Outcome:   OutcomeFailed,
			Reason:    "no_code",
			StartedAt: base.Add(2 * time.Minute),
			EndedAt:   base.Add(3 * time.Minute),
		},
	}

	for _, a := range attempts {
		if err := store.Add(a); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if a.ID == 0 {
			t.Error("Add did not set ID")
		}
	}

	recent, err := store.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d attempts, want 2", len(recent))
	}

	// Newest first
	if recent[0].Platform != "okx" {
		t.Errorf("first recent = %s, want okx", recent[0].Platform)
	}
	if !reflect.DeepEqual(recent[0].Addresses, []string{"0xbbb", "0xccc"}) {
		t.Errorf("addresses = %v, want [0xbbb 0xccc]", recent[0].Addresses)
	}
	if recent[0].Reason != "no_code" {
		t.Errorf("reason = %q, want no_code", recent[0].Reason)
	}
}

func TestStats(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	for i, outcome := range []Outcome{OutcomeConfirmed, OutcomeConfirmed, OutcomeFailed} {
		a := &Attempt{
			Platform:  "bybit",
			Addresses: []string{"0xaaa"},
			Outcome:   outcome,
			StartedAt: now.Add(time.Duration(i) * time.Minute),
			EndedAt:   now.Add(time.Duration(i+1) * time.Minute),
		}
		if err := store.Add(a); err != nil {
			t.Fatal(err)
		}
	}

	total, confirmed, failed, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if total != 3 || confirmed != 2 || failed != 1 {
		t.Errorf("got (%d, %d, %d), want (3, 2, 1)", total, confirmed, failed)
	}
}
