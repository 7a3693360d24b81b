package reconcile

import (
	"path/filepath"
	"testing"
)

func TestMissStore_RecordClearRoundTrip(t *testing.T) {
	s := NewMissStore(filepath.Join(t.TempDir(), "misses.json"))

	n, err := s.Record("fr-1", "sess-1")
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected count 1, got %d", n)
	}

	n, err = s.Record("fr-1", "sess-1")
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected count 2, got %d", n)
	}

	if err := s.Clear("fr-1"); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}

	n, err = s.Record("fr-1", "sess-1")
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected count to restart at 1 after clear, got %d", n)
	}
}

func TestMissStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "misses.json")

	s := NewMissStore(path)
	if _, err := s.Record("fr-1", "sess-1"); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	reopened := NewMissStore(path)
	n, err := reopened.Record("fr-1", "sess-1")
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if n != 2 {
		t.Fatalf("counter did not survive reopen: %d", n)
	}
}

func TestMissStore_Prune(t *testing.T) {
	s := NewMissStore(filepath.Join(t.TempDir(), "misses.json"))
	if _, err := s.Record("fr-1", "sess-1"); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if _, err := s.Record("fr-2", "sess-2"); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	if err := s.Prune(map[string]bool{"fr-2": true}); err != nil {
		t.Fatalf("Prune() error: %v", err)
	}

	entries, err := s.Entries()
	if err != nil {
		t.Fatalf("Entries() error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("unexpected entry count: %d", len(entries))
	}
	if _, ok := entries["fr-2"]; !ok {
		t.Fatal("kept entry missing after prune")
	}
}

func TestMissStore_ClearMissingIsNoop(t *testing.T) {
	s := NewMissStore(filepath.Join(t.TempDir(), "misses.json"))
	if err := s.Clear("never-seen"); err != nil {
		t.Fatalf("Clear() on absent id: %v", err)
	}
}
