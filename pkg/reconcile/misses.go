package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// MissEntry tracks consecutive passes in which a job record's session was
// missing from the confirmed-running set.
type MissEntry struct {
	JobID     string    `json:"job_id"`
	SessionID string    `json:"session_id"`
	Count     int       `json:"count"`
	LastMiss  time.Time `json:"last_miss"`
}

// MissStore persists per-record miss counters across passes in a single JSON
// file so a miss threshold greater than one survives process restarts.
//
// Writes go through a temp file and rename so a crashed pass never leaves a
// truncated state file behind.
type MissStore struct {
	mu   sync.Mutex
	path string
}

// NewMissStore creates a store backed by the given file path. The file is
// created on first write.
func NewMissStore(path string) *MissStore {
	return &MissStore{path: strings.TrimSpace(path)}
}

// Record increments the miss counter for jobID and returns the new count.
func (s *MissStore) Record(jobID, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return 0, err
	}

	e := entries[jobID]
	e.JobID = jobID
	e.SessionID = sessionID
	e.Count++
	e.LastMiss = time.Now().UTC()
	entries[jobID] = e

	if err := s.save(entries); err != nil {
		return 0, err
	}
	return e.Count, nil
}

// Clear removes the counter for jobID, if any.
func (s *MissStore) Clear(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := entries[jobID]; !ok {
		return nil
	}
	delete(entries, jobID)
	return s.save(entries)
}

// Prune drops counters for job ids not present in keep. Records that left the
// RUNNING set (completed, failed, or escalated) must not carry stale misses
// into a future execution that reuses the id space.
func (s *MissStore) Prune(keep map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	changed := false
	for id := range entries {
		if !keep[id] {
			delete(entries, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.save(entries)
}

// Entries returns a copy of all tracked counters.
func (s *MissStore) Entries() (map[string]MissEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *MissStore) load() (map[string]MissEntry, error) {
	if s.path == "" {
		return nil, fmt.Errorf("miss store path is empty")
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]MissEntry{}, nil
		}
		return nil, fmt.Errorf("read miss store: %w", err)
	}
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return map[string]MissEntry{}, nil
	}

	var entries map[string]MissEntry
	if err := json.Unmarshal([]byte(trimmed), &entries); err != nil {
		return nil, fmt.Errorf("parse miss store: %w", err)
	}
	return entries, nil
}

func (s *MissStore) save(entries map[string]MissEntry) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create miss store dir: %w", err)
	}

	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal miss store: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, "misses.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp miss store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp miss store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename miss store: %w", err)
	}
	return nil
}
