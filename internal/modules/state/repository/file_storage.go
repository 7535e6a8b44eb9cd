package repository

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/samber/oops"
)

// stateDocument is the on-disk schema. The whole document is rewritten on
// every mutation.
type stateDocument struct {
	SeenIDs     []string          `json:"seen_ids"`
	Timestamps  map[string]string `json:"timestamps"`
	LastUpdated string            `json:"last_updated"`
}

// FileStorage implements Repository over a single JSON document. The seen
// set and the timestamp map are kept consistent: IDs are inserted and
// removed together. Entries older than the retention window are pruned on
// load. Single-writer; concurrent external modification of the file is
// undefined behavior.
type FileStorage struct {
	path      string
	retention time.Duration
	now       func() time.Time

	mu         sync.RWMutex
	seen       map[string]struct{}
	timestamps map[string]time.Time
}

// NewFileStorage opens (or initializes) the state file at path. A missing
// or corrupt file is treated as empty state.
func NewFileStorage(path string, retention time.Duration) (*FileStorage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, oops.With("state_file", path).Wrap(err)
		}
	}

	s := &FileStorage{
		path:       path,
		retention:  retention,
		now:        time.Now,
		seen:       make(map[string]struct{}),
		timestamps: make(map[string]time.Time),
	}
	s.load()
	return s, nil
}

func (s *FileStorage) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Could not load state file", "path", s.path, "error", err)
		}
		return
	}

	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("Could not parse state file, starting empty", "path", s.path, "error", err)
		return
	}

	for _, id := range doc.SeenIDs {
		s.seen[id] = struct{}{}
	}
	for id, raw := range doc.Timestamps {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			// Unreadable timestamps count as expired
			continue
		}
		s.timestamps[id] = ts
	}

	// An ID without a timestamp (or vice versa) would drift the two
	// collections apart; drop the strays.
	for id := range s.seen {
		if _, ok := s.timestamps[id]; !ok {
			delete(s.seen, id)
		}
	}
	for id := range s.timestamps {
		if _, ok := s.seen[id]; !ok {
			delete(s.timestamps, id)
		}
	}

	s.prune()
}

func (s *FileStorage) prune() {
	cutoff := s.now().Add(-s.retention)

	pruned := 0
	for id, ts := range s.timestamps {
		if ts.Before(cutoff) {
			delete(s.seen, id)
			delete(s.timestamps, id)
			pruned++
		}
	}

	if pruned > 0 {
		slog.Debug("Pruned old entries from state", "count", pruned)
	}
}

func (s *FileStorage) save() {
	doc := stateDocument{
		SeenIDs:     lo.Keys(s.seen),
		Timestamps:  make(map[string]string, len(s.timestamps)),
		LastUpdated: s.now().Format(time.RFC3339),
	}
	for id, ts := range s.timestamps {
		doc.Timestamps[id] = ts.Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		slog.Warn("Could not marshal state", "error", err)
		return
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		slog.Warn("Could not save state file", "path", s.path, "error", err)
	}
}

// IsSeen reports whether an ID has been processed.
func (s *FileStorage) IsSeen(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.seen[id]
	return ok
}

// MarkSeen records an ID and persists immediately.
func (s *FileStorage) MarkSeen(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen[id] = struct{}{}
	s.timestamps[id] = s.now()
	s.save()
}

// MarkMultipleSeen records a batch of IDs with one persist call.
func (s *FileStorage) MarkMultipleSeen(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, id := range ids {
		s.seen[id] = struct{}{}
		s.timestamps[id] = now
	}
	s.save()
}

// Count returns the number of tracked IDs.
func (s *FileStorage) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.seen)
}

// Clear drops all state.
func (s *FileStorage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen = make(map[string]struct{})
	s.timestamps = make(map[string]time.Time)
	s.save()
}
