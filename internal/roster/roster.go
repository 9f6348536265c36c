// Package roster holds the local snapshot of known badges. The snapshot is
// produced by an external importer as a JSON file; the core only reads it,
// treating each entry as a badge id with an opaque payload returned
// verbatim to collaborators.
package roster

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/openbadge/attendd/internal/types"
)

// Set is the in-memory roster snapshot. Safe for concurrent use; Reload
// swaps the whole snapshot atomically.
type Set struct {
	path string

	mu      sync.RWMutex
	entries map[string]json.RawMessage
	hash    string
}

// NewSet creates an empty roster bound to path. Call Reload to populate it;
// a missing file is not an error (stations may run before the first
// import).
func NewSet(path string) *Set {
	return &Set{path: path, entries: map[string]json.RawMessage{}}
}

// Reload reads the roster file and replaces the snapshot. Returns the
// SHA-256 of the file contents for metadata bookkeeping.
func (s *Set) Reload() (hash string, count int, err error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.mu.Lock()
		s.entries = map[string]json.RawMessage{}
		s.hash = ""
		s.mu.Unlock()
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("reading roster file: %w", err)
	}

	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return "", 0, fmt.Errorf("parsing roster file: %w", err)
	}

	entries := make(map[string]json.RawMessage, len(rows))
	for i, row := range rows {
		var badge string
		if raw, ok := row["badge_id"]; ok {
			_ = json.Unmarshal(raw, &badge)
		}
		badge = strings.TrimSpace(badge)
		if badge == "" {
			return "", 0, fmt.Errorf("roster entry %d has no badge_id", i)
		}
		payload, err := json.Marshal(row)
		if err != nil {
			return "", 0, fmt.Errorf("re-encoding roster entry %d: %w", i, err)
		}
		entries[badge] = payload
	}

	sum := sha256.Sum256(data)
	hash = hex.EncodeToString(sum[:])

	s.mu.Lock()
	s.entries = entries
	s.hash = hash
	s.mu.Unlock()
	return hash, len(entries), nil
}

// Contains reports whether the badge is in the roster.
func (s *Set) Contains(badge string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[badge]
	return ok
}

// Payload returns the opaque payload for a badge, or nil when absent.
func (s *Set) Payload(badge string) json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[badge]
}

// Hash returns the SHA-256 of the last loaded roster file.
func (s *Set) Hash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hash
}

// Len returns the number of roster entries.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Search finds entries whose badge id or payload contains q,
// case-insensitively. Used by intake to resolve non-numeric input; the
// caller only acts when exactly one candidate comes back.
func (s *Set) Search(q string) []types.RosterEntry {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.RosterEntry
	for badge, payload := range s.entries {
		if strings.Contains(strings.ToLower(badge), q) ||
			strings.Contains(strings.ToLower(string(payload)), q) {
			out = append(out, types.RosterEntry{BadgeID: badge, Payload: payload})
		}
	}
	return out
}
