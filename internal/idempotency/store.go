// Package idempotency provides a durable map from client request keys to
// previously created deck identities, backed by a JSON file that survives
// restarts.
package idempotency

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DeckRef identifies a deck slide created for a client key. Slides is
// populated only on composite (whole-request) records.
type DeckRef struct {
	PresentationID string `json:"presentation_id"`
	SlideID        string `json:"slide_id"`
	URL            string `json:"url"`
	Slides         int    `json:"slides,omitempty"`
}

// Entry is the persisted record for one client key.
type Entry struct {
	ClientKey  string  `json:"client_key"`
	Deck       DeckRef `json:"deck_ref"`
	RecordedAt int64   `json:"recorded_at"`
}

// Store is a process-wide idempotency map. Lookups and records are safe for
// concurrent use; the backing file is replaced atomically on every record.
// Entries persist until pruned externally.
type Store struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]Entry
	loaded  bool
	now     func() time.Time
}

// NewStore creates a store backed by the JSON file at path
// (conventionally out/state/idempotency.json).
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		logger: logger.With("component", "idempotency"),
		now:    time.Now,
	}
}

// Lookup returns the deck recorded for clientKey, if any.
func (s *Store) Lookup(clientKey string) (DeckRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()

	e, ok := s.entries[clientKey]
	return e.Deck, ok
}

// Record persists the mapping clientKey → deck. Callers invoke it only after
// the slide's side effects have committed.
func (s *Store) Record(clientKey string, deck DeckRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()

	s.entries[clientKey] = Entry{
		ClientKey:  clientKey,
		Deck:       deck,
		RecordedAt: s.now().Unix(),
	}
	return s.flushLocked()
}

// loadLocked populates the in-memory map from disk once. A missing file is
// an empty store; a corrupt file is logged and replaced on the next record.
func (s *Store) loadLocked() {
	if s.loaded {
		return
	}
	s.loaded = true
	s.entries = make(map[string]Entry)

	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		s.logger.Warn("ignoring corrupt idempotency file", "path", s.path, "error", err)
		s.entries = make(map[string]Entry)
	}
}

func (s *Store) flushLocked() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode idempotency entries: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".idem-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// SlideKey derives the per-slide idempotency key for slide index within a
// composite request. Deck creation is keyed on the base clientKey itself.
func SlideKey(clientKey string, index int) string {
	return fmt.Sprintf("%s#s%d", clientKey, index)
}
