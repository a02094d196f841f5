// Package cache implements a content-addressed result cache with TTL,
// backed by one JSON file per entry under <dir>/<namespace>/<key>.json.
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is the persisted form of a cached value.
type Entry struct {
	Key       string          `json:"key"`
	Namespace string          `json:"namespace"`
	Value     json.RawMessage `json:"value"`
	CreatedAt int64           `json:"created_at"`
}

// Store is a process-wide cache shared by the summarizer and image layers.
// Readers run concurrently; writers are serialized and replace files
// atomically. Write-last-wins is fine because the value is determined by
// the key.
type Store struct {
	dir    string
	logger *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewStore creates a store rooted at dir. The directory is created lazily
// on first write.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		logger: logger.With("component", "cache"),
		now:    time.Now,
	}
}

// Get returns the cached value for (namespace, key) if it exists and its age
// does not exceed ttl. Corrupt or unreadable entries are treated as absent.
func (s *Store) Get(namespace, key string, ttl time.Duration) (json.RawMessage, bool) {
	data, err := os.ReadFile(s.entryPath(namespace, key))
	if err != nil {
		return nil, false
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		s.logger.Warn("discarding corrupt cache entry", "namespace", namespace, "key", key, "error", err)
		return nil, false
	}
	if e.Value == nil {
		return nil, false
	}

	age := s.now().Unix() - e.CreatedAt
	if ttl > 0 && age > int64(ttl.Seconds()) {
		return nil, false
	}
	return e.Value, true
}

// Set stores value under (namespace, key), replacing any prior entry.
func (s *Store) Set(namespace, key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := Entry{
		Key:       key,
		Namespace: namespace,
		Value:     value,
		CreatedAt: s.now().Unix(),
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	dir := filepath.Join(s.dir, namespace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	// Atomic replace so readers never observe a partial entry.
	tmp, err := os.CreateTemp(dir, ".entry-*")
	if err != nil {
		return fmt.Errorf("create temp entry: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmpName, s.entryPath(namespace, key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace cache entry: %w", err)
	}
	return nil
}

func (s *Store) entryPath(namespace, key string) string {
	return filepath.Join(s.dir, namespace, key+".json")
}
