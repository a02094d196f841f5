// Package data ingests tabular files (CSV/TSV) into per-dataset SQLite
// databases and keeps an append-only catalog so datasets can be resolved
// by id, by source filename, or as "latest".
package data

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/presgen/internal/toolerr"
)

// Column describes one ingested column and its inferred affinity.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"` // INTEGER, REAL or TEXT
}

// Sheet is one table within a dataset.
type Sheet struct {
	Name    string   `json:"name"`
	Table   string   `json:"table"`
	Columns []Column `json:"columns"`
	Rows    int64    `json:"rows"`
}

// Dataset is one ingested source file.
type Dataset struct {
	ID         string  `json:"id"`
	SourceName string  `json:"source_name"`
	DBPath     string  `json:"db_path"`
	Sheets     []Sheet `json:"sheets"`
	CreatedAt  int64   `json:"created_at"`
}

// Store owns the dataset directory and its catalog.
type Store struct {
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	loaded   bool
	datasets []Dataset
	now      func() time.Time
}

// NewStore creates a store rooted at dir. The catalog is loaded lazily.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger, now: time.Now}
}

func (s *Store) catalogPath() string {
	return filepath.Join(s.dir, "catalog.json")
}

// List returns all catalogued datasets, newest first.
func (s *Store) List() ([]Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	out := make([]Dataset, len(s.datasets))
	copy(out, s.datasets)
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Resolve maps a selector to a dataset. Selectors are a dataset id, a
// source filename (full or base name), or "latest". Creation-time ties
// for "latest" break toward the lexicographically greater id.
func (s *Store) Resolve(selector string) (Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return Dataset{}, err
	}
	if len(s.datasets) == 0 {
		return Dataset{}, toolerr.New(toolerr.ResourceMissing, "no datasets ingested")
	}

	if selector == "" || selector == "latest" {
		best := s.datasets[0]
		for _, d := range s.datasets[1:] {
			if d.CreatedAt > best.CreatedAt || (d.CreatedAt == best.CreatedAt && d.ID > best.ID) {
				best = d
			}
		}
		return best, nil
	}

	for _, d := range s.datasets {
		if d.ID == selector {
			return d, nil
		}
	}
	for _, d := range s.datasets {
		if d.SourceName == selector || filepath.Base(d.SourceName) == selector {
			return d, nil
		}
	}
	return Dataset{}, toolerr.New(toolerr.ResourceMissing, "dataset %s not found", selector)
}

func (s *Store) loadLocked() error {
	if s.loaded {
		return nil
	}
	raw, err := os.ReadFile(s.catalogPath())
	if os.IsNotExist(err) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("data: read catalog: %w", err)
	}
	var catalog struct {
		Datasets []Dataset `json:"datasets"`
	}
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return fmt.Errorf("data: parse catalog: %w", err)
	}
	s.datasets = catalog.Datasets
	s.loaded = true
	return nil
}

// appendLocked records a new dataset and rewrites the catalog atomically.
func (s *Store) appendLocked(d Dataset) error {
	s.datasets = append(s.datasets, d)
	payload, err := json.MarshalIndent(struct {
		Datasets []Dataset `json:"datasets"`
	}{s.datasets}, "", "  ")
	if err != nil {
		return fmt.Errorf("data: encode catalog: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("data: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, "catalog-*.json")
	if err != nil {
		return fmt.Errorf("data: temp catalog: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("data: write catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("data: close catalog: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.catalogPath()); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("data: replace catalog: %w", err)
	}
	return nil
}

func newDatasetID() string {
	return "ds_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// sanitizeIdent turns an arbitrary header or sheet name into a safe SQL
// identifier: lowercase, [a-z0-9_] only, never starting with a digit.
func sanitizeIdent(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || (out[0] >= '0' && out[0] <= '9') {
		out = "c_" + out
	}
	return out
}
