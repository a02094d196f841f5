package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStoreRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	val := json.RawMessage(`{"title":"Acme"}`)
	if err := s.Set(NamespaceSummarize, "abc123", val); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok := s.Get(NamespaceSummarize, "abc123", time.Hour)
	if !ok {
		t.Fatal("Get: entry missing after Set")
	}
	if string(got) != string(val) {
		t.Errorf("Get = %s, want %s", got, val)
	}
}

func TestStoreMiss(t *testing.T) {
	s := NewStore(t.TempDir(), nil)
	if _, ok := s.Get(NamespaceImage, "nope", time.Hour); ok {
		t.Error("Get returned a value for an absent key")
	}
}

func TestStoreTTLExpiry(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	base := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return base }
	if err := s.Set(NamespaceSummarize, "k", json.RawMessage(`1`)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	s.now = func() time.Time { return base.Add(30 * time.Minute) }
	if _, ok := s.Get(NamespaceSummarize, "k", time.Hour); !ok {
		t.Error("entry expired before TTL")
	}

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	if _, ok := s.Get(NamespaceSummarize, "k", time.Hour); ok {
		t.Error("entry survived past TTL")
	}
}

func TestStoreCorruptEntryTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, nil)

	path := filepath.Join(dir, NamespaceSummarize, "bad.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, ok := s.Get(NamespaceSummarize, "bad", time.Hour); ok {
		t.Error("corrupt entry should read as absent")
	}
}

func TestDeriveKeyStability(t *testing.T) {
	a := DeriveKey("model-1", map[string]any{"x": 1, "y": "two"})
	b := DeriveKey("model-1", map[string]any{"y": "two", "x": 1})
	if a != b {
		t.Errorf("key depends on map ordering: %s != %s", a, b)
	}
	if len(a) != KeyLen {
		t.Errorf("key length = %d, want %d", len(a), KeyLen)
	}
}

func TestSummarizeKeyInputsMatter(t *testing.T) {
	base := SummarizeKey("report", 5, 700, "gemini-2.0-flash", 3)

	tests := []struct {
		name string
		got  string
	}{
		{"max_sections", SummarizeKey("report", 5, 700, "gemini-2.0-flash", 5)},
		{"report_text", SummarizeKey("other", 5, 700, "gemini-2.0-flash", 3)},
		{"model", SummarizeKey("report", 5, 700, "gemini-1.5-pro", 3)},
		{"max_bullets", SummarizeKey("report", 6, 700, "gemini-2.0-flash", 3)},
	}
	for _, tt := range tests {
		if tt.got == base {
			t.Errorf("changing %s did not change the key", tt.name)
		}
	}

	if again := SummarizeKey("report", 5, 700, "gemini-2.0-flash", 3); again != base {
		t.Error("identical inputs derived different keys")
	}
}

func TestImageKeySharedFlagMatters(t *testing.T) {
	a := ImageKey("a robot", "16:9", "1280x720", "imagen-3.0", true)
	b := ImageKey("a robot", "16:9", "1280x720", "imagen-3.0", false)
	if a == b {
		t.Error("shared flag not part of the key")
	}
}
