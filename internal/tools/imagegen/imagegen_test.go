package imagegen

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/presgen/internal/cache"
	"github.com/haasonsaas/presgen/internal/toolerr"
)

// tiny valid-enough PNG payload for write/stat round trips.
var pngBytes = []byte("\x89PNG\r\n\x1a\nfakepayload")

type fakeImageBackend struct {
	errs  []error
	calls int
}

func (f *fakeImageBackend) GenerateImage(ctx context.Context, prompt, aspect, safetyTier string) ([]byte, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return pngBytes, nil
}

type fakeUploader struct {
	calls int
	fail  bool
}

func (f *fakeUploader) UploadPublicImage(ctx context.Context, localPath string, makePublic bool) (string, string, error) {
	f.calls++
	if f.fail {
		return "", "", toolerr.New(toolerr.BackendPermanent, "drive unavailable")
	}
	return "file123", "https://drive.google.com/uc?export=download&id=file123", nil
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func newTool(backend *fakeImageBackend, uploader Uploader, outDir string, store *cache.Store) *Tool {
	tool := New(backend, uploader, "imagen-test", "", outDir, store, time.Hour, nil)
	tool.sleeper = noSleep
	return tool
}

func mustResult(t *testing.T) func(any, error) Result {
	t.Helper()
	return func(v any, err error) Result {
		t.Helper()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		res, ok := v.(Result)
		if !ok {
			t.Fatalf("result type %T, want Result", v)
		}
		return res
	}
}

func TestGenerateLocal(t *testing.T) {
	dir := t.TempDir()
	backend := &fakeImageBackend{}
	tool := newTool(backend, nil, dir, nil)

	res := mustResult(t)(tool.Generate(context.Background(), Params{Prompt: "sunset over data center"}))
	if !strings.Contains(res.LocalPath, "imagen_") {
		t.Errorf("local path = %q", res.LocalPath)
	}
	data, err := os.ReadFile(res.LocalPath)
	if err != nil || string(data) != string(pngBytes) {
		t.Errorf("persisted bytes mismatch: %v", err)
	}
	if res.URL != "" {
		t.Errorf("unexpected url %q for local artifact", res.URL)
	}
}

func TestGenerateShared(t *testing.T) {
	uploader := &fakeUploader{}
	tool := newTool(&fakeImageBackend{}, uploader, t.TempDir(), nil)

	res := mustResult(t)(tool.Generate(context.Background(), Params{Prompt: "p", ReturnShared: true}))
	if res.URL == "" || res.DriveFileID != "file123" {
		t.Errorf("shared result = %+v", res)
	}
	if res.LocalPath == "" {
		t.Error("shared result should still carry local path")
	}
}

func TestGenerateShareFailureDegradesToLocal(t *testing.T) {
	tool := newTool(&fakeImageBackend{}, &fakeUploader{fail: true}, t.TempDir(), nil)

	res := mustResult(t)(tool.Generate(context.Background(), Params{Prompt: "p", ReturnShared: true}))
	if res.URL != "" {
		t.Errorf("url = %q, want empty after share failure", res.URL)
	}
	if res.LocalPath == "" {
		t.Error("local path missing")
	}
}

func TestGenerateRetriesTransient(t *testing.T) {
	backend := &fakeImageBackend{errs: []error{
		toolerr.FromStatus(429, "rate limited"),
		toolerr.FromStatus(503, "overloaded"),
	}}
	tool := newTool(backend, nil, t.TempDir(), nil)

	mustResult(t)(tool.Generate(context.Background(), Params{Prompt: "p"}))
	if backend.calls != 3 {
		t.Errorf("backend calls = %d, want 3", backend.calls)
	}
}

func TestGeneratePermanentBubbles(t *testing.T) {
	backend := &fakeImageBackend{errs: []error{toolerr.New(toolerr.BackendPermanent, "blocked by safety filter")}}
	tool := newTool(backend, nil, t.TempDir(), nil)

	_, err := tool.Generate(context.Background(), Params{Prompt: "p"})
	if toolerr.KindOf(err) != toolerr.BackendPermanent {
		t.Fatalf("error = %v, want BackendPermanent", err)
	}
	if backend.calls != 1 {
		t.Errorf("backend calls = %d, want 1", backend.calls)
	}
}

func TestGenerateDefaultSizeChangesCacheKey(t *testing.T) {
	store := cache.NewStore(t.TempDir(), nil)
	backend := &fakeImageBackend{}
	outDir := t.TempDir()

	plain := New(backend, nil, "imagen-test", "", outDir, store, time.Hour, nil)
	plain.sleeper = noSleep
	mustResult(t)(plain.Generate(context.Background(), Params{Prompt: "skyline"}))

	// A configured size override keys separately from the aspect default.
	sized := New(backend, nil, "imagen-test", "1536x864", outDir, store, time.Hour, nil)
	sized.sleeper = noSleep
	mustResult(t)(sized.Generate(context.Background(), Params{Prompt: "skyline"}))
	if backend.calls != 2 {
		t.Errorf("backend calls = %d, want 2 (distinct cache keys)", backend.calls)
	}

	// Same override again is a cache hit.
	mustResult(t)(sized.Generate(context.Background(), Params{Prompt: "skyline"}))
	if backend.calls != 2 {
		t.Errorf("backend calls after repeat = %d, want 2", backend.calls)
	}
}

func TestGenerateCacheHit(t *testing.T) {
	store := cache.NewStore(t.TempDir(), nil)
	backend := &fakeImageBackend{}
	tool := newTool(backend, nil, t.TempDir(), store)
	params := Params{Prompt: "repeatable"}

	first := mustResult(t)(tool.Generate(context.Background(), params))
	second := mustResult(t)(tool.Generate(context.Background(), params))
	if backend.calls != 1 {
		t.Errorf("backend calls = %d, want 1 after cache hit", backend.calls)
	}
	if first.LocalPath != second.LocalPath {
		t.Errorf("cached artifact differs: %q vs %q", first.LocalPath, second.LocalPath)
	}

	// A stale cache entry pointing at a deleted file regenerates.
	os.Remove(first.LocalPath)
	mustResult(t)(tool.Generate(context.Background(), params))
	if backend.calls != 2 {
		t.Errorf("backend calls = %d, want 2 after artifact vanished", backend.calls)
	}
}

func TestGenerateRejectsBadParams(t *testing.T) {
	tool := newTool(&fakeImageBackend{}, nil, t.TempDir(), nil)
	if _, err := tool.Generate(context.Background(), Params{}); toolerr.KindOf(err) != toolerr.BadRequest {
		t.Errorf("missing prompt error = %v, want BadRequest", err)
	}
	if _, err := tool.Generate(context.Background(), Params{Prompt: "p", Aspect: "21:9"}); toolerr.KindOf(err) != toolerr.BadRequest {
		t.Errorf("bad aspect error = %v, want BadRequest", err)
	}
}
