package deck

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/presgen/internal/idempotency"
	"github.com/haasonsaas/presgen/internal/slides"
	"github.com/haasonsaas/presgen/internal/toolerr"
)

// fakeDeckBackend records calls and returns deterministic ids.
type fakeDeckBackend struct {
	created       int
	deletedBlank  int
	appended      []slides.SlideContent
	uploads       int
	failAppend    error
	failCreate    error
	deleteBlankOK bool
}

func (f *fakeDeckBackend) CreatePresentation(ctx context.Context, title string) (string, string, error) {
	if f.failCreate != nil {
		return "", "", f.failCreate
	}
	f.created++
	id := fmt.Sprintf("pres-%d", f.created)
	return id, slides.PresentationURL(id), nil
}

func (f *fakeDeckBackend) DeleteDefaultSlide(ctx context.Context, presentationID string) (string, error) {
	f.deletedBlank++
	if !f.deleteBlankOK {
		return "", toolerr.New(toolerr.BackendPermanent, "no blank slide")
	}
	return "blank-1", nil
}

func (f *fakeDeckBackend) AppendSlide(ctx context.Context, presentationID string, content slides.SlideContent) (string, error) {
	if f.failAppend != nil {
		return "", f.failAppend
	}
	f.appended = append(f.appended, content)
	return fmt.Sprintf("slide-%d", len(f.appended)), nil
}

func (f *fakeDeckBackend) UploadPublicImage(ctx context.Context, localPath string, makePublic bool) (string, string, error) {
	f.uploads++
	return "img-1", slides.DriveDownloadURL("img-1"), nil
}

func newStore(t *testing.T) *idempotency.Store {
	t.Helper()
	return idempotency.NewStore(filepath.Join(t.TempDir(), "idempotency.json"), nil)
}

func mustResult(t *testing.T) func(any, error) Result {
	t.Helper()
	return func(v any, err error) Result {
		t.Helper()
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		res, ok := v.(Result)
		if !ok {
			t.Fatalf("result type %T, want Result", v)
		}
		return res
	}
}

func TestCreateNewDeck(t *testing.T) {
	backend := &fakeDeckBackend{deleteBlankOK: true}
	tool := New(backend, newStore(t), nil)

	res := mustResult(t)(tool.Create(context.Background(), Params{
		Title:    "ETL Modernization",
		Subtitle: "Acme FinTech",
		Bullets:  []string{"Cut infra costs", "Unify pipelines"},
		Script:   "Narration here.",
	}))
	if res.PresentationID != "pres-1" || res.SlideID != "slide-1" {
		t.Errorf("result = %+v", res)
	}
	if !strings.Contains(res.URL, res.PresentationID) {
		t.Errorf("url %q does not encode presentation id", res.URL)
	}
	if backend.deletedBlank != 1 {
		t.Errorf("blank slide deletions = %d, want 1", backend.deletedBlank)
	}
	if res.ReusedExisting {
		t.Error("fresh create flagged as reused")
	}
}

func TestCreateAppendsToExistingDeck(t *testing.T) {
	backend := &fakeDeckBackend{deleteBlankOK: true}
	tool := New(backend, nil, nil)

	res := mustResult(t)(tool.Create(context.Background(), Params{
		Title:          "Second Slide",
		Bullets:        []string{"a"},
		PresentationID: "pres-existing",
	}))
	if backend.created != 0 {
		t.Errorf("presentations created = %d, want 0", backend.created)
	}
	if res.PresentationID != "pres-existing" {
		t.Errorf("presentation id = %q", res.PresentationID)
	}
	if res.URL != slides.PresentationURL("pres-existing") {
		t.Errorf("url = %q", res.URL)
	}
}

func TestCreateIdempotency(t *testing.T) {
	backend := &fakeDeckBackend{deleteBlankOK: true}
	tool := New(backend, newStore(t), nil)
	params := Params{ClientRequestID: "req-123#s1", Title: "T", Bullets: []string{"a"}}

	first := mustResult(t)(tool.Create(context.Background(), params))
	second := mustResult(t)(tool.Create(context.Background(), params))

	if !second.ReusedExisting {
		t.Error("second call not flagged as reused")
	}
	if second.PresentationID != first.PresentationID || second.URL != first.URL {
		t.Errorf("reused result differs: %+v vs %+v", first, second)
	}
	if backend.created != 1 || len(backend.appended) != 1 {
		t.Errorf("backend side effects on reuse: created=%d appended=%d", backend.created, len(backend.appended))
	}
}

func TestCreateRejectsMultipleImageSources(t *testing.T) {
	tool := New(&fakeDeckBackend{}, nil, nil)
	_, err := tool.Create(context.Background(), Params{
		Title:          "T",
		ImageLocalPath: "/tmp/a.png",
		ImageURL:       "https://example.com/a.png",
	})
	if toolerr.KindOf(err) != toolerr.BadRequest {
		t.Errorf("error = %v, want BadRequest", err)
	}
}

func TestCreateImageSources(t *testing.T) {
	backend := &fakeDeckBackend{deleteBlankOK: true}
	tool := New(backend, nil, nil)
	ctx := context.Background()

	mustResult(t)(tool.Create(ctx, Params{Title: "T", ImageLocalPath: "/tmp/img.png"}))
	if backend.uploads != 1 {
		t.Errorf("uploads = %d, want 1", backend.uploads)
	}
	if got := backend.appended[0].ImageURL; got != slides.DriveDownloadURL("img-1") {
		t.Errorf("image url = %q", got)
	}

	mustResult(t)(tool.Create(ctx, Params{Title: "T", ImageURL: "https://drive.google.com/file/d/abc123/view"}))
	if got := backend.appended[1].ImageURL; got != slides.DriveDownloadURL("abc123") {
		t.Errorf("normalized image url = %q", got)
	}

	mustResult(t)(tool.Create(ctx, Params{Title: "T", ImageHandle: "handle9"}))
	if got := backend.appended[2].ImageURL; got != slides.DriveDownloadURL("handle9") {
		t.Errorf("handle image url = %q", got)
	}
}

func TestCreateBlankDeleteFailureIsSoft(t *testing.T) {
	backend := &fakeDeckBackend{deleteBlankOK: false}
	tool := New(backend, nil, nil)
	res := mustResult(t)(tool.Create(context.Background(), Params{Title: "T"}))
	if res.SlideID == "" {
		t.Error("slide not created despite soft blank-delete failure")
	}
}

func TestCreateNoRecordOnFailure(t *testing.T) {
	store := newStore(t)
	backend := &fakeDeckBackend{
		deleteBlankOK: true,
		failAppend:    toolerr.New(toolerr.BackendPermanent, "quota"),
	}
	tool := New(backend, store, nil)

	_, err := tool.Create(context.Background(), Params{ClientRequestID: "req-x", Title: "T"})
	if err == nil {
		t.Fatal("Create succeeded, want error")
	}
	if _, ok := store.Lookup("req-x"); ok {
		t.Error("idempotency entry recorded despite failed side effects")
	}
}

func TestDeckTitle(t *testing.T) {
	if got := deckTitle("A", "B"); got != "A: B" {
		t.Errorf("deckTitle = %q", got)
	}
	long := strings.Repeat("x", 200)
	if got := deckTitle(long, "sub"); len([]rune(got)) != MaxDeckTitleChars {
		t.Errorf("deckTitle length = %d, want %d", len([]rune(got)), MaxDeckTitleChars)
	}
}
