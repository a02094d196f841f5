package summarize

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/presgen/internal/backoff"
	"github.com/haasonsaas/presgen/internal/cache"
	"github.com/haasonsaas/presgen/internal/toolerr"
)

// fakeBackend replays canned responses and counts calls.
type fakeBackend struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeBackend) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return f.responses[len(f.responses)-1], nil
}

func (f *fakeBackend) GenerateText(ctx context.Context, prompt string) (string, error) {
	return f.GenerateJSON(ctx, prompt)
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

const goodResponse = `{"sections":[{"title":"ETL Modernization","subtitle":"Acme FinTech","bullets":["Cut infra costs","Unify pipelines","Improve governance"],"script":"We modernized the stack.","image_prompt":"abstract data pipeline"}]}`

func newTool(backend *fakeBackend, store *cache.Store) *Tool {
	t := New(backend, "test-model", store, time.Hour, nil)
	t.sleeper = noSleep
	return t
}

func mustOutput(t *testing.T) func(any, error) Output {
	t.Helper()
	return func(v any, err error) Output {
		t.Helper()
		if err != nil {
			t.Fatalf("Summarize: %v", err)
		}
		out, ok := v.(Output)
		if !ok {
			t.Fatalf("result type %T, want Output", v)
		}
		return out
	}
}

func TestSummarizeBasic(t *testing.T) {
	backend := &fakeBackend{responses: []string{goodResponse}}
	tool := newTool(backend, nil)

	out := mustOutput(t)(tool.Summarize(context.Background(), Params{ReportText: "Acme FinTech ETL modernization report."}))
	if len(out.Sections) != 1 {
		t.Fatalf("sections = %d, want 1", len(out.Sections))
	}
	sec := out.Sections[0]
	if sec.Title != "ETL Modernization" || len(sec.Bullets) != 3 {
		t.Errorf("section = %+v", sec)
	}
}

func TestSummarizeLegacySingleSection(t *testing.T) {
	backend := &fakeBackend{responses: []string{
		`{"title":"Solo","bullets":["one","two","three"],"script":"s"}`,
	}}
	tool := newTool(backend, nil)

	out := mustOutput(t)(tool.Summarize(context.Background(), Params{ReportText: "r"}))
	if len(out.Sections) != 1 || out.Sections[0].Title != "Solo" {
		t.Errorf("normalized output = %+v", out)
	}
}

func TestSummarizeFencedAndWrapped(t *testing.T) {
	backend := &fakeBackend{responses: []string{
		"```json\n[" + goodResponse + "]\n```",
	}}
	tool := newTool(backend, nil)

	out := mustOutput(t)(tool.Summarize(context.Background(), Params{ReportText: "r"}))
	if out.Sections[0].Title != "ETL Modernization" {
		t.Errorf("title = %q", out.Sections[0].Title)
	}
}

func TestSummarizeRetriesParseFailures(t *testing.T) {
	backend := &fakeBackend{responses: []string{"not json at all", goodResponse}}
	tool := newTool(backend, nil)

	out := mustOutput(t)(tool.Summarize(context.Background(), Params{ReportText: "r"}))
	if backend.calls != 2 {
		t.Errorf("backend calls = %d, want 2", backend.calls)
	}
	if len(out.Sections) != 1 {
		t.Errorf("sections = %d", len(out.Sections))
	}
}

func TestSummarizeExhaustsToInvalidOutput(t *testing.T) {
	backend := &fakeBackend{responses: []string{"garbage"}}
	tool := newTool(backend, nil)

	_, err := tool.Summarize(context.Background(), Params{ReportText: "r"})
	var te *toolerr.Error
	if !errors.As(err, &te) || te.Kind != toolerr.InvalidOutput {
		t.Fatalf("error = %v, want InvalidOutput", err)
	}
	if backend.calls != backoff.DefaultPolicy().Attempts {
		t.Errorf("backend calls = %d, want %d", backend.calls, backoff.DefaultPolicy().Attempts)
	}
}

func TestSummarizePermanentErrorBubbles(t *testing.T) {
	backend := &fakeBackend{
		responses: []string{""},
		errs:      []error{toolerr.New(toolerr.BackendPermanent, "quota exhausted")},
	}
	tool := newTool(backend, nil)

	_, err := tool.Summarize(context.Background(), Params{ReportText: "r"})
	if toolerr.KindOf(err) != toolerr.BackendPermanent {
		t.Fatalf("error = %v, want BackendPermanent", err)
	}
	if backend.calls != 1 {
		t.Errorf("backend calls = %d, want 1 (no retry)", backend.calls)
	}
}

func TestSummarizeCacheHitSkipsBackend(t *testing.T) {
	store := cache.NewStore(t.TempDir(), nil)
	backend := &fakeBackend{responses: []string{goodResponse}}
	tool := newTool(backend, store)
	params := Params{ReportText: "cached report"}

	mustOutput(t)(tool.Summarize(context.Background(), params))
	if backend.calls != 1 {
		t.Fatalf("first call backend calls = %d", backend.calls)
	}
	mustOutput(t)(tool.Summarize(context.Background(), params))
	if backend.calls != 1 {
		t.Errorf("backend calls after cache hit = %d, want 1", backend.calls)
	}

	// A different max_sections is a different cache key.
	changed := params
	changed.MaxSections = 5
	mustOutput(t)(tool.Summarize(context.Background(), changed))
	if backend.calls != 2 {
		t.Errorf("backend calls after key change = %d, want 2", backend.calls)
	}
}

func TestSummarizeNoCacheBypassesRead(t *testing.T) {
	store := cache.NewStore(t.TempDir(), nil)
	backend := &fakeBackend{responses: []string{goodResponse}}
	tool := newTool(backend, store)
	params := Params{ReportText: "cached report"}

	mustOutput(t)(tool.Summarize(context.Background(), params))

	params.NoCache = true
	mustOutput(t)(tool.Summarize(context.Background(), params))
	if backend.calls != 2 {
		t.Errorf("backend calls with no_cache = %d, want 2", backend.calls)
	}

	// The bypass still refreshed the entry, so a cached read works again.
	params.NoCache = false
	mustOutput(t)(tool.Summarize(context.Background(), params))
	if backend.calls != 2 {
		t.Errorf("backend calls after refresh = %d, want 2", backend.calls)
	}
}

func TestSummarizeValidation(t *testing.T) {
	longScript := strings.Repeat("x", 900)
	backend := &fakeBackend{responses: []string{
		`{"sections":[{"title":"T","bullets":["a","  ","b","c","d","e","f","g"],"script":"` + longScript + `"}]}`,
	}}
	tool := newTool(backend, nil)

	out := mustOutput(t)(tool.Summarize(context.Background(), Params{ReportText: "r", MaxBullets: 4, MaxScriptChars: 100}))
	sec := out.Sections[0]
	if len(sec.Bullets) != 4 {
		t.Errorf("bullets = %v, want 4 after trim+clamp", sec.Bullets)
	}
	for _, b := range sec.Bullets {
		if strings.TrimSpace(b) == "" {
			t.Error("blank bullet survived validation")
		}
	}
	if len(sec.Script) != 100 {
		t.Errorf("script length = %d, want 100", len(sec.Script))
	}
}

func TestSummarizeEmptyReportRejected(t *testing.T) {
	tool := newTool(&fakeBackend{responses: []string{goodResponse}}, nil)
	_, err := tool.Summarize(context.Background(), Params{ReportText: "   "})
	if toolerr.KindOf(err) != toolerr.BadRequest {
		t.Errorf("error = %v, want BadRequest", err)
	}
}
