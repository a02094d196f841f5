// Package summarize turns a free-form research report into structured
// slide sections via an LLM backend, with result caching and bounded
// retries on malformed model output.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/presgen/internal/backoff"
	"github.com/haasonsaas/presgen/internal/cache"
	"github.com/haasonsaas/presgen/internal/llm"
	"github.com/haasonsaas/presgen/internal/toolerr"
)

// Method is the JSON-RPC method name this tool registers under.
const Method = "llm.summarize"

// Field bounds for a validated section.
const (
	MaxTitleChars       = 120
	MaxSubtitleChars    = 160
	MaxImagePromptChars = 200
	MaxSectionsCap      = 10

	DefaultMaxBullets     = 5
	DefaultMaxScriptChars = 700
	DefaultMaxSections    = 3
)

// Params is the llm.summarize request payload.
type Params struct {
	ReportText     string `json:"report_text" jsonschema:"required,description=Plain-text research report"`
	MaxBullets     int    `json:"max_bullets,omitempty" jsonschema:"description=Bullets per section (default 5)"`
	MaxScriptChars int    `json:"max_script_chars,omitempty" jsonschema:"description=Speaker script cap (default 700)"`
	MaxSections    int    `json:"max_sections,omitempty" jsonschema:"description=Section count hint (1-10, default 3)"`
	NoCache        bool   `json:"no_cache,omitempty" jsonschema:"description=Skip the cache read; the fresh result is still stored"`
}

// Section is one slide's structured content.
type Section struct {
	Title       string   `json:"title"`
	Subtitle    string   `json:"subtitle,omitempty"`
	Bullets     []string `json:"bullets"`
	Script      string   `json:"script"`
	ImagePrompt string   `json:"image_prompt,omitempty"`
}

// Output is the normalized tool result.
type Output struct {
	Sections []Section `json:"sections"`
}

// Tool implements llm.summarize.
type Tool struct {
	backend llm.TextBackend
	model   string
	cache   *cache.Store
	ttl     time.Duration
	policy  backoff.Policy
	sleeper backoff.Sleeper
	logger  *slog.Logger
}

// New builds the tool. cache may be nil to disable caching.
func New(backend llm.TextBackend, model string, store *cache.Store, ttl time.Duration, logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{
		backend: backend,
		model:   model,
		cache:   store,
		ttl:     ttl,
		policy:  backoff.DefaultPolicy(),
		sleeper: backoff.SleepWithContext,
		logger:  logger,
	}
}

// Summarize produces slide sections for a report, consulting the cache
// first. Parse and validation failures are retried under the standard
// policy; exhaustion surfaces InvalidOutput.
func (t *Tool) Summarize(ctx context.Context, p Params) (any, error) {
	if strings.TrimSpace(p.ReportText) == "" {
		return nil, toolerr.New(toolerr.BadRequest, "report_text is required")
	}
	if p.MaxBullets <= 0 {
		p.MaxBullets = DefaultMaxBullets
	}
	if p.MaxScriptChars <= 0 {
		p.MaxScriptChars = DefaultMaxScriptChars
	}
	if p.MaxSections <= 0 {
		p.MaxSections = DefaultMaxSections
	}
	if p.MaxSections > MaxSectionsCap {
		p.MaxSections = MaxSectionsCap
	}

	key := cache.SummarizeKey(p.ReportText, p.MaxBullets, p.MaxScriptChars, t.model, p.MaxSections)
	if t.cache != nil && !p.NoCache {
		if raw, ok := t.cache.Get(cache.NamespaceSummarize, key, t.ttl); ok {
			var out Output
			if err := json.Unmarshal(raw, &out); err == nil {
				t.logger.Debug("summarize cache hit", "key", key)
				return out, nil
			}
		}
	}

	prompt := buildPrompt(p)
	out, err := backoff.RetryWithSleeper(ctx, t.policy, retryParseAndTransient, t.sleeper, func(ctx context.Context) (Output, error) {
		text, err := t.backend.GenerateJSON(ctx, prompt)
		if err != nil {
			return Output{}, err
		}
		return parseOutput(text, p)
	})
	if err != nil {
		return nil, err
	}

	if t.cache != nil {
		encoded, mErr := json.Marshal(out)
		if mErr == nil {
			if sErr := t.cache.Set(cache.NamespaceSummarize, key, encoded); sErr != nil {
				t.logger.Warn("summarize cache write failed", "key", key, "error", sErr)
			}
		}
	}
	t.logger.Info("summarized report", "sections", len(out.Sections), "model", t.model)
	return out, nil
}

// retryParseAndTransient retries transient backend failures and any
// malformed model output; schema and permanent errors bubble.
func retryParseAndTransient(err error) bool {
	switch toolerr.KindOf(err) {
	case toolerr.BackendTransient, toolerr.InvalidOutput:
		return true
	default:
		return false
	}
}

func buildPrompt(p Params) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are preparing a slide deck from a research report.\n")
	fmt.Fprintf(&b, "Return ONLY a single JSON object, no prose, of the shape:\n")
	fmt.Fprintf(&b, `{"sections":[{"title":"...","subtitle":"...","bullets":["..."],"script":"...","image_prompt":"..."}]}`)
	fmt.Fprintf(&b, "\nConstraints:\n")
	fmt.Fprintf(&b, "- at most %d sections, one per slide\n", p.MaxSections)
	fmt.Fprintf(&b, "- 3 to %d bullets per section, each a short phrase\n", p.MaxBullets)
	fmt.Fprintf(&b, "- script is the spoken narration, at most %d characters\n", p.MaxScriptChars)
	fmt.Fprintf(&b, "- title at most %d characters, subtitle at most %d\n", MaxTitleChars, MaxSubtitleChars)
	fmt.Fprintf(&b, "- image_prompt describes one supporting visual, at most %d characters\n", MaxImagePromptChars)
	fmt.Fprintf(&b, "\nReport:\n%s\n", p.ReportText)
	return b.String()
}

// parseOutput decodes model text into a validated Output. A legacy
// single-section object (top-level title/bullets) is normalized into a
// one-element section list.
func parseOutput(text string, p Params) (Output, error) {
	raw, err := llm.DecodeObject(llm.StripFences(text))
	if err != nil {
		return Output{}, err
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Output{}, toolerr.Wrap(toolerr.InvalidOutput, err, "decode summarizer object")
	}

	var out Output
	if _, ok := probe["sections"]; ok {
		if err := json.Unmarshal(raw, &out); err != nil {
			return Output{}, toolerr.Wrap(toolerr.InvalidOutput, err, "decode sections")
		}
	} else {
		var single Section
		if err := json.Unmarshal(raw, &single); err != nil {
			return Output{}, toolerr.Wrap(toolerr.InvalidOutput, err, "decode legacy section")
		}
		out.Sections = []Section{single}
	}

	if len(out.Sections) > p.MaxSections {
		out.Sections = out.Sections[:p.MaxSections]
	}

	validated := out.Sections[:0]
	for _, sec := range out.Sections {
		sec, err := validateSection(sec, p)
		if err != nil {
			return Output{}, err
		}
		validated = append(validated, sec)
	}
	out.Sections = validated
	if len(out.Sections) == 0 {
		return Output{}, toolerr.New(toolerr.InvalidOutput, "summarizer returned no sections")
	}
	return out, nil
}

func validateSection(sec Section, p Params) (Section, error) {
	sec.Title = clampRunes(strings.TrimSpace(sec.Title), MaxTitleChars)
	if sec.Title == "" {
		return Section{}, toolerr.New(toolerr.InvalidOutput, "section missing title")
	}
	sec.Subtitle = clampRunes(strings.TrimSpace(sec.Subtitle), MaxSubtitleChars)
	sec.ImagePrompt = clampRunes(strings.TrimSpace(sec.ImagePrompt), MaxImagePromptChars)
	sec.Script = clampRunes(sec.Script, p.MaxScriptChars)

	bullets := make([]string, 0, len(sec.Bullets))
	for _, bl := range sec.Bullets {
		if trimmed := strings.TrimSpace(bl); trimmed != "" {
			bullets = append(bullets, trimmed)
		}
	}
	if len(bullets) == 0 {
		return Section{}, toolerr.New(toolerr.InvalidOutput, "section %q has no bullets", sec.Title)
	}
	if len(bullets) > p.MaxBullets {
		bullets = bullets[:p.MaxBullets]
	}
	sec.Bullets = bullets
	return sec, nil
}

func clampRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
