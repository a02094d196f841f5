// Package orchestrator plans and executes a full deck build: summarize
// the report, generate per-section images, and render slides in order.
// It talks to tools only through the dispatcher capability, never
// directly.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/presgen/internal/idempotency"
	"github.com/haasonsaas/presgen/internal/rpc"
	"github.com/haasonsaas/presgen/internal/toolerr"
	"github.com/haasonsaas/presgen/internal/tools/dataquery"
	"github.com/haasonsaas/presgen/internal/tools/deck"
	"github.com/haasonsaas/presgen/internal/tools/imagegen"
	"github.com/haasonsaas/presgen/internal/tools/summarize"
)

// MaxSlides bounds a single request.
const MaxSlides = 10

// Params is one deck-build request.
type Params struct {
	ReportText      string
	ClientRequestID string
	SlideCount      int
	ShareImages     bool
	NoCache         bool
	DataQuestions   []string
	DatasetID       string
	Sheet           string
}

// Result aggregates what was created.
type Result struct {
	PresentationID string `json:"presentation_id"`
	URL            string `json:"url"`
	CreatedSlides  int    `json:"created_slides"`
	FirstSlideID   string `json:"first_slide_id"`
}

// Options tunes one orchestrator instance. Zero values fall back to
// the built-in defaults; Idempotency may be nil to skip whole-request
// replay records.
type Options struct {
	CallTimeout    time.Duration
	DefaultSlides  int
	MaxBullets     int
	MaxScriptChars int
	Idempotency    *idempotency.Store
	Logger         *slog.Logger
}

// Orchestrator drives tool calls for one request at a time.
type Orchestrator struct {
	caller        rpc.Caller
	callTimeout   time.Duration
	defaultSlides int
	maxBullets    int
	maxScript     int
	idem          *idempotency.Store
	logger        *slog.Logger
	newID         func() string
}

// New builds an orchestrator over a dispatcher connection.
func New(caller rpc.Caller, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = rpc.DefaultCallTimeout
	}
	if opts.DefaultSlides <= 0 {
		opts.DefaultSlides = 1
	}
	return &Orchestrator{
		caller:        caller,
		callTimeout:   opts.CallTimeout,
		defaultSlides: opts.DefaultSlides,
		maxBullets:    opts.MaxBullets,
		maxScript:     opts.MaxScriptChars,
		idem:          opts.Idempotency,
		logger:        opts.Logger,
		newID:         uuid.NewString,
	}
}

// Run executes one request. Summarizer failure is fatal; image failures
// degrade to image-less slides; a renderer failure past the first slide
// returns the partial deck.
func (o *Orchestrator) Run(ctx context.Context, p Params) (Result, error) {
	if strings.TrimSpace(p.ReportText) == "" && len(p.DataQuestions) == 0 {
		return Result{}, toolerr.New(toolerr.BadRequest, "report text or data questions required")
	}
	if p.SlideCount <= 0 {
		p.SlideCount = o.defaultSlides
	}
	if p.SlideCount > MaxSlides {
		p.SlideCount = MaxSlides
	}
	requestID := p.ClientRequestID
	if requestID == "" {
		requestID = o.newID()
	}

	// A fully committed earlier run with the same client key replays
	// without touching any tool.
	if o.idem != nil && p.ClientRequestID != "" {
		if ref, ok := o.idem.Lookup(requestID); ok && ref.Slides > 0 {
			o.logger.Info("request replayed from idempotency record",
				"request_id", requestID, "presentation_id", ref.PresentationID)
			return Result{
				PresentationID: ref.PresentationID,
				URL:            ref.URL,
				CreatedSlides:  ref.Slides,
				FirstSlideID:   ref.SlideID,
			}, nil
		}
	}

	sections, err := o.planSections(ctx, p)
	if err != nil {
		return Result{}, err
	}
	actual := min(p.SlideCount, len(sections))
	if actual == 0 {
		return Result{}, nil
	}
	sections = sections[:actual]

	var res Result
	for i, sec := range sections {
		slideRes, err := o.renderSlide(ctx, requestID, i+1, sec, res.PresentationID, p)
		if err != nil {
			if i == 0 {
				return Result{}, err
			}
			o.logger.Error("slide render failed, returning partial deck",
				"request_id", requestID, "slide", i+1, "error", err)
			return res, nil
		}
		if i == 0 {
			res.PresentationID = slideRes.PresentationID
			res.URL = slideRes.URL
			res.FirstSlideID = slideRes.SlideID
		}
		res.CreatedSlides = i + 1
	}

	// The base key is recorded only once every slide has committed, so a
	// partial deck never short-circuits a retry.
	if o.idem != nil && p.ClientRequestID != "" {
		err := o.idem.Record(requestID, idempotency.DeckRef{
			PresentationID: res.PresentationID,
			SlideID:        res.FirstSlideID,
			URL:            res.URL,
			Slides:         res.CreatedSlides,
		})
		if err != nil {
			o.logger.Warn("base idempotency record failed", "request_id", requestID, "error", err)
		}
	}

	o.logger.Info("deck complete",
		"request_id", requestID, "presentation_id", res.PresentationID, "slides", res.CreatedSlides)
	return res, nil
}

// slideSection is a section plus an optional pre-rendered chart image.
type slideSection struct {
	summarize.Section
	chartPath string
}

// planSections builds the ordered section list: report sections first,
// then one section per data question.
func (o *Orchestrator) planSections(ctx context.Context, p Params) ([]slideSection, error) {
	var sections []slideSection

	if strings.TrimSpace(p.ReportText) != "" {
		var out summarize.Output
		err := o.call(ctx, summarize.Method, summarize.Params{
			ReportText:     p.ReportText,
			MaxBullets:     o.maxBullets,
			MaxScriptChars: o.maxScript,
			MaxSections:    p.SlideCount,
			NoCache:        p.NoCache,
		}, &out)
		if err != nil {
			return nil, err
		}
		for _, sec := range out.Sections {
			sections = append(sections, slideSection{Section: sec})
		}
	}

	for _, question := range p.DataQuestions {
		var qr dataquery.Result
		err := o.call(ctx, dataquery.Method, dataquery.Params{
			DatasetID: datasetOrLatest(p.DatasetID),
			Question:  question,
			Sheet:     p.Sheet,
		}, &qr)
		if err != nil {
			return nil, err
		}
		sections = append(sections, slideSection{
			Section: summarize.Section{
				Title:   questionTitle(question),
				Bullets: qr.Insights,
				Script:  fmt.Sprintf("Data answer for: %s", question),
			},
			chartPath: qr.ChartPNGPath,
		})
	}
	return sections, nil
}

func (o *Orchestrator) renderSlide(ctx context.Context, requestID string, index int, sec slideSection, presentationID string, p Params) (deck.Result, error) {
	params := deck.Params{
		ClientRequestID:  idempotency.SlideKey(requestID, index),
		Title:            sec.Title,
		Subtitle:         sec.Subtitle,
		Bullets:          sec.Bullets,
		Script:           sec.Script,
		ShareImagePublic: p.ShareImages,
		Aspect:           "16:9",
		PresentationID:   presentationID,
	}

	switch {
	case sec.chartPath != "":
		params.ImageLocalPath = sec.chartPath
	case sec.ImagePrompt != "":
		// Best effort: a failed image just means a text-only slide.
		var img imagegen.Result
		err := o.call(ctx, imagegen.Method, imagegen.Params{
			Prompt:       sec.ImagePrompt,
			Aspect:       "16:9",
			ReturnShared: p.ShareImages,
			NoCache:      p.NoCache,
		}, &img)
		switch {
		case err != nil:
			o.logger.Warn("image generation failed, continuing without image",
				"request_id", requestID, "slide", index, "error", err)
		case img.URL != "":
			params.ImageURL = img.URL
		case img.LocalPath != "":
			params.ImageLocalPath = img.LocalPath
		}
	}

	var res deck.Result
	if err := o.call(ctx, deck.Method, params, &res); err != nil {
		return deck.Result{}, err
	}
	return res, nil
}

// call issues one tool call under the per-call timeout and decodes the
// result into out.
func (o *Orchestrator) call(ctx context.Context, method string, params, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	raw, err := o.caller.Call(callCtx, o.newID(), method, params)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return toolerr.Wrap(toolerr.Deadline, err, "%s timed out after %s", method, o.callTimeout)
		}
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return toolerr.Wrap(toolerr.InvalidOutput, err, "decode %s result", method)
	}
	return nil
}

func datasetOrLatest(id string) string {
	if id == "" {
		return "latest"
	}
	return id
}

// questionTitle derives a slide title from a data question.
func questionTitle(question string) string {
	q := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(question), "?"))
	if q == "" {
		return "Data Insight"
	}
	r := []rune(q)
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	title := string(r)
	if len([]rune(title)) > summarize.MaxTitleChars {
		title = string([]rune(title)[:summarize.MaxTitleChars])
	}
	return title
}
