// Package deck renders one slide into a presentation, creating the deck
// on first use. Calls are idempotent when the caller supplies a client
// request id.
package deck

import (
	"context"
	"log/slog"
	"strings"

	"github.com/haasonsaas/presgen/internal/backoff"
	"github.com/haasonsaas/presgen/internal/idempotency"
	"github.com/haasonsaas/presgen/internal/slides"
	"github.com/haasonsaas/presgen/internal/toolerr"
)

// Method is the JSON-RPC method name this tool registers under.
const Method = "slides.create"

// MaxDeckTitleChars caps the presentation title derived from the first
// slide's title and subtitle.
const MaxDeckTitleChars = 120

// Params is the slides.create request payload.
type Params struct {
	ClientRequestID  string   `json:"client_request_id,omitempty" jsonschema:"description=Idempotency key for this slide"`
	Title            string   `json:"title" jsonschema:"required"`
	Subtitle         string   `json:"subtitle,omitempty"`
	Bullets          []string `json:"bullets,omitempty"`
	Script           string   `json:"script,omitempty"`
	ImageLocalPath   string   `json:"image_local_path,omitempty"`
	ImageURL         string   `json:"image_url,omitempty"`
	ImageHandle      string   `json:"image_handle,omitempty" jsonschema:"description=Drive file id of a staged image"`
	ShareImagePublic bool     `json:"share_image_public,omitempty"`
	Aspect           string   `json:"aspect,omitempty"`
	PresentationID   string   `json:"presentation_id,omitempty" jsonschema:"description=Append to this deck instead of creating one"`
}

// Result identifies the slide that was created (or reused).
type Result struct {
	PresentationID string `json:"presentation_id"`
	SlideID        string `json:"slide_id"`
	URL            string `json:"url"`
	ReusedExisting bool   `json:"reused_existing,omitempty"`
}

// Tool implements slides.create.
type Tool struct {
	backend slides.Backend
	idem    *idempotency.Store
	policy  backoff.Policy
	sleeper backoff.Sleeper
	logger  *slog.Logger
}

// New builds the tool. idem may be nil to disable idempotency.
func New(backend slides.Backend, idem *idempotency.Store, logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{
		backend: backend,
		idem:    idem,
		policy:  backoff.DefaultPolicy(),
		sleeper: backoff.SleepWithContext,
		logger:  logger,
	}
}

// Create renders one slide. If the client request id was seen before,
// the recorded result is returned and no backend call is made.
func (t *Tool) Create(ctx context.Context, p Params) (any, error) {
	if strings.TrimSpace(p.Title) == "" {
		return nil, toolerr.New(toolerr.BadRequest, "title is required")
	}
	if n := countImageSources(p); n > 1 {
		return nil, toolerr.New(toolerr.BadRequest, "at most one of image_local_path, image_url, image_handle")
	}

	if t.idem != nil && p.ClientRequestID != "" {
		if ref, ok := t.idem.Lookup(p.ClientRequestID); ok {
			t.logger.Info("slide reused from idempotency store",
				"client_request_id", p.ClientRequestID, "presentation_id", ref.PresentationID)
			return Result{
				PresentationID: ref.PresentationID,
				SlideID:        ref.SlideID,
				URL:            ref.URL,
				ReusedExisting: true,
			}, nil
		}
	}

	presentationID := p.PresentationID
	var deckURL string
	if presentationID == "" {
		id, url, err := t.retryPair(ctx, func(ctx context.Context) (string, string, error) {
			return t.backend.CreatePresentation(ctx, deckTitle(p.Title, p.Subtitle))
		})
		if err != nil {
			return nil, err
		}
		presentationID = id
		deckURL = url
		// Best effort: a failed cleanup leaves a harmless blank slide.
		if _, err := t.backend.DeleteDefaultSlide(ctx, presentationID); err != nil {
			t.logger.Warn("could not delete default blank slide",
				"presentation_id", presentationID, "error", err)
		}
	} else {
		deckURL = slides.PresentationURL(presentationID)
	}

	imageURL, err := t.resolveImage(ctx, p)
	if err != nil {
		return nil, err
	}

	slideID, err := backoff.RetryWithSleeper(ctx, t.policy, toolerr.IsRetryable, t.sleeper, func(ctx context.Context) (string, error) {
		return t.backend.AppendSlide(ctx, presentationID, slides.SlideContent{
			Title:    p.Title,
			Subtitle: p.Subtitle,
			Bullets:  p.Bullets,
			Script:   p.Script,
			ImageURL: imageURL,
			Aspect:   p.Aspect,
		})
	})
	if err != nil {
		return nil, err
	}

	res := Result{PresentationID: presentationID, SlideID: slideID, URL: deckURL}
	if t.idem != nil && p.ClientRequestID != "" {
		err := t.idem.Record(p.ClientRequestID, idempotency.DeckRef{
			PresentationID: res.PresentationID,
			SlideID:        res.SlideID,
			URL:            res.URL,
		})
		if err != nil {
			t.logger.Warn("idempotency record failed", "client_request_id", p.ClientRequestID, "error", err)
		}
	}
	t.logger.Info("created slide", "presentation_id", presentationID, "slide_id", slideID, "has_image", imageURL != "")
	return res, nil
}

// resolveImage turns whichever image source was supplied into a URL the
// deck backend can fetch.
func (t *Tool) resolveImage(ctx context.Context, p Params) (string, error) {
	switch {
	case p.ImageLocalPath != "":
		_, url, err := t.retryPair(ctx, func(ctx context.Context) (string, string, error) {
			return t.backend.UploadPublicImage(ctx, p.ImageLocalPath, p.ShareImagePublic)
		})
		if err != nil {
			return "", err
		}
		return url, nil
	case p.ImageURL != "":
		return slides.NormalizeDriveURL(p.ImageURL), nil
	case p.ImageHandle != "":
		return slides.DriveDownloadURL(p.ImageHandle), nil
	default:
		return "", nil
	}
}

type stringPair struct {
	first  string
	second string
}

// retryPair adapts two-value backend calls to the retry primitive.
func (t *Tool) retryPair(ctx context.Context, fn func(ctx context.Context) (string, string, error)) (string, string, error) {
	p, err := backoff.RetryWithSleeper(ctx, t.policy, toolerr.IsRetryable, t.sleeper, func(ctx context.Context) (stringPair, error) {
		a, b, err := fn(ctx)
		return stringPair{first: a, second: b}, err
	})
	return p.first, p.second, err
}

func deckTitle(title, subtitle string) string {
	full := title
	if subtitle != "" {
		full = title + ": " + subtitle
	}
	r := []rune(full)
	if len(r) > MaxDeckTitleChars {
		return string(r[:MaxDeckTitleChars])
	}
	return full
}

func countImageSources(p Params) int {
	n := 0
	for _, s := range []string{p.ImageLocalPath, p.ImageURL, p.ImageHandle} {
		if s != "" {
			n++
		}
	}
	return n
}
