package slides

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	slidesapi "google.golang.org/api/slides/v1"

	"github.com/haasonsaas/presgen/internal/toolerr"
)

// Slide geometry in EMU on the default 10in x 5.63in (16:9) page.
const (
	pageWidthEMU  = 9144000
	pageHeightEMU = 5143500

	titleX = 457200
	titleY = 274638
	titleW = 8229600
	titleH = 609600

	subtitleY = 914400
	subtitleH = 457200

	bodyX     = 457200
	bodyY     = 1485900
	bodyWFull = 8229600
	bodyWHalf = 3886200
	bodyH     = 3200400

	imageX = 4800600
	imageY = 1485900
	imageW = 3886200
	imageH = 2857500

	scriptBoxY = 4800600
	scriptBoxH = 274638
)

// GoogleBackend renders decks with the Google Slides API and stages
// images through Google Drive.
type GoogleBackend struct {
	slides *slidesapi.Service
	drive  *drive.Service
	logger *slog.Logger
}

// NewGoogleBackend builds a backend from a stored OAuth2 token file
// (the JSON produced by a prior authorization flow).
func NewGoogleBackend(ctx context.Context, tokenFile string, logger *slog.Logger) (*GoogleBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	raw, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("slides: read token file: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("slides: parse token file: %w", err)
	}
	ts := oauth2.StaticTokenSource(&token)

	slidesSrv, err := slidesapi.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("slides: create slides service: %w", err)
	}
	driveSrv, err := drive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("slides: create drive service: %w", err)
	}
	return &GoogleBackend{slides: slidesSrv, drive: driveSrv, logger: logger}, nil
}

// CreatePresentation creates an empty deck.
func (b *GoogleBackend) CreatePresentation(ctx context.Context, title string) (string, string, error) {
	pres, err := b.slides.Presentations.Create(&slidesapi.Presentation{Title: title}).Context(ctx).Do()
	if err != nil {
		return "", "", classifyGoogleError(err)
	}
	b.logger.Info("created presentation", "presentation_id", pres.PresentationId, "title", title)
	return pres.PresentationId, PresentationURL(pres.PresentationId), nil
}

// DeleteDefaultSlide removes the blank slide Slides auto-creates with a
// new presentation so the first real slide lands at position zero.
func (b *GoogleBackend) DeleteDefaultSlide(ctx context.Context, presentationID string) (string, error) {
	pres, err := b.slides.Presentations.Get(presentationID).Fields("slides.objectId").Context(ctx).Do()
	if err != nil {
		return "", classifyGoogleError(err)
	}
	if len(pres.Slides) == 0 {
		return "", nil
	}
	slideID := pres.Slides[0].ObjectId
	_, err = b.batchUpdate(ctx, presentationID, []*slidesapi.Request{
		{DeleteObject: &slidesapi.DeleteObjectRequest{ObjectId: slideID}},
	})
	if err != nil {
		return "", err
	}
	return slideID, nil
}

// AppendSlide adds one laid-out slide at the end of the deck.
func (b *GoogleBackend) AppendSlide(ctx context.Context, presentationID string, content SlideContent) (string, error) {
	slideID := "slide_" + shortID()
	titleID := "title_" + shortID()
	subtitleID := "subtitle_" + shortID()
	bodyID := "body_" + shortID()

	reqs := []*slidesapi.Request{{
		CreateSlide: &slidesapi.CreateSlideRequest{
			ObjectId: slideID,
			SlideLayoutReference: &slidesapi.LayoutReference{
				PredefinedLayout: "BLANK",
			},
		},
	}}

	reqs = append(reqs, textBoxRequests(titleID, slideID, titleX, titleY, titleW, titleH, content.Title)...)
	reqs = append(reqs, &slidesapi.Request{
		UpdateTextStyle: &slidesapi.UpdateTextStyleRequest{
			ObjectId: titleID,
			Style: &slidesapi.TextStyle{
				Bold:     true,
				FontSize: &slidesapi.Dimension{Magnitude: 28, Unit: "PT"},
			},
			TextRange: &slidesapi.Range{Type: "ALL"},
			Fields:    "bold,fontSize",
		},
	})

	if content.Subtitle != "" {
		reqs = append(reqs, textBoxRequests(subtitleID, slideID, titleX, subtitleY, titleW, subtitleH, content.Subtitle)...)
		reqs = append(reqs, &slidesapi.Request{
			UpdateTextStyle: &slidesapi.UpdateTextStyleRequest{
				ObjectId:  subtitleID,
				Style:     &slidesapi.TextStyle{FontSize: &slidesapi.Dimension{Magnitude: 16, Unit: "PT"}},
				TextRange: &slidesapi.Range{Type: "ALL"},
				Fields:    "fontSize",
			},
		})
	}

	if len(content.Bullets) > 0 {
		bodyW := float64(bodyWFull)
		if content.ImageURL != "" {
			bodyW = bodyWHalf
		}
		reqs = append(reqs, textBoxRequests(bodyID, slideID, bodyX, bodyY, bodyW, bodyH, strings.Join(content.Bullets, "\n"))...)
		reqs = append(reqs, &slidesapi.Request{
			CreateParagraphBullets: &slidesapi.CreateParagraphBulletsRequest{
				ObjectId:     bodyID,
				TextRange:    &slidesapi.Range{Type: "ALL"},
				BulletPreset: "BULLET_DISC_CIRCLE_SQUARE",
			},
		})
	}

	if content.ImageURL != "" {
		reqs = append(reqs, &slidesapi.Request{
			CreateImage: &slidesapi.CreateImageRequest{
				Url:               NormalizeDriveURL(content.ImageURL),
				ElementProperties: elementProps(slideID, imageX, imageY, imageW, imageH),
			},
		})
	}

	if _, err := b.batchUpdate(ctx, presentationID, reqs); err != nil {
		return "", err
	}

	if content.Script != "" {
		if err := b.setSpeakerNotes(ctx, presentationID, slideID, content.Script); err != nil {
			b.logger.Warn("speaker notes unavailable, adding script text box",
				"presentation_id", presentationID, "slide_id", slideID, "error", err)
			if fbErr := b.addScriptTextBox(ctx, presentationID, slideID, content.Script); fbErr != nil {
				return "", fbErr
			}
		}
	}

	return slideID, nil
}

// setSpeakerNotes writes the presenter script into the slide's notes page.
func (b *GoogleBackend) setSpeakerNotes(ctx context.Context, presentationID, slideID, script string) error {
	pres, err := b.slides.Presentations.Get(presentationID).
		Fields("slides(objectId,slideProperties.notesPage.notesProperties.speakerNotesObjectId)").
		Context(ctx).Do()
	if err != nil {
		return classifyGoogleError(err)
	}
	var notesID string
	for _, s := range pres.Slides {
		if s.ObjectId != slideID {
			continue
		}
		if s.SlideProperties != nil && s.SlideProperties.NotesPage != nil &&
			s.SlideProperties.NotesPage.NotesProperties != nil {
			notesID = s.SlideProperties.NotesPage.NotesProperties.SpeakerNotesObjectId
		}
	}
	if notesID == "" {
		return fmt.Errorf("slide %s has no speaker notes shape", slideID)
	}
	_, err = b.batchUpdate(ctx, presentationID, []*slidesapi.Request{{
		InsertText: &slidesapi.InsertTextRequest{ObjectId: notesID, InsertionIndex: 0, Text: script},
	}})
	return err
}

// addScriptTextBox is the visible fallback when the notes shape cannot be
// resolved: a small labelled text box at the slide's bottom edge.
func (b *GoogleBackend) addScriptTextBox(ctx context.Context, presentationID, slideID, script string) error {
	boxID := "script_" + shortID()
	reqs := textBoxRequests(boxID, slideID, titleX, scriptBoxY, titleW, scriptBoxH, "Presenter Script: "+script)
	reqs = append(reqs, &slidesapi.Request{
		UpdateTextStyle: &slidesapi.UpdateTextStyleRequest{
			ObjectId:  boxID,
			Style:     &slidesapi.TextStyle{FontSize: &slidesapi.Dimension{Magnitude: 8, Unit: "PT"}},
			TextRange: &slidesapi.Range{Type: "ALL"},
			Fields:    "fontSize",
		},
	})
	_, err := b.batchUpdate(ctx, presentationID, reqs)
	return err
}

// UploadPublicImage stages a local image in Drive and returns a URL the
// Slides API can fetch.
func (b *GoogleBackend) UploadPublicImage(ctx context.Context, localPath string, makePublic bool) (string, string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", "", toolerr.Wrap(toolerr.ResourceMissing, err, "open image %s", localPath)
	}
	defer f.Close()

	file, err := b.drive.Files.Create(&drive.File{
		Name:     filepath.Base(localPath),
		MimeType: "image/png",
	}).Media(f).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", "", classifyGoogleError(err)
	}

	if makePublic {
		_, err = b.drive.Permissions.Create(file.Id, &drive.Permission{
			Type: "anyone",
			Role: "reader",
		}).Context(ctx).Do()
		if err != nil {
			return "", "", classifyGoogleError(err)
		}
	}

	url := DriveDownloadURL(file.Id)
	b.logger.Info("uploaded image to drive", "file_id", file.Id, "public", makePublic)
	return file.Id, url, nil
}

func (b *GoogleBackend) batchUpdate(ctx context.Context, presentationID string, reqs []*slidesapi.Request) (*slidesapi.BatchUpdatePresentationResponse, error) {
	resp, err := b.slides.Presentations.BatchUpdate(presentationID, &slidesapi.BatchUpdatePresentationRequest{
		Requests: reqs,
	}).Context(ctx).Do()
	if err != nil {
		return nil, classifyGoogleError(err)
	}
	return resp, nil
}

func textBoxRequests(objectID, pageID string, x, y, w, h float64, text string) []*slidesapi.Request {
	return []*slidesapi.Request{
		{
			CreateShape: &slidesapi.CreateShapeRequest{
				ObjectId:          objectID,
				ShapeType:         "TEXT_BOX",
				ElementProperties: elementProps(pageID, x, y, w, h),
			},
		},
		{
			InsertText: &slidesapi.InsertTextRequest{
				ObjectId:       objectID,
				InsertionIndex: 0,
				Text:           text,
			},
		},
	}
}

func elementProps(pageID string, x, y, w, h float64) *slidesapi.PageElementProperties {
	return &slidesapi.PageElementProperties{
		PageObjectId: pageID,
		Size: &slidesapi.Size{
			Width:  &slidesapi.Dimension{Magnitude: w, Unit: "EMU"},
			Height: &slidesapi.Dimension{Magnitude: h, Unit: "EMU"},
		},
		Transform: &slidesapi.AffineTransform{
			ScaleX:     1,
			ScaleY:     1,
			TranslateX: x,
			TranslateY: y,
			Unit:       "EMU",
		},
	}
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func classifyGoogleError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return toolerr.FromStatus(apiErr.Code, apiErr.Message)
	}
	return toolerr.Wrap(toolerr.BackendPermanent, err, "slides api: %v", err)
}
