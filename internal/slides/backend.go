// Package slides abstracts the deck rendering backend. The deck tool
// depends on the Backend interface; the Google Slides/Drive implementation
// lives in google.go and tests substitute a fake.
package slides

import (
	"context"
	"fmt"
)

// SlideContent is everything needed to lay out one slide.
type SlideContent struct {
	Title    string
	Subtitle string
	Bullets  []string
	Script   string
	// ImageURL is a publicly fetchable image URL, or empty for no image.
	ImageURL string
	Aspect   string
}

// Backend is the deck rendering capability.
type Backend interface {
	// CreatePresentation creates an empty deck and returns its id and URL.
	CreatePresentation(ctx context.Context, title string) (presentationID, url string, err error)
	// DeleteDefaultSlide removes the blank slide the backend auto-creates.
	// Returns the deleted slide's id.
	DeleteDefaultSlide(ctx context.Context, presentationID string) (string, error)
	// AppendSlide adds one slide at the end of the deck and returns its id.
	AppendSlide(ctx context.Context, presentationID string, content SlideContent) (slideID string, err error)
	// UploadPublicImage stores a local image where the deck backend can
	// fetch it and returns the file handle and public URL.
	UploadPublicImage(ctx context.Context, localPath string, makePublic bool) (fileID, publicURL string, err error)
}

// PresentationURL renders the canonical edit URL for a presentation id.
func PresentationURL(presentationID string) string {
	return fmt.Sprintf("https://docs.google.com/presentation/d/%s/edit", presentationID)
}
