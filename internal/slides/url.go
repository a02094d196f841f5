package slides

import (
	"fmt"
	"regexp"
)

var driveFilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`drive\.google\.com/file/d/([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`drive\.google\.com/open\?id=([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`drive\.google\.com/uc\?[^#]*\bid=([A-Za-z0-9_-]+)`),
}

// NormalizeDriveURL rewrites Google Drive share/viewer URLs into the
// direct-download form the Slides API can fetch. Any other URL passes
// through unchanged.
func NormalizeDriveURL(raw string) string {
	for _, pat := range driveFilePatterns {
		if m := pat.FindStringSubmatch(raw); m != nil {
			return DriveDownloadURL(m[1])
		}
	}
	return raw
}

// DriveDownloadURL renders the direct-download URL for a Drive file id.
func DriveDownloadURL(fileID string) string {
	return fmt.Sprintf("https://drive.google.com/uc?export=download&id=%s", fileID)
}
