package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/presgen/internal/orchestrator"
)

// slackMaxSkew rejects replayed requests older than five minutes.
const slackMaxSkew = 5 * time.Minute

var (
	slideCountDirective = regexp.MustCompile(`^\s*(\d+)-slide\b`)
	dataDirective       = regexp.MustCompile(`\bdata:\s*(\S+)`)
	sheetDirective      = regexp.MustCompile(`\bsheet:\s*(\S+)`)
	askDirective        = regexp.MustCompile(`\bask:\s*(.+)$`)
)

// slackRequest is the parsed slash-command payload.
type slackRequest struct {
	Slides      int
	DatasetHint string
	Sheet       string
	Questions   []string
	ReportText  string
}

// parseSlackText interprets the command mini-grammar: an optional
// leading "N-slide", then "data: <hint>", "sheet: <name>" and
// "ask: q1; q2" directives; whatever remains is the report text.
func parseSlackText(text string) slackRequest {
	req := slackRequest{Slides: 1}
	rest := text

	if m := slideCountDirective.FindStringSubmatch(rest); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			req.Slides = n
		}
		rest = strings.Replace(rest, m[0], "", 1)
	}
	if m := askDirective.FindStringSubmatch(rest); m != nil {
		for _, q := range strings.Split(m[1], ";") {
			if q = strings.TrimSpace(q); q != "" {
				req.Questions = append(req.Questions, q)
			}
		}
		rest = strings.Replace(rest, m[0], "", 1)
	}
	if m := dataDirective.FindStringSubmatch(rest); m != nil {
		req.DatasetHint = m[1]
		rest = strings.Replace(rest, m[0], "", 1)
	}
	if m := sheetDirective.FindStringSubmatch(rest); m != nil {
		req.Sheet = m[1]
		rest = strings.Replace(rest, m[0], "", 1)
	}
	req.ReportText = strings.TrimSpace(rest)
	return req
}

// verifySlackSignature checks the v0 HMAC scheme over "v0:ts:body" and
// bounds timestamp skew.
func (s *Server) verifySlackSignature(timestamp, signature string, body []byte) bool {
	if s.cfg.SlackBypassSignature {
		return true
	}
	if s.cfg.SlackSigningSecret == "" {
		return false
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	skew := s.now().Sub(time.Unix(ts, 0))
	if skew < -slackMaxSkew || skew > slackMaxSkew {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.cfg.SlackSigningSecret))
	fmt.Fprintf(mac, "v0:%s:%s", timestamp, body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (s *Server) handleSlackCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if !s.verifySlackSignature(
		r.Header.Get("X-Slack-Request-Timestamp"),
		r.Header.Get("X-Slack-Signature"),
		body,
	) {
		writeError(w, http.StatusUnauthorized, "bad signature")
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	parsed := parseSlackText(form.Get("text"))
	if parsed.ReportText == "" && len(parsed.Questions) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{
			"response_type": "ephemeral",
			"text":          "Usage: [N-slide] [data: <dataset>] [sheet: <name>] [ask: q1; q2] <report text>",
		})
		return
	}

	responseURL := form.Get("response_url")
	writeJSON(w, http.StatusOK, map[string]string{
		"response_type": "ephemeral",
		"text":          "Building your deck…",
	})

	// The deck build outlives the slash-command response window; finish
	// asynchronously and post to the response URL.
	go s.finishSlackRequest(parsed, responseURL)
}

func (s *Server) finishSlackRequest(parsed slackRequest, responseURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	res, err := s.orch.Run(ctx, orchestrator.Params{
		ReportText:    parsed.ReportText,
		SlideCount:    parsed.Slides,
		DataQuestions: parsed.Questions,
		DatasetID:     parsed.DatasetHint,
		Sheet:         parsed.Sheet,
	})

	var message string
	if err != nil {
		s.logger.Error("slack deck build failed", "error", err)
		message = fmt.Sprintf("Deck build failed: %v", err)
	} else {
		slidesCreated.Add(float64(res.CreatedSlides))
		message = fmt.Sprintf("Deck ready (%d slides): %s", res.CreatedSlides, res.URL)
	}
	s.postSlackFollowUp(ctx, responseURL, message)
}

func (s *Server) postSlackFollowUp(ctx context.Context, responseURL, text string) {
	if responseURL == "" {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"response_type": "in_channel",
		"text":          text,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, responseURL, bytes.NewReader(payload))
	if err != nil {
		s.logger.Warn("slack follow-up request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("slack follow-up post failed", "error", err)
		return
	}
	resp.Body.Close()
}
