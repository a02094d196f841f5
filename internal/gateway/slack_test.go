package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/presgen/internal/orchestrator"
)

func TestParseSlackText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want slackRequest
	}{
		{
			"plain report",
			"our Q3 results were strong",
			slackRequest{Slides: 1, ReportText: "our Q3 results were strong"},
		},
		{
			"slide count",
			"3-slide our Q3 results",
			slackRequest{Slides: 3, ReportText: "our Q3 results"},
		},
		{
			"full grammar",
			"2-slide data: latest sheet: sales ask: top 5 companies by total; sales by region quarterly recap",
			slackRequest{
				Slides:      2,
				DatasetHint: "latest",
				Sheet:       "sales",
				Questions:   []string{"top 5 companies by total", "sales by region quarterly recap"},
			},
		},
		{
			"ask only",
			"data: ds_12ab34cd ask: what is the total sales",
			slackRequest{
				Slides:      1,
				DatasetHint: "ds_12ab34cd",
				Questions:   []string{"what is the total sales"},
			},
		},
		{
			"empty",
			"   ",
			slackRequest{Slides: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseSlackText(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseSlackText(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func signSlack(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", timestamp, body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func slackServer(runner Runner) *Server {
	srv := NewServer(Config{SlackSigningSecret: "shhh"}, runner, nil, nil)
	return srv
}

func postSlack(t *testing.T, srv *Server, body []byte, timestamp, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/slack/command", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", timestamp)
	req.Header.Set("X-Slack-Signature", signature)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSlackCommandVerifiesSignature(t *testing.T) {
	srv := slackServer(&fakeRunner{})
	now := time.Now()
	srv.now = func() time.Time { return now }
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(url.Values{"text": {"hello"}}.Encode())

	rec := postSlack(t, srv, body, ts, signSlack("shhh", ts, body))
	if rec.Code != http.StatusOK {
		t.Errorf("valid signature status = %d", rec.Code)
	}

	rec = postSlack(t, srv, body, ts, signSlack("wrong-secret", ts, body))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad signature status = %d, want 401", rec.Code)
	}
}

func TestSlackCommandBypassSignature(t *testing.T) {
	srv := NewServer(Config{SlackBypassSignature: true}, &fakeRunner{}, nil, nil)
	now := time.Now()
	srv.now = func() time.Time { return now }
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(url.Values{"text": {"hello"}}.Encode())

	rec := postSlack(t, srv, body, ts, "v0=not-a-real-signature")
	if rec.Code != http.StatusOK {
		t.Errorf("bypass status = %d, want 200", rec.Code)
	}
}

func TestSlackCommandRejectsStaleTimestamp(t *testing.T) {
	srv := slackServer(&fakeRunner{})
	now := time.Now()
	srv.now = func() time.Time { return now }
	stale := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
	body := []byte(url.Values{"text": {"hello"}}.Encode())

	rec := postSlack(t, srv, body, stale, signSlack("shhh", stale, body))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("stale timestamp status = %d, want 401", rec.Code)
	}
}

func TestSlackCommandUsageOnEmptyText(t *testing.T) {
	runner := &fakeRunner{}
	srv := slackServer(runner)
	now := time.Now()
	srv.now = func() time.Time { return now }
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(url.Values{"text": {"  "}}.Encode())

	rec := postSlack(t, srv, body, ts, signSlack("shhh", ts, body))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Usage:") {
		t.Errorf("usage response = %d %s", rec.Code, rec.Body.String())
	}
	if runner.calls != 0 {
		t.Errorf("orchestrator invoked on empty command")
	}
}

func TestSlackFollowUpPosted(t *testing.T) {
	followUp := make(chan string, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 4096)
		n, _ := r.Body.Read(buf)
		followUp <- string(buf[:n])
	}))
	defer hook.Close()

	runner := &fakeRunner{result: orchestrator.Result{
		URL:           "https://docs.google.com/presentation/d/p1/edit",
		CreatedSlides: 2,
	}}
	srv := slackServer(runner)
	now := time.Now()
	srv.now = func() time.Time { return now }
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(url.Values{
		"text":         {"2-slide quarterly recap"},
		"response_url": {hook.URL},
	}.Encode())

	rec := postSlack(t, srv, body, ts, signSlack("shhh", ts, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	select {
	case posted := <-followUp:
		if !strings.Contains(posted, "Deck ready (2 slides)") {
			t.Errorf("follow-up = %s", posted)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("follow-up never posted")
	}
}
