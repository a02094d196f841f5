package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/presgen/internal/toolerr"
)

type echoParams struct {
	Text  string `json:"text"`
	Upper bool   `json:"upper,omitempty"`
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry(nil)
	err := Register(reg, "test.echo", func(_ context.Context, p echoParams) (any, error) {
		out := p.Text
		if p.Upper {
			out = strings.ToUpper(out)
		}
		return map[string]string{"text": out}, nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	err = Register(reg, "test.fail", func(_ context.Context, p echoParams) (any, error) {
		return nil, toolerr.New(toolerr.ResourceMissing, "dataset %s not found", p.Text)
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return reg
}

func TestDispatchSuccess(t *testing.T) {
	reg := newTestRegistry(t)

	resp := reg.DispatchLine(context.Background(), []byte(`{"jsonrpc":"2.0","id":"r1","method":"test.echo","params":{"text":"hi","upper":true}}`))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.ID != "r1" {
		t.Errorf("id = %v, want r1", resp.ID)
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if result.Text != "HI" {
		t.Errorf("text = %q, want HI", result.Text)
	}
}

func TestDispatchParseError(t *testing.T) {
	reg := newTestRegistry(t)

	resp := reg.DispatchLine(context.Background(), []byte(`{not json`))
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Fatalf("error = %+v, want code %d", resp.Error, CodeParseError)
	}
	if resp.ID != nil {
		t.Errorf("id = %v, want null", resp.ID)
	}
}

func TestDispatchMethodNotFound(t *testing.T) {
	reg := newTestRegistry(t)

	resp := reg.DispatchLine(context.Background(), []byte(`{"jsonrpc":"2.0","id":7,"method":"no.such","params":{}}`))
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("error = %+v, want code %d", resp.Error, CodeMethodNotFound)
	}
	// The request id is echoed verbatim even on errors.
	if id, ok := resp.ID.(float64); !ok || id != 7 {
		t.Errorf("id = %v, want 7", resp.ID)
	}
}

func TestDispatchRejectsUnknownParams(t *testing.T) {
	reg := newTestRegistry(t)

	resp := reg.DispatchLine(context.Background(), []byte(`{"jsonrpc":"2.0","id":"r2","method":"test.echo","params":{"text":"x","bogus":1}}`))
	if resp.Error == nil || resp.Error.Code != CodeToolError {
		t.Fatalf("error = %+v, want tool error", resp.Error)
	}
	if !strings.HasPrefix(resp.Error.Message, "BadRequest: ") {
		t.Errorf("message = %q, want BadRequest prefix", resp.Error.Message)
	}
}

func TestDispatchToolErrorEnvelope(t *testing.T) {
	reg := newTestRegistry(t)

	resp := reg.DispatchLine(context.Background(), []byte(`{"jsonrpc":"2.0","id":"r3","method":"test.fail","params":{"text":"ds_404"}}`))
	if resp.Error == nil || resp.Error.Code != CodeToolError {
		t.Fatalf("error = %+v, want code %d", resp.Error, CodeToolError)
	}
	if resp.Error.Message != "ResourceMissing: dataset ds_404 not found" {
		t.Errorf("message = %q", resp.Error.Message)
	}
	if resp.Result != nil {
		t.Error("result and error must be mutually exclusive")
	}
}

func TestServeFraming(t *testing.T) {
	reg := newTestRegistry(t)

	var in bytes.Buffer
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&in, `{"jsonrpc":"2.0","id":"req-%d","method":"test.echo","params":{"text":"t%d"}}`+"\n", i, i)
		if i == 2 {
			in.WriteString("\n   \n") // blank lines are ignored
		}
		if i == 3 {
			in.WriteString("{broken\n") // invalid JSON mid-stream
		}
	}

	var out bytes.Buffer
	if err := reg.Serve(context.Background(), &in, &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	scanner := bufio.NewScanner(&out)
	var responses []Response
	for scanner.Scan() {
		var resp Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("non-JSON response line: %q", scanner.Text())
		}
		if resp.JSONRPC != Version {
			t.Errorf("jsonrpc = %q", resp.JSONRPC)
		}
		responses = append(responses, resp)
	}

	// 5 echoes plus one parse error, in input order.
	if len(responses) != 6 {
		t.Fatalf("got %d responses, want 6", len(responses))
	}
	wantIDs := []any{"req-1", "req-2", "req-3", nil, "req-4", "req-5"}
	for i, want := range wantIDs {
		if responses[i].ID != want {
			t.Errorf("response %d id = %v, want %v", i, responses[i].ID, want)
		}
	}
	if responses[3].Error == nil || responses[3].Error.Code != CodeParseError {
		t.Errorf("response 3 = %+v, want parse error", responses[3].Error)
	}
}

func TestConnRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)

	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()
	go func() {
		_ = reg.Serve(context.Background(), serverIn, serverOut)
	}()

	conn := NewConn(clientIn, clientOut, nil)
	result, err := conn.Call(context.Background(), "call-1", "test.echo", echoParams{Text: "ping"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(result) != `{"text":"ping"}` {
		t.Errorf("result = %s", result)
	}

	_, err = conn.Call(context.Background(), "call-2", "test.fail", echoParams{Text: "ds_1"})
	var te *toolerr.Error
	if !errors.As(err, &te) || te.Kind != toolerr.ResourceMissing {
		t.Errorf("err = %v, want ResourceMissing", err)
	}
}

func TestConnAbandonedCallLeavesStreamUsable(t *testing.T) {
	reg := newTestRegistry(t)
	release := make(chan struct{})
	err := Register(reg, "test.slow", func(ctx context.Context, p echoParams) (any, error) {
		<-release
		return map[string]string{"text": "slow:" + p.Text}, nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()
	go func() {
		_ = reg.Serve(context.Background(), serverIn, serverOut)
	}()

	conn := NewConn(clientIn, clientOut, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = conn.Call(ctx, "slow-1", "test.slow", echoParams{Text: "a"})
	var te *toolerr.Error
	if !errors.As(err, &te) || te.Kind != toolerr.Deadline {
		t.Fatalf("err = %v, want Deadline", err)
	}

	// Let the server finish the abandoned call; its stale response must
	// be dropped, not handed to the next call.
	close(release)

	result, err := conn.Call(context.Background(), "fast-1", "test.echo", echoParams{Text: "fast"})
	if err != nil {
		t.Fatalf("Call after timeout: %v", err)
	}
	if string(result) != `{"text":"fast"}` {
		t.Errorf("result = %s", result)
	}
}

func TestLocalCaller(t *testing.T) {
	reg := newTestRegistry(t)
	caller := NewLocalCaller(reg)

	result, err := caller.Call(context.Background(), "id-1", "test.echo", echoParams{Text: "local"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(result) != `{"text":"local"}` {
		t.Errorf("result = %s", result)
	}
}

func TestParseToolError(t *testing.T) {
	tests := []struct {
		message string
		want    toolerr.Kind
	}{
		{"BadRequest: no image", toolerr.BadRequest},
		{"BackendTransient: status 503", toolerr.BackendTransient},
		{"InvalidOutput: schema mismatch", toolerr.InvalidOutput},
		{"something opaque", toolerr.BackendPermanent},
		{"Unknown: prefix", toolerr.BackendPermanent},
	}
	for _, tt := range tests {
		if got := ParseToolError(tt.message); got.Kind != tt.want {
			t.Errorf("ParseToolError(%q).Kind = %s, want %s", tt.message, got.Kind, tt.want)
		}
	}
}

func TestToolList(t *testing.T) {
	reg := newTestRegistry(t)
	if err := reg.RegisterToolList(); err != nil {
		t.Fatal(err)
	}

	resp := reg.DispatchLine(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`))
	if resp.Error != nil {
		t.Fatalf("error: %+v", resp.Error)
	}
	var listing struct {
		Tools []MethodInfo `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &listing); err != nil {
		t.Fatal(err)
	}
	if len(listing.Tools) != 3 {
		t.Errorf("listed %d tools, want 3", len(listing.Tools))
	}
}
