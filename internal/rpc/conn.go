package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/presgen/internal/toolerr"
)

// Caller is the dispatcher capability the orchestrator depends on. Tools
// know nothing of their callers; the orchestrator knows nothing of transports.
type Caller interface {
	// Call invokes method with params and returns the raw result. The id is
	// carried on the request frame verbatim.
	Call(ctx context.Context, id string, method string, params any) (json.RawMessage, error)
}

// DefaultCallTimeout bounds a single tool call when the caller's context
// carries no deadline.
const DefaultCallTimeout = 60 * time.Second

// Conn speaks JSON-RPC over a duplex byte stream. A single reader
// goroutine owns the scanner for the connection's lifetime and routes
// each response line to the waiting call by request id, so a timed-out
// call abandons only its channel, never the stream.
type Conn struct {
	writeMu sync.Mutex
	w       io.Writer
	r       *bufio.Scanner
	closer  io.Closer
	proc    *exec.Cmd
	logger  *slog.Logger

	readOnce sync.Once
	mu       sync.Mutex // guards pending and readErr
	pending  map[string]chan readResult
	readErr  error
}

type readResult struct {
	line []byte
	err  error
}

// NewConn wraps an existing duplex stream.
func NewConn(r io.Reader, w io.Writer, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Conn{
		w:       w,
		r:       scanner,
		logger:  logger.With("component", "rpc_conn"),
		pending: make(map[string]chan readResult),
	}
}

// StartProcess launches a tool-server subprocess and connects to its stdio.
// The subprocess persists across calls; Close sends EOF on its stdin, which
// the server treats as shutdown.
func StartProcess(ctx context.Context, logger *slog.Logger, command string, args ...string) (*Conn, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start tool server: %w", err)
	}

	conn := NewConn(stdout, stdin, logger)
	conn.closer = stdin
	conn.proc = cmd
	return conn, nil
}

// Call sends one request and blocks for its response, matched by id. On
// context expiry the call gives up its pending slot; the eventual
// response line is dropped by the read loop.
func (c *Conn) Call(ctx context.Context, id string, method string, params any) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCallTimeout)
		defer cancel()
	}

	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.BadRequest, err, "marshal params for %s", method)
	}
	req := Request{JSONRPC: Version, ID: id, Method: method, Params: encoded}
	frame, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ch := make(chan readResult, 1)
	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return nil, fmt.Errorf("connection closed: %w", err)
	}
	if _, exists := c.pending[id]; exists {
		c.mu.Unlock()
		return nil, toolerr.New(toolerr.BadRequest, "request id %q already in flight", id)
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.readOnce.Do(func() { go c.readLoop() })

	c.writeMu.Lock()
	_, err = c.w.Write(append(frame, '\n'))
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, toolerr.Wrap(toolerr.Deadline, ctx.Err(), "call %s timed out", method)
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("read response: %w", res.err)
		}
		return decodeResponse(id, method, res.line)
	}
}

// readLoop is the connection's only scanner consumer. A response whose
// call has already given up is logged and dropped. On stream end the
// terminal error fans out to every pending call and future callers.
func (c *Conn) readLoop() {
	for c.r.Scan() {
		line := c.r.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		buf := make([]byte, len(line))
		copy(buf, line)

		var probe struct {
			ID any `json:"id"`
		}
		_ = json.Unmarshal(buf, &probe)
		id, _ := probe.ID.(string)

		c.mu.Lock()
		ch, ok := c.pending[id]
		if ok {
			delete(c.pending, id)
		}
		c.mu.Unlock()
		if !ok {
			c.logger.Warn("dropping response with no waiting call", "id", id)
			continue
		}
		ch <- readResult{line: buf}
	}

	err := c.r.Err()
	if err == nil {
		err = io.EOF
	}
	c.mu.Lock()
	c.readErr = err
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- readResult{err: err}
	}
	c.mu.Unlock()
}

// Close shuts the connection down; a subprocess server exits on the EOF.
func (c *Conn) Close() error {
	var err error
	if c.closer != nil {
		err = c.closer.Close()
	}
	if c.proc != nil {
		if werr := c.proc.Wait(); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

func decodeResponse(id, method string, line []byte) (json.RawMessage, error) {
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decode response for %s: %w", method, err)
	}
	if got, ok := resp.ID.(string); ok && got != id {
		return nil, fmt.Errorf("response id %q does not match request id %q", got, id)
	}
	if resp.Error != nil {
		return nil, ParseToolError(resp.Error.Message)
	}
	return resp.Result, nil
}

// ParseToolError reconstructs the error taxonomy from the wire message
// "<Kind>: <message>". Unrecognized prefixes classify as BackendPermanent.
func ParseToolError(message string) *toolerr.Error {
	kind, rest, found := strings.Cut(message, ": ")
	if found {
		switch toolerr.Kind(kind) {
		case toolerr.BadRequest, toolerr.BackendTransient, toolerr.BackendPermanent,
			toolerr.InvalidOutput, toolerr.ResourceMissing, toolerr.Deadline:
			return toolerr.New(toolerr.Kind(kind), "%s", rest)
		}
	}
	return toolerr.New(toolerr.BackendPermanent, "%s", message)
}

// LocalCaller dispatches directly against an in-process registry. It keeps
// the same serialized-call discipline as a stream connection so ordering
// guarantees match the stdio transport.
type LocalCaller struct {
	mu  sync.Mutex
	reg *Registry
}

// NewLocalCaller wraps reg as a Caller.
func NewLocalCaller(reg *Registry) *LocalCaller {
	return &LocalCaller{reg: reg}
}

// Call dispatches the request in-process.
func (l *LocalCaller) Call(ctx context.Context, id string, method string, params any) (json.RawMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.BadRequest, err, "marshal params for %s", method)
	}
	resp := l.reg.Dispatch(ctx, &Request{JSONRPC: Version, ID: id, Method: method, Params: encoded})
	if resp.Error != nil {
		return nil, ParseToolError(resp.Error.Message)
	}
	return resp.Result, nil
}
