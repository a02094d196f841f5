package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// maxLineBytes bounds a single request frame. Reports embedded in params can
// be large, so the buffer is generous.
const maxLineBytes = 8 * 1024 * 1024

// Serve reads newline-delimited JSON-RPC requests from r and writes one
// response per line to w. Requests on a connection are processed strictly
// serially, so responses never interleave and arrive in request order.
// Blank lines are skipped; invalid JSON produces a -32700 response and
// processing continues. EOF is the shutdown signal: any in-flight call is
// drained and Serve returns nil.
func (reg *Registry) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	out := bufio.NewWriter(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		resp := reg.DispatchLine(ctx, line)
		if err := writeFrame(out, resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	return nil
}

func writeFrame(w *bufio.Writer, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
