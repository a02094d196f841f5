// Package rpc implements the tool-call protocol: a JSON-RPC 2.0 registry and
// dispatcher served over a line-delimited duplex stream, plus the client
// connection the orchestrator uses to invoke tools.
package rpc

import "encoding/json"

// Version is the JSON-RPC protocol version carried on every frame.
const Version = "2.0"

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response. Result and Error are mutually
// exclusive; ID always echoes the request's id verbatim, including null.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is a JSON-RPC 2.0 error.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard JSON-RPC error codes used by the dispatcher.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeToolError      = -32000
)

func errorResponse(id any, code int, message string) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: &ErrorObject{Code: code, Message: message}}
}

func successResponse(id any, result json.RawMessage) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}
