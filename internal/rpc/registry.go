package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	invopop "github.com/invopop/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/presgen/internal/toolerr"
)

// Registry maps method names to handlers with strict parameter schemas.
// Methods are registered at startup; dispatch is read-only afterwards.
type Registry struct {
	methods map[string]*method
	logger  *slog.Logger
}

type method struct {
	name      string
	schemaDoc json.RawMessage
	schema    *jsv.Schema
	invoke    func(ctx context.Context, params json.RawMessage) (any, error)
}

// MethodInfo describes one registered method for tools/list.
type MethodInfo struct {
	Name        string          `json:"name"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		methods: make(map[string]*method),
		logger:  logger.With("component", "rpc"),
	}
}

// Register adds a method whose parameter schema is reflected from P.
// Unknown parameters are rejected (additionalProperties is false), so a
// request carrying extra fields fails as BadRequest before the handler runs.
func Register[P any](reg *Registry, name string, handler func(ctx context.Context, params P) (any, error)) error {
	if _, exists := reg.methods[name]; exists {
		return fmt.Errorf("method %q already registered", name)
	}

	reflector := invopop.Reflector{DoNotReference: true}
	var zero P
	doc, err := json.Marshal(reflector.Reflect(&zero))
	if err != nil {
		return fmt.Errorf("reflect schema for %q: %w", name, err)
	}
	compiled, err := jsv.CompileString(name+".schema.json", string(doc))
	if err != nil {
		return fmt.Errorf("compile schema for %q: %w", name, err)
	}

	reg.methods[name] = &method{
		name:      name,
		schemaDoc: doc,
		schema:    compiled,
		invoke: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var p P
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, toolerr.Wrap(toolerr.BadRequest, err, "malformed params")
			}
			return handler(ctx, p)
		},
	}
	return nil
}

// Methods lists the registered methods in name order.
func (r *Registry) Methods() []MethodInfo {
	out := make([]MethodInfo, 0, len(r.methods))
	for _, m := range r.methods {
		out = append(out, MethodInfo{Name: m.name, InputSchema: m.schemaDoc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DispatchLine parses one request line and returns the response frame.
// Invalid JSON yields a -32700 response with id null; unknown methods yield
// -32601; tool failures yield -32000 with "<Kind>: <message>" and no stack
// traces.
func (r *Registry) DispatchLine(ctx context.Context, line []byte) *Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(nil, CodeParseError, "Invalid JSON")
	}
	return r.Dispatch(ctx, &req)
}

// Dispatch routes a parsed request to its handler.
func (r *Registry) Dispatch(ctx context.Context, req *Request) *Response {
	m, ok := r.methods[req.Method]
	if !ok {
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}

	params := req.Params
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	if err := m.validate(params); err != nil {
		return errorResponse(req.ID, CodeToolError, toolerr.New(toolerr.BadRequest, "%s", err.Error()).Error())
	}

	result, err := m.invoke(ctx, params)
	if err != nil {
		r.logger.Error("tool failed", "method", req.Method, "error", err)
		return errorResponse(req.ID, CodeToolError, renderError(err))
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		r.logger.Error("tool result not serializable", "method", req.Method, "error", err)
		return errorResponse(req.ID, CodeToolError, "BackendPermanent: result encoding failed")
	}
	return successResponse(req.ID, encoded)
}

func (m *method) validate(params json.RawMessage) error {
	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return fmt.Errorf("params are not an object")
	}
	if err := m.schema.Validate(decoded); err != nil {
		return fmt.Errorf("invalid params for %s: %v", m.name, err)
	}
	return nil
}

// renderError formats err as "<Kind>: <message>". Unclassified errors are
// reported as BackendPermanent with their message.
func renderError(err error) string {
	return toolerr.New(toolerr.KindOf(err), "%s", errMessage(err)).Error()
}

func errMessage(err error) string {
	var te *toolerr.Error
	if errors.As(err, &te) {
		return te.Message
	}
	return err.Error()
}

// RegisterToolList exposes the registry's own method table as "tools/list".
func (r *Registry) RegisterToolList() error {
	type empty struct{}
	return Register(r, "tools/list", func(ctx context.Context, _ empty) (any, error) {
		return map[string]any{"tools": r.Methods()}, nil
	})
}
