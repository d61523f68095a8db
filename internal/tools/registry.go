// Package tools implements the static tool registry and its built-in
// handlers: sandboxed workspace file operations (fs://), profile-backed
// managed fields (managed://), memory appends, and heartbeat scheduling.
//
// Handlers are pure with respect to session state: they never mutate a
// session directly, all effects propagate back through TaskDone triggers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/AcrylicShrimp/fathom/internal/profile"
	"github.com/AcrylicShrimp/fathom/pkg/models"
)

// Invocation carries per-call context into a handler.
type Invocation struct {
	// SessionID identifies the owning session.
	SessionID string
	// WorkspaceRoot bounds fs:// resolution.
	WorkspaceRoot string
	// Profiles is the canonical profile store for managed:// access.
	Profiles *profile.Store
	// Enqueue posts a trigger back to the owning session. It may be called
	// after the handler returns (delayed heartbeats).
	Enqueue func(trigger models.Trigger) error
}

// Handler executes one tool. Execute returns the structured JSON result or a
// classified *Error.
type Handler interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, inv Invocation, args json.RawMessage) (json.RawMessage, error)
}

// Registry is the static mapping from tool name to handler. Registered once
// at startup; lookups are read-mostly.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	schemas  map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// DefaultRegistry builds the registry with all built-in handlers.
func DefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	builtins := []Handler{
		&ListTool{}, &ReadTool{}, &WriteTool{}, &ReplaceTool{},
		&MemoryAppendTool{}, &ScheduleHeartbeatTool{},
	}
	for _, h := range builtins {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a handler and compiles its parameter schema.
func (r *Registry) Register(h Handler) error {
	compiler := jsonschema.NewCompiler()
	url := h.Name() + ".schema.json"
	if err := compiler.AddResource(url, strings.NewReader(string(h.Schema()))); err != nil {
		return fmt.Errorf("add schema for %s: %w", h.Name(), err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", h.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
	r.schemas[h.Name()] = schema
	return nil
}

// Get returns a handler by name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered tool names, unordered.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Handlers returns all registered handlers for building provider tool
// definitions.
func (r *Registry) Handlers() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}
	return out
}

// Validate checks raw arguments against the tool's compiled schema.
func (r *Registry) Validate(name string, args json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return Errorf(ErrUnknownTool, "unknown tool %q", name)
	}

	var value any
	if err := json.Unmarshal(args, &value); err != nil {
		return Errorf(ErrInvalidArgs, "tool %s arguments are not valid JSON: %v", name, err)
	}
	if err := schema.Validate(value); err != nil {
		return Errorf(ErrInvalidArgs, "tool %s arguments rejected: %v", name, err)
	}
	return nil
}

// Execute validates and runs a tool by name.
func (r *Registry) Execute(ctx context.Context, inv Invocation, name string, args json.RawMessage) (json.RawMessage, error) {
	if err := r.Validate(name, args); err != nil {
		return nil, err
	}
	h, ok := r.Get(name)
	if !ok {
		return nil, Errorf(ErrUnknownTool, "unknown tool %q", name)
	}
	return h.Execute(ctx, inv, args)
}

// mustJSON marshals a handler result, panicking only on programmer error
// (the inputs are plain maps and strings).
func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("tools: marshal result: %v", err))
	}
	return data
}
