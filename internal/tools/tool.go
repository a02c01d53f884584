// Package tools defines the capabilities the agent may invoke during a turn:
// reference lookups, demographic checks, claim mutations, evidence
// highlights and follow-up suggestions.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/firstclaim/claim-engine/internal/agent"
	"github.com/firstclaim/claim-engine/internal/domain"
)

// Result is the outcome of one invocation. Text goes back to the agent;
// Summary is the short form shown in progress feeds.
type Result struct {
	Text    string
	Summary string
	IsError bool
}

// Handler runs one invocation against the turn state.
type Handler func(ctx context.Context, st *TurnState, input json.RawMessage) (Result, error)

// Tool is one named capability with its argument schema.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage

	// ReadOnly tools touch neither the claim nor the turn state and may run
	// concurrently with each other.
	ReadOnly bool

	Execute Handler
}

// Registry errors.
var (
	ErrToolNameEmpty         = errors.New("tool name cannot be empty")
	ErrToolExecuteNil        = errors.New("tool execute function cannot be nil")
	ErrToolAlreadyRegistered = errors.New("tool already registered")
)

// Registry holds tools in registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t *Tool) error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// MustRegister registers a tool and panics on error.
func (r *Registry) MustRegister(t *Tool) {
	if err := r.Register(t); err != nil {
		panic(fmt.Sprintf("register tool %s: %v", t.Name, err))
	}
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names lists registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Specs describes every tool to the agent.
func (r *Registry) Specs() []agent.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]agent.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		specs = append(specs, agent.ToolSpec{Name: t.Name, Description: t.Description, Schema: t.Schema})
	}
	return specs
}

// decodeArgs strictly decodes a tool's JSON arguments into v.
func decodeArgs(input json.RawMessage, v any) error {
	if len(bytes.TrimSpace(input)) == 0 {
		input = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.WrapEngineError(domain.ErrInvalidToolArgs.Code, "invalid arguments", err)
	}
	return nil
}

// errorText renders err for the agent without the numeric code.
func errorText(err error) string {
	var ee *domain.EngineError
	if errors.As(err, &ee) {
		return "Error: " + ee.Message
	}
	return "Error: " + err.Error()
}
