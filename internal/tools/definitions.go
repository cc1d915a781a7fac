// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// =============================================================================
// RISK TIERS
// =============================================================================

// Tier says how much confirmation a tool call needs.
type Tier int

const (
	// TierSafe runs without asking. Read-only or trivially reversible.
	TierSafe Tier = iota

	// TierAmbiguous asks unless auto-approve is on.
	TierAmbiguous

	// TierDestructive always asks.
	TierDestructive
)

// String returns the config name of the tier.
func (t Tier) String() string {
	switch t {
	case TierSafe:
		return "safe"
	case TierAmbiguous:
		return "ambiguous"
	case TierDestructive:
		return "destructive"
	default:
		return "unknown"
	}
}

// ParseTier parses a tier name.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "safe":
		return TierSafe, nil
	case "ambiguous":
		return TierAmbiguous, nil
	case "destructive":
		return TierDestructive, nil
	default:
		return TierSafe, fmt.Errorf("unknown tier %q (want safe, ambiguous or destructive)", s)
	}
}

// =============================================================================
// TOOL DEFINITION
// =============================================================================

// Handler runs a tool. A non-nil error becomes an error result; any output
// returned alongside it (partial command output, say) is kept.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// ToolSpec describes one tool. Name, Schema and Handler are required.
type ToolSpec struct {
	Name        string
	Description string

	// Tier is the default risk tier when Classify is nil.
	Tier Tier

	// Schema is the JSON Schema of the arguments object.
	Schema map[string]any

	Handler Handler

	// Classify returns the tier for specific arguments. Arguments have
	// already passed schema validation.
	Classify func(args json.RawMessage) Tier

	// Subject returns the text the risk policy patterns are matched
	// against, usually a command line. Nil means no pattern matching.
	Subject func(args json.RawMessage) string

	// Summarize describes the call for a confirmation prompt.
	Summarize func(ctx context.Context, args json.RawMessage) string

	// Precheck returns the error the call is certain to fail with, if any.
	// It runs before confirmation so the user is never asked to approve a
	// call that cannot succeed.
	Precheck func(ctx context.Context, args json.RawMessage) error
}

// Definition is what the model is told about a tool.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// =============================================================================
// REGISTRY
// =============================================================================

type registered struct {
	spec   ToolSpec
	schema *jsonschema.Schema
}

// Registry holds the available tools. It is filled at startup and frozen
// before the first dispatch.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*registered
	order  []string
	frozen bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registered)}
}

// Register compiles the tool's schema and adds it.
func (r *Registry) Register(spec ToolSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("register tool: name is required")
	}
	if spec.Handler == nil {
		return fmt.Errorf("register tool %s: handler is required", spec.Name)
	}
	if spec.Schema == nil {
		return fmt.Errorf("register tool %s: schema is required", spec.Name)
	}

	compiled, err := compileSchema(spec.Name, spec.Schema)
	if err != nil {
		return fmt.Errorf("register tool %s: %w", spec.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("register tool %s: %w", spec.Name, ErrRegistryFrozen)
	}
	if _, dup := r.tools[spec.Name]; dup {
		return fmt.Errorf("register tool %s: %w", spec.Name, ErrDuplicateTool)
	}
	r.tools[spec.Name] = &registered{spec: spec, schema: compiled}
	r.order = append(r.order, spec.Name)
	return nil
}

// MustRegister is Register for tools wired at startup.
func (r *Registry) MustRegister(spec ToolSpec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

// Freeze stops further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return ToolSpec{}, false
	}
	return t.spec, true
}

// All returns the tools in registration order.
func (r *Registry) All() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].spec)
	}
	return out
}

// Definitions returns the model-facing description of every tool.
func (r *Registry) Definitions() []Definition {
	specs := r.All()
	out := make([]Definition, 0, len(specs))
	for _, s := range specs {
		out = append(out, Definition{Name: s.Name, Description: s.Description, Parameters: s.Schema})
	}
	return out
}

// validate checks raw arguments against the tool's compiled schema.
func (r *Registry) validate(name string, args json.RawMessage) error {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown tool %s", name)
	}
	return validateArgs(name, t.schema, args)
}
