// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// =============================================================================
// SCHEMA REFLECTION
// =============================================================================

var reflector = &invopop.Reflector{
	DoNotReference: true,
	ExpandedStruct: true,
}

// SchemaFor reflects the JSON Schema of T's JSON form. Fields without
// omitempty are required; descriptions come from jsonschema_description tags.
func SchemaFor[T any]() map[string]any {
	var zero T
	s := reflector.Reflect(&zero)
	raw, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("reflect schema for %T: %v", zero, err))
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		panic(fmt.Sprintf("reflect schema for %T: %v", zero, err))
	}
	// Chat APIs reject the meta keywords in function parameters.
	delete(m, "$schema")
	delete(m, "$id")
	return m
}

// Typed adapts a handler that takes decoded arguments.
func Typed[T any](fn func(ctx context.Context, args T) (string, error)) Handler {
	return func(ctx context.Context, raw json.RawMessage) (string, error) {
		var args T
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", &SchemaError{Msg: "decode arguments", Err: err}
		}
		return fn(ctx, args)
	}
}

// NewTool builds a ToolSpec whose schema is reflected from T.
func NewTool[T any](name, description string, tier Tier, fn func(ctx context.Context, args T) (string, error)) ToolSpec {
	return ToolSpec{
		Name:        name,
		Description: description,
		Tier:        tier,
		Schema:      SchemaFor[T](),
		Handler:     Typed(fn),
	}
}

// decodeArgs decodes already-validated arguments, returning the zero value
// on failure. Used by classifiers and summarizers.
func decodeArgs[T any](raw json.RawMessage) T {
	var args T
	_ = json.Unmarshal(raw, &args)
	return args
}

// =============================================================================
// VALIDATION
// =============================================================================

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	url := "mem:///tools/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

func validateArgs(tool string, schema *jsonschema.Schema, args json.RawMessage) error {
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return &SchemaError{Tool: tool, Msg: "arguments are not valid JSON", Err: err}
	}
	if err := schema.Validate(inst); err != nil {
		return &SchemaError{Tool: tool, Msg: flattenValidation(err), Err: err}
	}
	return nil
}

// flattenValidation renders a validation error on one line per cause.
func flattenValidation(err error) string {
	msg := err.Error()
	lines := strings.Split(msg, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "; ")
}
