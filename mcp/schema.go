// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/google/jsonschema-go/jsonschema"
)

// validate is the shared struct validator used to check decoded tool
// arguments against Go "validate" struct tags, the same way AleutianFOSS
// wires go-playground/validator around its Gin handlers (see SPEC_FULL.md
// 4.D). Arguments are not checked against the tool's JSON Schema: the
// strict decode in decodeToolArgs rejects unknown fields, and this
// validator then checks the struct tags (required, min, max, oneof, ...).
var validate = validator.New(validator.WithRequiredStructEnabled())

// schemaFor infers a JSON Schema document for Go type T using
// jsonschema-go's reflection-based inference, the same dependency
// gopls's own MCP stack already requires.
func schemaFor[T any]() (*jsonschema.Schema, error) {
	return jsonschema.For[T](nil)
}

// decodeToolArgs unmarshals raw tool-call arguments into v, rejecting
// unknown fields (so a schema mismatch on the client side can never be
// silently ignored by json.Unmarshal), then runs struct-tag validation.
func decodeToolArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("unmarshaling tool arguments: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		if _, ok := err.(*validator.InvalidValidationError); ok {
			return nil // v isn't a struct (e.g. map[string]any); nothing to validate
		}
		return fmt.Errorf("validating tool arguments: %w", err)
	}
	return nil
}

// A ToolOption configures a *Tool built by NewTool.
type ToolOption interface{ apply(*Tool) }

type toolOptionFunc func(*Tool)

func (f toolOptionFunc) apply(t *Tool) { f(t) }

// WithDescription sets a tool's description.
func WithDescription(desc string) ToolOption {
	return toolOptionFunc(func(t *Tool) { t.Description = desc })
}

// WithAnnotations attaches behavior hints to a tool.
func WithAnnotations(a ToolAnnotations) ToolOption {
	return toolOptionFunc(func(t *Tool) { t.Annotations = &a })
}

// WithInputSchema overrides the inferred input schema.
func WithInputSchema(s *jsonschema.Schema) ToolOption {
	return toolOptionFunc(func(t *Tool) { t.InputSchema = s })
}

// RequireProperties marks the given property names as required on the
// tool's inferred input schema, in addition to whatever jsonschema-go's
// inference already marked required from Go struct tags.
func RequireProperties(names ...string) ToolOption {
	return toolOptionFunc(func(t *Tool) {
		if t.InputSchema == nil {
			return
		}
		for _, n := range names {
			if !slices.Contains(t.InputSchema.Required, n) {
				t.InputSchema.Required = append(t.InputSchema.Required, n)
			}
		}
	})
}

// NewTool infers a JSON Schema for In via reflection and builds a Tool
// descriptor for it. Required-field preservation (invariant 6 in
// SPEC_FULL.md §8 / S-6) flows entirely from jsonschema-go's inference.
func NewTool[In any](name string, opts ...ToolOption) (*Tool, error) {
	schema, err := schemaFor[In]()
	if err != nil {
		return nil, fmt.Errorf("inferring schema for tool %q: %w", name, err)
	}
	t := &Tool{Name: name, InputSchema: schema}
	for _, o := range opts {
		o.apply(t)
	}
	return t, nil
}
