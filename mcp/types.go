// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/yosida95/uritemplate/v3"
)

// LatestProtocolVersion is the newest protocol version this engine speaks.
const LatestProtocolVersion = "2025-03-26"

// SupportedProtocolVersions lists every version this engine can negotiate,
// newest first.
var SupportedProtocolVersions = []string{
	"2025-03-26",
	"2024-11-05",
	"2024-10-07",
}

func isSupportedVersion(v string) bool {
	for _, s := range SupportedProtocolVersions {
		if s == v {
			return true
		}
	}
	return false
}

// negotiateVersion picks the latest version both peers support, or the
// latest version this engine supports if the peer's proposal matches none
// of them (the server side of the initialize handshake; see spec §6).
func negotiateVersion(proposed string) string {
	if isSupportedVersion(proposed) {
		return proposed
	}
	return LatestProtocolVersion
}

// Implementation identifies a client or server by name and version.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities is the capability bundle a client advertises during
// initialize.
type ClientCapabilities struct {
	Sampling     *SamplingCapability     `json:"sampling,omitempty"`
	Roots        *RootsCapability        `json:"roots,omitempty"`
	Experimental map[string]any          `json:"experimental,omitempty"`
}

type SamplingCapability struct{}

type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities is the capability bundle a server advertises during
// initialize.
type ServerCapabilities struct {
	Logging      *LoggingCapability      `json:"logging,omitempty"`
	Prompts      *PromptsCapability      `json:"prompts,omitempty"`
	Resources    *ResourcesCapability    `json:"resources,omitempty"`
	Tools        *ToolsCapability        `json:"tools,omitempty"`
	Experimental map[string]any          `json:"experimental,omitempty"`
}

type LoggingCapability struct{}

type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// mergeClientCapabilities deep-merges two client capability bundles,
// key-by-key union, as required by the spec's capability model.
func mergeClientCapabilities(a, b *ClientCapabilities) *ClientCapabilities {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	out := *a
	if out.Sampling == nil {
		out.Sampling = b.Sampling
	}
	if out.Roots == nil {
		out.Roots = b.Roots
	} else if b.Roots != nil {
		out.Roots.ListChanged = out.Roots.ListChanged || b.Roots.ListChanged
	}
	if out.Experimental == nil {
		out.Experimental = b.Experimental
	} else {
		for k, v := range b.Experimental {
			if _, ok := out.Experimental[k]; !ok {
				out.Experimental[k] = v
			}
		}
	}
	return &out
}

// mergeServerCapabilities deep-merges two server capability bundles.
func mergeServerCapabilities(a, b *ServerCapabilities) *ServerCapabilities {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	out := *a
	if out.Logging == nil {
		out.Logging = b.Logging
	}
	if out.Prompts == nil {
		out.Prompts = b.Prompts
	} else if b.Prompts != nil {
		out.Prompts.ListChanged = out.Prompts.ListChanged || b.Prompts.ListChanged
	}
	if out.Resources == nil {
		out.Resources = b.Resources
	} else if b.Resources != nil {
		out.Resources.Subscribe = out.Resources.Subscribe || b.Resources.Subscribe
		out.Resources.ListChanged = out.Resources.ListChanged || b.Resources.ListChanged
	}
	if out.Tools == nil {
		out.Tools = b.Tools
	} else if b.Tools != nil {
		out.Tools.ListChanged = out.Tools.ListChanged || b.Tools.ListChanged
	}
	if out.Experimental == nil {
		out.Experimental = b.Experimental
	} else {
		for k, v := range b.Experimental {
			if _, ok := out.Experimental[k]; !ok {
				out.Experimental[k] = v
			}
		}
	}
	return &out
}

// Tool describes a callable tool a server exposes. InputSchema and
// OutputSchema use the real JSON Schema library gopls's own MCP stack
// depends on, so "required" lists and every other schema field round-trip
// losslessly instead of through a hand-rolled schema struct.
type Tool struct {
	Name         string             `json:"name"`
	Description  string             `json:"description,omitempty"`
	InputSchema  *jsonschema.Schema `json:"inputSchema"`
	OutputSchema *jsonschema.Schema `json:"outputSchema,omitempty"`
	Annotations  *ToolAnnotations   `json:"annotations,omitempty"`
}

// ToolAnnotations are untrusted hints about a tool's behavior.
type ToolAnnotations struct {
	Title           string `json:"title,omitempty"`
	ReadOnlyHint    bool   `json:"readOnlyHint,omitempty"`
	DestructiveHint *bool  `json:"destructiveHint,omitempty"`
	IdempotentHint  bool   `json:"idempotentHint,omitempty"`
	OpenWorldHint   *bool  `json:"openWorldHint,omitempty"`
}

// PromptArgument describes one named argument a prompt accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Prompt describes a reusable prompt template a server exposes.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// Resource describes a concrete, addressable resource a server exposes.
// URI always starts with "file://" when it names a root, per the spec's
// data-model invariant; other schemes are legal for general resources.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// ResourceTemplate describes a parameterized family of resources,
// addressed via an RFC 6570 URI template.
type ResourceTemplate struct {
	URITemplate *uritemplate.Template `json:"-"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	MIMEType    string                `json:"mimeType,omitempty"`
}

// Matches reports whether uri matches this template, per RFC 6570.
func (t *ResourceTemplate) Matches(uri string) bool {
	if t.URITemplate == nil {
		return false
	}
	_, err := t.URITemplate.Match(uri)
	return err == nil
}

func (t ResourceTemplate) MarshalJSON() ([]byte, error) {
	type wire struct {
		URITemplate string `json:"uriTemplate"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		MIMEType    string `json:"mimeType,omitempty"`
	}
	tmpl := ""
	if t.URITemplate != nil {
		tmpl = t.URITemplate.Raw()
	}
	return json.Marshal(wire{tmpl, t.Name, t.Description, t.MIMEType})
}

func (t *ResourceTemplate) UnmarshalJSON(data []byte) error {
	var wire struct {
		URITemplate string `json:"uriTemplate"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		MIMEType    string `json:"mimeType,omitempty"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	tmpl, err := uritemplate.New(wire.URITemplate)
	if err != nil {
		return fmt.Errorf("invalid uriTemplate %q: %w", wire.URITemplate, err)
	}
	t.URITemplate = tmpl
	t.Name = wire.Name
	t.Description = wire.Description
	t.MIMEType = wire.MIMEType
	return nil
}

// ResourceContents is the body of a resource, either as text or as
// base64-encoded binary data.
type ResourceContents struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     []byte `json:"-"`
}

func (r ResourceContents) MarshalJSON() ([]byte, error) {
	type wire struct {
		URI      string `json:"uri"`
		MIMEType string `json:"mimeType,omitempty"`
		Text     string `json:"text,omitempty"`
		Blob     string `json:"blob,omitempty"`
	}
	w := wire{URI: r.URI, MIMEType: r.MIMEType, Text: r.Text}
	if r.Blob != nil {
		w.Blob = base64.StdEncoding.EncodeToString(r.Blob)
	}
	return json.Marshal(w)
}

func (r *ResourceContents) UnmarshalJSON(data []byte) error {
	var w struct {
		URI      string `json:"uri"`
		MIMEType string `json:"mimeType,omitempty"`
		Text     string `json:"text,omitempty"`
		Blob     string `json:"blob,omitempty"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.URI, r.MIMEType, r.Text = w.URI, w.MIMEType, w.Text
	if w.Blob != "" {
		blob, err := base64.StdEncoding.DecodeString(w.Blob)
		if err != nil {
			return fmt.Errorf("decoding blob: %w", err)
		}
		r.Blob = blob
	}
	return nil
}

// Content is the sum type carried in tool results, prompt messages, and
// sampling messages: text, image, audio, an embedded resource, or an
// unrecognized variant preserved for forward compatibility.
type Content struct {
	Type string

	Text string // Type == "text"

	Data     []byte // Type == "image" or "audio"
	MIMEType string // Type == "image" or "audio"

	Resource *ResourceContents // Type == "resource"

	Unknown json.RawMessage // any other Type
}

// TextContent builds a text Content variant.
func TextContent(text string) *Content { return &Content{Type: "text", Text: text} }

// ImageContent builds an image Content variant with base64-encoded data.
func ImageContent(data []byte, mimeType string) *Content {
	return &Content{Type: "image", Data: data, MIMEType: mimeType}
}

// AudioContent builds an audio Content variant with base64-encoded data.
func AudioContent(data []byte, mimeType string) *Content {
	return &Content{Type: "audio", Data: data, MIMEType: mimeType}
}

// EmbeddedResource builds a resource Content variant.
func EmbeddedResource(r *ResourceContents) *Content {
	return &Content{Type: "resource", Resource: r}
}

func (c Content) MarshalJSON() ([]byte, error) {
	switch c.Type {
	case "text":
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{"text", c.Text})
	case "image", "audio":
		return json.Marshal(struct {
			Type     string `json:"type"`
			Data     string `json:"data"`
			MIMEType string `json:"mimeType"`
		}{c.Type, base64.StdEncoding.EncodeToString(c.Data), c.MIMEType})
	case "resource":
		return json.Marshal(struct {
			Type     string           `json:"type"`
			Resource ResourceContents `json:"resource"`
		}{"resource", *c.Resource})
	default:
		if len(c.Unknown) > 0 {
			return c.Unknown, nil
		}
		return json.Marshal(struct {
			Type string `json:"type"`
		}{c.Type})
	}
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	c.Type = head.Type
	switch head.Type {
	case "text":
		var w struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		c.Text = w.Text
	case "image", "audio":
		var w struct {
			Data     string `json:"data"`
			MIMEType string `json:"mimeType"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		blob, err := base64.StdEncoding.DecodeString(w.Data)
		if err != nil {
			return fmt.Errorf("decoding %s content: %w", head.Type, err)
		}
		c.Data, c.MIMEType = blob, w.MIMEType
	case "resource":
		var w struct {
			Resource ResourceContents `json:"resource"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		c.Resource = &w.Resource
	default:
		c.Unknown = append(json.RawMessage(nil), data...)
	}
	return nil
}

// CallToolResult is the result of a tools/call request. Exactly one of the
// two modes is used on the wire: structured (StructuredContent set, no
// IsError) or unstructured (Content set, IsError optionally true). See
// invariant 8.
type CallToolResult struct {
	Content           []*Content     `json:"content,omitempty"`
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
	IsError           bool           `json:"-"`
}

func (r CallToolResult) MarshalJSON() ([]byte, error) {
	if r.StructuredContent != nil {
		return json.Marshal(struct {
			Content           []*Content     `json:"content,omitempty"`
			StructuredContent map[string]any `json:"structuredContent"`
		}{r.Content, r.StructuredContent})
	}
	return json.Marshal(struct {
		Content []*Content `json:"content"`
		IsError bool       `json:"isError,omitempty"`
	}{r.Content, r.IsError})
}

func (r *CallToolResult) UnmarshalJSON(data []byte) error {
	var w struct {
		Content           []*Content     `json:"content"`
		StructuredContent map[string]any `json:"structuredContent,omitempty"`
		IsError           bool           `json:"isError,omitempty"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.Content, r.StructuredContent, r.IsError = w.Content, w.StructuredContent, w.IsError
	return nil
}

// Root is a filesystem root the client exposes to the server.
type Root struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}

// Reference identifies a prompt or resource for completion requests.
type Reference struct {
	Type string `json:"type"` // "ref/prompt" or "ref/resource"
	Name string `json:"name,omitempty"`
	URI  string `json:"uri,omitempty"`
}
