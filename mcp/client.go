// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

// Client is an MCP client: the host-side facade that discovers and
// invokes tools, resources, and prompts on a connected server, while
// answering the server-initiated operations (sampling, roots) the
// protocol allows.
type Client struct {
	name    string
	version string
	opts    ClientOptions

	mu       sync.Mutex
	roots    map[string]*Root
	sessions []*ClientSession
}

// ClientOptions configures a Client's behavior.
type ClientOptions struct {
	// CreateMessageHandler answers sampling/createMessage requests from a
	// connected server. If nil, the client does not advertise the
	// sampling capability and any such request fails with
	// MethodNotFound.
	CreateMessageHandler func(context.Context, *ClientSession, *CreateMessageParams) (*CreateMessageResult, error)

	// LoggingMessageHandler receives notifications/message log records
	// forwarded by a connected server.
	LoggingMessageHandler func(context.Context, *ClientSession, *LoggingMessageParams)

	// EnforceStrictCapabilities is passed to the session's Connection,
	// which runs its AssertCapabilityForMethod hook before each outbound
	// request when the flag is set. The Client installs no capability
	// hooks, so no outbound call is rejected locally because of the
	// peer's advertised capabilities.
	EnforceStrictCapabilities bool
}

// NewClient creates a Client. Use [Client.Connect] to attach it to a
// server over a Transport.
func NewClient(name, version string, opts *ClientOptions) *Client {
	c := &Client{name: name, version: version, roots: make(map[string]*Root)}
	if opts != nil {
		c.opts = *opts
	}
	return c
}

// AddRoots adds roots to the client's root set, replacing any with the
// same URI, and notifies every connected server of the change.
func (c *Client) AddRoots(roots ...*Root) {
	c.mu.Lock()
	for _, r := range roots {
		c.roots[r.URI] = r
	}
	sessions := slices.Clone(c.sessions)
	c.mu.Unlock()
	c.notifyRootsChanged(sessions)
}

// RemoveRoots removes the roots with the given URIs. It is not an error
// to remove a URI that isn't present.
func (c *Client) RemoveRoots(uris ...string) {
	c.mu.Lock()
	for _, u := range uris {
		delete(c.roots, u)
	}
	sessions := slices.Clone(c.sessions)
	c.mu.Unlock()
	c.notifyRootsChanged(sessions)
}

func (c *Client) notifyRootsChanged(sessions []*ClientSession) {
	for _, cs := range sessions {
		_ = cs.conn.Notify(context.Background(), "notifications/roots/list_changed", &RootsListChangedParams{})
	}
}

func (c *Client) listRoots() []*Root {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Root, 0, len(c.roots))
	for _, r := range c.roots {
		out = append(out, r)
	}
	return out
}

func (c *Client) buildRegistry() *Registry {
	reg := NewRegistry()
	RegisterRequest(reg, "roots/list", func(ctx context.Context, conn *Connection, p *ListRootsParams) (*ListRootsResult, error) {
		return &ListRootsResult{Roots: c.listRoots()}, nil
	})
	if c.opts.CreateMessageHandler != nil {
		RegisterRequest(reg, "sampling/createMessage", func(ctx context.Context, conn *Connection, p *CreateMessageParams) (*CreateMessageResult, error) {
			cs := conn.session.(*ClientSession)
			return c.opts.CreateMessageHandler(ctx, cs, p)
		})
	}
	RegisterNotification(reg, "notifications/message", func(ctx context.Context, conn *Connection, p *LoggingMessageParams) error {
		if c.opts.LoggingMessageHandler != nil {
			cs := conn.session.(*ClientSession)
			c.opts.LoggingMessageHandler(ctx, cs, p)
		}
		return nil
	})
	RegisterNotification(reg, "notifications/tools/list_changed", func(ctx context.Context, conn *Connection, p *ToolListChangedParams) error { return nil })
	RegisterNotification(reg, "notifications/prompts/list_changed", func(ctx context.Context, conn *Connection, p *PromptListChangedParams) error { return nil })
	RegisterNotification(reg, "notifications/resources/list_changed", func(ctx context.Context, conn *Connection, p *ResourceListChangedParams) error { return nil })
	RegisterNotification(reg, "notifications/resources/updated", func(ctx context.Context, conn *Connection, p *ResourceUpdatedParams) error { return nil })
	return reg
}

// Connect dials t, performs the initialize handshake, and returns the
// resulting session. The caller is responsible for closing the session
// when done.
func (c *Client) Connect(ctx context.Context, t Transport) (*ClientSession, error) {
	cs := &ClientSession{client: c}
	conn := Connect(t, ConnectionOptions{
		Registry:                  c.buildRegistry(),
		EnforceStrictCapabilities: c.opts.EnforceStrictCapabilities,
		OnClose:                   func(error) { c.forget(cs) },
		Bind:                      func(conn *Connection) { conn.session = cs },
	})
	cs.conn = conn

	c.mu.Lock()
	c.sessions = append(c.sessions, cs)
	c.mu.Unlock()
	activeSessions.WithLabelValues("client").Inc()

	caps := ClientCapabilities{Roots: &RootsCapability{ListChanged: true}}
	if c.opts.CreateMessageHandler != nil {
		caps.Sampling = &SamplingCapability{}
	}
	params := &InitializeParams{
		ProtocolVersion: LatestProtocolVersion,
		Capabilities:    caps,
		ClientInfo:      Implementation{Name: c.name, Version: c.version},
	}
	var result InitializeResult
	if err := conn.Call(ctx, "initialize", params, &result); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if !isSupportedVersion(result.ProtocolVersion) {
		_ = conn.Close()
		return nil, fmt.Errorf("server negotiated unsupported protocol version %q", result.ProtocolVersion)
	}
	cs.initResult = &result
	if err := conn.Notify(ctx, "notifications/initialized", &InitializedParams{}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sending initialized notification: %w", err)
	}
	return cs, nil
}

func (c *Client) forget(cs *ClientSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = slices.DeleteFunc(c.sessions, func(s *ClientSession) bool { return s == cs })
	activeSessions.WithLabelValues("client").Dec()
}

// ClientSession is a live connection between a Client and one server.
type ClientSession struct {
	client     *Client
	conn       *Connection
	initResult *InitializeResult
}

// InitializeResult returns the server's reply to the initialize
// handshake.
func (cs *ClientSession) InitializeResult() *InitializeResult { return cs.initResult }

// Close performs a graceful shutdown of the session.
func (cs *ClientSession) Close() error { return cs.conn.Close() }

// Wait blocks until the server closes the connection.
func (cs *ClientSession) Wait() error { return cs.conn.Wait() }

// Ping sends a ping request to the server.
func (cs *ClientSession) Ping(ctx context.Context) error {
	return cs.conn.Call(ctx, "ping", &PingParams{}, nil)
}

// ListTools lists the tools currently available on the server.
func (cs *ClientSession) ListTools(ctx context.Context, params *ListToolsParams) (*ListToolsResult, error) {
	return call1[ListToolsResult](ctx, cs.conn, "tools/list", params)
}

// CallTool invokes the named tool with the given arguments.
func (cs *ClientSession) CallTool(ctx context.Context, name string, args map[string]any, opts ...CallOption) (*CallToolResult, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshaling arguments: %w", err)
	}
	params := &CallToolParams{Name: name, Arguments: data}
	res, err := call1[CallToolResult](ctx, cs.conn, "tools/call", params, opts...)
	if err != nil {
		return nil, fmt.Errorf("calling tool %q: %w", name, err)
	}
	return res, nil
}

// ListPrompts lists the prompts currently available on the server.
func (cs *ClientSession) ListPrompts(ctx context.Context, params *ListPromptsParams) (*ListPromptsResult, error) {
	return call1[ListPromptsResult](ctx, cs.conn, "prompts/list", params)
}

// GetPrompt renders the named prompt with the given arguments.
func (cs *ClientSession) GetPrompt(ctx context.Context, params *GetPromptParams) (*GetPromptResult, error) {
	return call1[GetPromptResult](ctx, cs.conn, "prompts/get", params)
}

// ListResources lists the resources currently available on the server.
func (cs *ClientSession) ListResources(ctx context.Context, params *ListResourcesParams) (*ListResourcesResult, error) {
	return call1[ListResourcesResult](ctx, cs.conn, "resources/list", params)
}

// ListResourceTemplates lists the resource templates the server exposes.
func (cs *ClientSession) ListResourceTemplates(ctx context.Context, params *ListResourceTemplatesParams) (*ListResourceTemplatesResult, error) {
	return call1[ListResourceTemplatesResult](ctx, cs.conn, "resources/templates/list", params)
}

// ReadResource reads a resource's contents from the server.
func (cs *ClientSession) ReadResource(ctx context.Context, params *ReadResourceParams) (*ReadResourceResult, error) {
	return call1[ReadResourceResult](ctx, cs.conn, "resources/read", params)
}

// Subscribe asks the server to notify this session when the given
// resource changes.
func (cs *ClientSession) Subscribe(ctx context.Context, uri string) error {
	return cs.conn.Call(ctx, "resources/subscribe", &SubscribeParams{URI: uri}, nil)
}

// Unsubscribe cancels a prior Subscribe.
func (cs *ClientSession) Unsubscribe(ctx context.Context, uri string) error {
	return cs.conn.Call(ctx, "resources/unsubscribe", &UnsubscribeParams{URI: uri}, nil)
}

// SetLevel asks the server to adjust the verbosity of the log
// notifications it sends this session.
func (cs *ClientSession) SetLevel(ctx context.Context, level string) error {
	return cs.conn.Call(ctx, "logging/setLevel", &SetLevelParams{Level: level}, nil)
}

// Complete asks the server for completion candidates for a prompt or
// resource argument.
func (cs *ClientSession) Complete(ctx context.Context, params *CompleteParams) (*CompleteResult, error) {
	return call1[CompleteResult](ctx, cs.conn, "completion/complete", params)
}

func call1[R any](ctx context.Context, conn *Connection, method string, params any, opts ...CallOption) (*R, error) {
	var result R
	if err := conn.Call(ctx, method, params, &result, opts...); err != nil {
		return nil, err
	}
	return &result, nil
}
