// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/mcp/internal/event"
	"golang.org/x/sync/errgroup"
)

// ToolHandler handles a tools/call request. Arguments have already been
// decoded from the wire but not yet validated against the tool's schema;
// handlers built with NewServerTool validate automatically.
type ToolHandler func(ctx context.Context, ss *ServerSession, params *CallToolParamsRaw) (*CallToolResult, error)

// CallToolParamsRaw mirrors CallToolParams but keeps Arguments as raw
// JSON so per-tool handlers can decode into their own argument type.
type CallToolParamsRaw struct {
	Name      string
	Arguments []byte
}

// ServerTool binds a Tool descriptor to the handler that implements it.
type ServerTool struct {
	Tool    *Tool
	Handler ToolHandler
}

// NewServerTool infers an input schema from In via reflection and wraps
// handler so that CallToolParamsRaw.Arguments is decoded and validated
// into In before handler runs, mirroring the teacher's
// NewServerTool[In, Out] but returning the handler's CallToolResult
// directly rather than a second generic result type, since SPEC_FULL.md's
// CallToolResult already expresses both the structured and unstructured
// reply shapes.
func NewServerTool[In any](name string, opts []ToolOption, handler func(context.Context, *ServerSession, In) (*CallToolResult, error)) (*ServerTool, error) {
	tool, err := NewTool[In](name, opts...)
	if err != nil {
		return nil, err
	}
	return &ServerTool{
		Tool: tool,
		Handler: func(ctx context.Context, ss *ServerSession, p *CallToolParamsRaw) (*CallToolResult, error) {
			var args In
			if err := decodeToolArgs(p.Arguments, &args); err != nil {
				return nil, errInvalidParams("%v", err)
			}
			return handler(ctx, ss, args)
		},
	}, nil
}

// PromptHandler renders a prompt.
type PromptHandler func(ctx context.Context, ss *ServerSession, params *GetPromptParams) (*GetPromptResult, error)

// ServerPrompt binds a Prompt descriptor to the handler that renders it.
type ServerPrompt struct {
	Prompt  *Prompt
	Handler PromptHandler
}

// ResourceHandler reads a resource's contents.
type ResourceHandler func(ctx context.Context, ss *ServerSession, params *ReadResourceParams) (*ReadResourceResult, error)

// ServerResource binds a concrete Resource to the handler that reads it.
type ServerResource struct {
	Resource *Resource
	Handler  ResourceHandler
}

// ServerResourceTemplate binds a ResourceTemplate to the handler that
// reads any URI matching it.
type ServerResourceTemplate struct {
	Template *ResourceTemplate
	Handler  ResourceHandler
}

// ServerOptions configures a Server's behavior.
type ServerOptions struct {
	Instructions string
	// PageSize bounds how many items a single tools/resources/prompts
	// list call returns before producing a cursor for the next page.
	PageSize int

	EnforceStrictCapabilities bool
}

// Server is an MCP server: it exposes tools, resources, and prompts to
// connected clients, and may itself initiate sampling and roots-list
// requests against them.
type Server struct {
	name, version string
	opts          ServerOptions

	mu                sync.Mutex
	tools             map[string]*ServerTool
	prompts           map[string]*ServerPrompt
	resources         map[string]*ServerResource
	resourceTemplates []*ServerResourceTemplate
	subscribers       map[string]map[*ServerSession]bool
	sessions          []*ServerSession
}

// NewServer creates a Server with no tools, resources, or prompts
// registered. Use the Add* methods to populate it before calling Connect.
func NewServer(name, version string, opts *ServerOptions) *Server {
	s := &Server{
		name:        name,
		version:     version,
		tools:       make(map[string]*ServerTool),
		prompts:     make(map[string]*ServerPrompt),
		resources:   make(map[string]*ServerResource),
		subscribers: make(map[string]map[*ServerSession]bool),
	}
	if opts != nil {
		s.opts = *opts
	}
	if s.opts.PageSize <= 0 {
		s.opts.PageSize = 50
	}
	return s
}

// AddTool registers a tool, replacing any existing tool with the same
// name, and sends notifications/tools/list_changed to every connected
// session.
func (s *Server) AddTool(t *ServerTool) {
	s.mu.Lock()
	s.tools[t.Tool.Name] = t
	sessions := s.snapshotSessions()
	s.mu.Unlock()
	s.notifyAll(sessions, "notifications/tools/list_changed", &ToolListChangedParams{})
}

// RemoveTool removes a tool by name. Removing a nonexistent tool is not
// an error.
func (s *Server) RemoveTool(name string) {
	s.mu.Lock()
	delete(s.tools, name)
	sessions := s.snapshotSessions()
	s.mu.Unlock()
	s.notifyAll(sessions, "notifications/tools/list_changed", &ToolListChangedParams{})
}

// AddPrompt registers a prompt.
func (s *Server) AddPrompt(p *ServerPrompt) {
	s.mu.Lock()
	s.prompts[p.Prompt.Name] = p
	sessions := s.snapshotSessions()
	s.mu.Unlock()
	s.notifyAll(sessions, "notifications/prompts/list_changed", &PromptListChangedParams{})
}

// AddResource registers a concrete resource.
func (s *Server) AddResource(r *ServerResource) {
	s.mu.Lock()
	s.resources[r.Resource.URI] = r
	sessions := s.snapshotSessions()
	s.mu.Unlock()
	s.notifyAll(sessions, "notifications/resources/list_changed", &ResourceListChangedParams{})
}

// AddResourceTemplate registers a resource template.
func (s *Server) AddResourceTemplate(t *ServerResourceTemplate) {
	s.mu.Lock()
	s.resourceTemplates = append(s.resourceTemplates, t)
	sessions := s.snapshotSessions()
	s.mu.Unlock()
	s.notifyAll(sessions, "notifications/resources/list_changed", &ResourceListChangedParams{})
}

func (s *Server) snapshotSessions() []*ServerSession {
	out := make([]*ServerSession, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// notifyAll fans a notification out to every session concurrently, so one
// slow or stuck peer can't hold up delivery to the rest.
func (s *Server) notifyAll(sessions []*ServerSession, method string, params any) {
	var g errgroup.Group
	for _, ss := range sessions {
		ss := ss
		g.Go(func() error {
			return ss.conn.Notify(context.Background(), method, params)
		})
	}
	if err := g.Wait(); err != nil {
		event.Error(context.Background(), "broadcasting notification", err, event.String("method", method))
	}
}

// NotifyResourceUpdated tells every client subscribed to uri that its
// contents changed.
func (s *Server) NotifyResourceUpdated(uri string) {
	s.mu.Lock()
	subs := s.subscribers[uri]
	sessions := make([]*ServerSession, 0, len(subs))
	for ss := range subs {
		sessions = append(sessions, ss)
	}
	s.mu.Unlock()
	s.notifyAll(sessions, "notifications/resources/updated", &ResourceUpdatedParams{URI: uri})
}

func (s *Server) forget(ss *ServerSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, s2 := range s.sessions {
		if s2 == ss {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			break
		}
	}
	for uri, subs := range s.subscribers {
		delete(subs, ss)
		if len(subs) == 0 {
			delete(s.subscribers, uri)
		}
	}
	activeSessions.WithLabelValues("server").Dec()
}

// page applies opaque-cursor pagination to a sorted slice of items,
// returning the current page and the cursor for the next one (empty if
// there isn't one). Cursors are simply the decimal string of the next
// start index: opaque to callers, stable as long as the item count only
// grows between calls, matching the spec's "opaque cursor" contract.
func page[T any](items []T, cursor string, pageSize int) ([]T, string) {
	start := 0
	if cursor != "" {
		if n, err := strconv.Atoi(cursor); err == nil && n >= 0 {
			start = n
		}
	}
	if start >= len(items) {
		return nil, ""
	}
	end := start + pageSize
	next := ""
	if end < len(items) {
		next = strconv.Itoa(end)
	} else {
		end = len(items)
	}
	return items[start:end], next
}

func (s *Server) buildRegistry() *Registry {
	reg := NewRegistry()

	RegisterRequest(reg, "initialize", func(ctx context.Context, conn *Connection, p *InitializeParams) (*InitializeResult, error) {
		ss := conn.session.(*ServerSession)
		ss.mu.Lock()
		ss.clientInfo = &p.ClientInfo
		ss.clientCaps = &p.Capabilities
		ss.mu.Unlock()
		return &InitializeResult{
			ProtocolVersion: negotiateVersion(p.ProtocolVersion),
			Capabilities:    s.capabilities(),
			ServerInfo:      Implementation{Name: s.name, Version: s.version},
			Instructions:    s.opts.Instructions,
		}, nil
	})
	RegisterNotification(reg, "notifications/initialized", func(ctx context.Context, conn *Connection, p *InitializedParams) error {
		return nil
	})
	RegisterNotification(reg, "notifications/roots/list_changed", func(ctx context.Context, conn *Connection, p *RootsListChangedParams) error {
		return nil
	})

	RegisterRequest(reg, "tools/list", func(ctx context.Context, conn *Connection, p *ListToolsParams) (*ListToolsResult, error) {
		s.mu.Lock()
		names := make([]string, 0, len(s.tools))
		for n := range s.tools {
			names = append(names, n)
		}
		sort.Strings(names)
		tools := make([]*Tool, len(names))
		for i, n := range names {
			tools[i] = s.tools[n].Tool
		}
		s.mu.Unlock()
		pg, next := page(tools, p.Cursor, s.opts.PageSize)
		return &ListToolsResult{Tools: pg, NextCursor: next}, nil
	})
	RegisterRequest(reg, "tools/call", func(ctx context.Context, conn *Connection, p *CallToolParams) (*CallToolResult, error) {
		ss := conn.session.(*ServerSession)
		s.mu.Lock()
		t, ok := s.tools[p.Name]
		s.mu.Unlock()
		if !ok {
			return nil, errInvalidParams("unknown tool %q", p.Name)
		}
		res, err := t.Handler(ctx, ss, &CallToolParamsRaw{Name: p.Name, Arguments: p.Arguments})
		if err != nil {
			// Arguments that fail to decode or validate are the caller's
			// fault and go back as an InvalidParams error response.
			var werr *WireError
			if errors.As(err, &werr) && werr.Kind == KindInvalidParams {
				return nil, err
			}
			event.Error(ctx, "tool handler failed", err, event.String("tool", p.Name))
			return &CallToolResult{Content: []*Content{TextContent(err.Error())}, IsError: true}, nil
		}
		return res, nil
	})

	RegisterRequest(reg, "prompts/list", func(ctx context.Context, conn *Connection, p *ListPromptsParams) (*ListPromptsResult, error) {
		s.mu.Lock()
		names := make([]string, 0, len(s.prompts))
		for n := range s.prompts {
			names = append(names, n)
		}
		sort.Strings(names)
		prompts := make([]*Prompt, len(names))
		for i, n := range names {
			prompts[i] = s.prompts[n].Prompt
		}
		s.mu.Unlock()
		pg, next := page(prompts, p.Cursor, s.opts.PageSize)
		return &ListPromptsResult{Prompts: pg, NextCursor: next}, nil
	})
	RegisterRequest(reg, "prompts/get", func(ctx context.Context, conn *Connection, p *GetPromptParams) (*GetPromptResult, error) {
		ss := conn.session.(*ServerSession)
		s.mu.Lock()
		pr, ok := s.prompts[p.Name]
		s.mu.Unlock()
		if !ok {
			return nil, errInvalidParams("unknown prompt %q", p.Name)
		}
		return pr.Handler(ctx, ss, p)
	})

	RegisterRequest(reg, "resources/list", func(ctx context.Context, conn *Connection, p *ListResourcesParams) (*ListResourcesResult, error) {
		s.mu.Lock()
		uris := make([]string, 0, len(s.resources))
		for u := range s.resources {
			uris = append(uris, u)
		}
		sort.Strings(uris)
		resources := make([]*Resource, len(uris))
		for i, u := range uris {
			resources[i] = s.resources[u].Resource
		}
		s.mu.Unlock()
		pg, next := page(resources, p.Cursor, s.opts.PageSize)
		return &ListResourcesResult{Resources: pg, NextCursor: next}, nil
	})
	RegisterRequest(reg, "resources/templates/list", func(ctx context.Context, conn *Connection, p *ListResourceTemplatesParams) (*ListResourceTemplatesResult, error) {
		s.mu.Lock()
		templates := make([]*ResourceTemplate, len(s.resourceTemplates))
		for i, t := range s.resourceTemplates {
			templates[i] = t.Template
		}
		s.mu.Unlock()
		pg, next := page(templates, p.Cursor, s.opts.PageSize)
		return &ListResourceTemplatesResult{ResourceTemplates: pg, NextCursor: next}, nil
	})
	RegisterRequest(reg, "resources/read", func(ctx context.Context, conn *Connection, p *ReadResourceParams) (*ReadResourceResult, error) {
		ss := conn.session.(*ServerSession)
		s.mu.Lock()
		r, ok := s.resources[p.URI]
		var tmpl *ServerResourceTemplate
		if !ok {
			for _, t := range s.resourceTemplates {
				if t.Template.Matches(p.URI) {
					tmpl = t
					break
				}
			}
		}
		s.mu.Unlock()
		switch {
		case ok:
			return r.Handler(ctx, ss, p)
		case tmpl != nil:
			return tmpl.Handler(ctx, ss, p)
		default:
			return nil, ResourceNotFoundError(p.URI)
		}
	})
	RegisterRequest(reg, "resources/subscribe", func(ctx context.Context, conn *Connection, p *SubscribeParams) (*struct{}, error) {
		ss := conn.session.(*ServerSession)
		s.mu.Lock()
		if s.subscribers[p.URI] == nil {
			s.subscribers[p.URI] = make(map[*ServerSession]bool)
		}
		s.subscribers[p.URI][ss] = true
		s.mu.Unlock()
		return &struct{}{}, nil
	})
	RegisterRequest(reg, "resources/unsubscribe", func(ctx context.Context, conn *Connection, p *UnsubscribeParams) (*struct{}, error) {
		ss := conn.session.(*ServerSession)
		s.mu.Lock()
		delete(s.subscribers[p.URI], ss)
		s.mu.Unlock()
		return &struct{}{}, nil
	})

	RegisterRequest(reg, "logging/setLevel", func(ctx context.Context, conn *Connection, p *SetLevelParams) (*struct{}, error) {
		ss := conn.session.(*ServerSession)
		ss.mu.Lock()
		ss.logLevel = p.Level
		ss.mu.Unlock()
		return &struct{}{}, nil
	})

	RegisterRequest(reg, "completion/complete", func(ctx context.Context, conn *Connection, p *CompleteParams) (*CompleteResult, error) {
		return &CompleteResult{Completion: Completion{Values: nil}}, nil
	})

	return reg
}

func (s *Server) capabilities() ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	caps := ServerCapabilities{
		Logging: &LoggingCapability{},
		Tools:   &ToolsCapability{ListChanged: true},
		Prompts: &PromptsCapability{ListChanged: true},
		Resources: &ResourcesCapability{
			Subscribe:   true,
			ListChanged: true,
		},
	}
	return caps
}

// Connect attaches the server to a new session over t and returns at
// once. It does not wait for the client's initialize request, which the
// session handles like any other inbound request.
func (s *Server) Connect(ctx context.Context, t Transport) *ServerSession {
	ss := &ServerSession{server: s, logLevel: "info"}
	conn := Connect(t, ConnectionOptions{
		Registry:                  s.buildRegistry(),
		EnforceStrictCapabilities: s.opts.EnforceStrictCapabilities,
		OnClose:                   func(error) { s.forget(ss) },
		Bind:                      func(conn *Connection) { conn.session = ss },
	})
	ss.conn = conn
	s.mu.Lock()
	s.sessions = append(s.sessions, ss)
	s.mu.Unlock()
	activeSessions.WithLabelValues("server").Inc()
	return ss
}

// ServerSession is a live connection between a Server and one client.
type ServerSession struct {
	server *Server
	conn   *Connection

	mu         sync.Mutex
	clientInfo *Implementation
	clientCaps *ClientCapabilities
	logLevel   string
}

// Close closes the session's connection.
func (ss *ServerSession) Close() error { return ss.conn.Close() }

// Wait blocks until the client closes the connection.
func (ss *ServerSession) Wait() error { return ss.conn.Wait() }

// ClientInfo returns the Implementation the client identified itself as
// during initialize, or nil before initialize completes.
func (ss *ServerSession) ClientInfo() *Implementation {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.clientInfo
}

// Log forwards a structured log record to the client as
// notifications/message, if the record's level is at or above the level
// the client last requested via logging/setLevel.
func (ss *ServerSession) Log(ctx context.Context, level, logger string, data any) {
	ss.mu.Lock()
	min := ss.logLevel
	ss.mu.Unlock()
	if logLevelRank(level) < logLevelRank(min) {
		return
	}
	_ = ss.conn.Notify(ctx, "notifications/message", &LoggingMessageParams{Level: level, Logger: logger, Data: data})
}

var logLevels = []string{"debug", "info", "notice", "warning", "error", "critical", "alert", "emergency"}

func logLevelRank(level string) int {
	for i, l := range logLevels {
		if l == level {
			return i
		}
	}
	return 0
}

// CreateMessage asks the client's LLM to complete a message (the
// sampling capability). It fails with CapabilityUnsupported-flavored
// error if the client didn't advertise sampling during initialize.
func (ss *ServerSession) CreateMessage(ctx context.Context, p *CreateMessageParams) (*CreateMessageResult, error) {
	ss.mu.Lock()
	caps := ss.clientCaps
	ss.mu.Unlock()
	if caps == nil || caps.Sampling == nil {
		return nil, &ErrCapabilityUnsupported{Method: "sampling/createMessage"}
	}
	return call1[CreateMessageResult](ctx, ss.conn, "sampling/createMessage", p)
}

// ListRoots asks the client to enumerate its filesystem roots.
func (ss *ServerSession) ListRoots(ctx context.Context) (*ListRootsResult, error) {
	return call1[ListRootsResult](ctx, ss.conn, "roots/list", &ListRootsParams{})
}

// Ping sends a ping request to the client.
func (ss *ServerSession) Ping(ctx context.Context) error {
	return ss.conn.Call(ctx, "ping", &PingParams{}, nil)
}
