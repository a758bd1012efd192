// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/mcp/internal/event"
	"golang.org/x/mcp/internal/jsonrpc2"
)

// This file implements component D, the protocol engine: request/response
// correlation with per-request timeouts, progress-driven timeout
// extension, cooperative cancellation, capability gating, and handler
// dispatch. One Connection runs this engine over one Transport; both the
// client and server facades build their own registry and capability
// predicates and are otherwise identical callers of this type, matching
// the "capability gating as a strategy" design note: the engine itself
// does not know which role it is serving.
//
// The correlation scheme follows internal/jsonrpc2's Conn (a map of
// outstanding calls keyed by request id, resolved by the read loop), with
// the MCP-specific additions of progress-driven timer resets and
// capability-assertion hooks the spec calls for.

const defaultTimeout = 60 * time.Second

// requestEntry is a registered request handler, already closed over its
// parameter type.
type requestEntry struct {
	handle func(ctx context.Context, conn *Connection, params json.RawMessage) (any, error)
}

// notificationEntry is a registered notification handler.
type notificationEntry struct {
	handle func(ctx context.Context, conn *Connection, params json.RawMessage) error
}

// Registry is the method -> (factory, handler) table the spec calls for.
// Client and Server build a fresh one on every Connect call and pass it to
// the new Connection, which only reads it.
type Registry struct {
	requests      map[string]requestEntry
	notifications map[string]notificationEntry

	fallbackRequest      func(ctx context.Context, conn *Connection, method string, params json.RawMessage) (any, error)
	fallbackNotification func(ctx context.Context, conn *Connection, method string, params json.RawMessage) error
}

// NewRegistry returns an empty Registry with the three default handlers
// the spec requires always be present: ping, notifications/cancelled, and
// notifications/progress.
func NewRegistry() *Registry {
	r := &Registry{
		requests:      make(map[string]requestEntry),
		notifications: make(map[string]notificationEntry),
	}
	RegisterRequest(r, "ping", func(ctx context.Context, conn *Connection, p *PingParams) (*struct{}, error) {
		return &struct{}{}, nil
	})
	RegisterNotification(r, "notifications/cancelled", func(ctx context.Context, conn *Connection, p *CancelledParams) error {
		conn.cancelInbound(p.RequestID)
		return nil
	})
	RegisterNotification(r, "notifications/progress", func(ctx context.Context, conn *Connection, p *ProgressParams) error {
		conn.handleProgress(p)
		return nil
	})
	return r
}

// RegisterRequest registers a typed handler for an inbound request method.
// Decode failures of params become InvalidParams errors, per spec 4.D.
func RegisterRequest[P, R any](reg *Registry, method string, h func(ctx context.Context, conn *Connection, params *P) (*R, error)) {
	reg.requests[method] = requestEntry{
		handle: func(ctx context.Context, conn *Connection, raw json.RawMessage) (any, error) {
			p, ctx, err := decodeParams[P](ctx, raw)
			if err != nil {
				return nil, err
			}
			return h(ctx, conn, p)
		},
	}
}

// RegisterNotification registers a typed handler for an inbound
// notification method.
func RegisterNotification[P any](reg *Registry, method string, h func(ctx context.Context, conn *Connection, params *P) error) {
	reg.notifications[method] = notificationEntry{
		handle: func(ctx context.Context, conn *Connection, raw json.RawMessage) error {
			p, ctx, err := decodeParams[P](ctx, raw)
			if err != nil {
				return err
			}
			return h(ctx, conn, p)
		},
	}
}

// SetFallbackRequest registers the handler invoked for any request method
// with no specific registration. Its absence yields MethodNotFound.
func (r *Registry) SetFallbackRequest(h func(ctx context.Context, conn *Connection, method string, params json.RawMessage) (any, error)) {
	r.fallbackRequest = h
}

// SetFallbackNotification registers the handler invoked for any
// notification method with no specific registration.
func (r *Registry) SetFallbackNotification(h func(ctx context.Context, conn *Connection, method string, params json.RawMessage) error) {
	r.fallbackNotification = h
}

func decodeParams[P any](ctx context.Context, raw json.RawMessage) (*P, context.Context, error) {
	rest, meta, err := splitMeta(raw)
	if err != nil {
		return nil, ctx, errInvalidParams("splitting _meta: %v", err)
	}
	var p P
	if len(rest) > 0 && string(rest) != "null" {
		if err := json.Unmarshal(rest, &p); err != nil {
			return nil, ctx, errInvalidParams("unmarshaling params for %T: %v", p, err)
		}
	}
	if meta != nil {
		ctx = withRequestMeta(ctx, meta)
	}
	return &p, ctx, nil
}

// CapabilityHooks are the three predicate functions a caller of Connect
// can supply so the role-agnostic engine can enforce capability gating
// (spec 4.D). A nil hook always succeeds. Client and Server supply no
// hooks, so their sessions run with all three nil.
type CapabilityHooks struct {
	AssertCapabilityForMethod     func(method string) error
	AssertNotificationCapability  func(method string) error
	AssertRequestHandlerCapability func(method string) error
}

// ConnectionOptions configures a Connection.
type ConnectionOptions struct {
	Registry *Registry
	Hooks    CapabilityHooks
	// EnforceStrictCapabilities, when true, calls
	// AssertCapabilityForMethod before every outbound request.
	EnforceStrictCapabilities bool
	OnClose                   func(error)
	// Bind runs synchronously against the new Connection before its read
	// loop starts, so a facade can stash its session wrapper in
	// Connection.session before any inbound message can be dispatched.
	Bind func(*Connection)
}

// outboundCall tracks one outstanding request this side issued.
type outboundCall struct {
	method string
	done   chan struct{}
	once   sync.Once

	result json.RawMessage
	err    error

	mu              sync.Mutex
	timer           *time.Timer
	timeout         time.Duration
	maxTotalTimer   *time.Timer
	onProgress      func(*ProgressParams)
	resetOnProgress bool
}

func (c *outboundCall) resolve(result json.RawMessage, err error) {
	c.once.Do(func() {
		c.mu.Lock()
		if c.timer != nil {
			c.timer.Stop()
		}
		if c.maxTotalTimer != nil {
			c.maxTotalTimer.Stop()
		}
		c.mu.Unlock()
		c.result, c.err = result, err
		close(c.done)
	})
}

// Connection is one end of an MCP session: the protocol engine bound to a
// single Transport.
type Connection struct {
	transport Transport
	registry  *Registry
	hooks     CapabilityHooks
	strict    bool
	onClose   func(error)

	writeMu sync.Mutex

	mu       sync.Mutex
	nextID   int64
	pending  map[int64]*outboundCall
	handling map[any]context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error

	readDone chan struct{}

	// session is set by the Client/Server facade through
	// ConnectionOptions.Bind before the read loop starts, so
	// request/notification handlers registered
	// against this Connection's Registry can recover the typed
	// ClientSession/ServerSession that owns them.
	session any
}

// Connect starts the protocol engine over t and begins reading inbound
// messages in the background.
func Connect(t Transport, opts ConnectionOptions) *Connection {
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	c := &Connection{
		transport: t,
		registry:  reg,
		hooks:     opts.Hooks,
		strict:    opts.EnforceStrictCapabilities,
		onClose:   opts.OnClose,
		pending:   make(map[int64]*outboundCall),
		handling:  make(map[any]context.CancelFunc),
		closed:    make(chan struct{}),
		readDone:  make(chan struct{}),
	}
	if opts.Bind != nil {
		opts.Bind(c)
	}
	go c.readLoop()
	return c
}

// SessionID returns the transport's negotiated session id, if any.
func (c *Connection) SessionID() string { return c.transport.SessionID() }

func (c *Connection) readLoop() {
	defer close(c.readDone)
	ctx := context.Background()
	for {
		msg, err := c.transport.Read(ctx)
		if err != nil {
			c.close(err)
			return
		}
		c.dispatch(msg)
	}
}

func (c *Connection) dispatch(msg jsonrpc2.Message) {
	switch m := msg.(type) {
	case *jsonrpc2.Request:
		if m.IsCall() {
			go c.handleInboundRequest(m)
		} else {
			go c.handleInboundNotification(m)
		}
	case *jsonrpc2.Response:
		c.handleResponse(m)
	}
}

func (c *Connection) handleResponse(resp *jsonrpc2.Response) {
	id, ok := resp.ID.Raw().(int64)
	if !ok {
		event.Log(context.Background(), "response with non-integer id dropped", event.String("id", fmt.Sprint(resp.ID.Raw())))
		return
	}
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return // unmatched response; nothing outstanding to resolve
	}
	call.resolve(resp.Result, resp.Error)
}

func (c *Connection) handleInboundRequest(req *jsonrpc2.Request) {
	ctx, cancel := context.WithCancel(context.Background())
	key := req.ID.Raw()
	c.mu.Lock()
	c.handling[key] = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.handling, key)
		c.mu.Unlock()
		cancel()
	}()

	ctx, done := event.Start(ctx, "mcp.request", event.String("method", req.Method))
	defer done()

	start := time.Now()
	result, err := c.dispatchRequest(ctx, req)
	observeRequest(req.Method, start, err)

	if ctx.Err() != nil {
		// Cancelled mid-flight: the spec says no response is subsequently
		// emitted on the wire for a cancelled inbound request.
		return
	}
	resp, merr := jsonrpc2.NewResponse(req.ID, result, err)
	if merr != nil {
		event.Error(ctx, "marshaling response", merr, event.String("method", req.Method))
		return
	}
	if werr := c.writeMessage(context.Background(), resp); werr != nil {
		event.Error(ctx, "writing response", werr, event.String("method", req.Method))
	}
}

func (c *Connection) dispatchRequest(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	if entry, ok := c.registry.requests[req.Method]; ok {
		if c.hooks.AssertRequestHandlerCapability != nil {
			if err := c.hooks.AssertRequestHandlerCapability(req.Method); err != nil {
				return nil, err
			}
		}
		return entry.handle(ctx, c, req.Params)
	}
	if c.registry.fallbackRequest != nil {
		return c.registry.fallbackRequest(ctx, c, req.Method, req.Params)
	}
	return nil, errMethodNotFound(req.Method)
}

func (c *Connection) handleInboundNotification(req *jsonrpc2.Request) {
	ctx := context.Background()
	if entry, ok := c.registry.notifications[req.Method]; ok {
		if c.hooks.AssertNotificationCapability != nil {
			if err := c.hooks.AssertNotificationCapability(req.Method); err != nil {
				event.Error(ctx, "rejecting notification", err, event.String("method", req.Method))
				return
			}
		}
		if err := entry.handle(ctx, c, req.Params); err != nil {
			event.Error(ctx, "notification handler failed", err, event.String("method", req.Method))
		}
		return
	}
	if c.registry.fallbackNotification != nil {
		if err := c.registry.fallbackNotification(ctx, c, req.Method, req.Params); err != nil {
			event.Error(ctx, "fallback notification handler failed", err, event.String("method", req.Method))
		}
		return
	}
	event.Log(ctx, "dropping unregistered notification", event.String("method", req.Method))
}

func (c *Connection) cancelInbound(requestID any) {
	var key any
	switch v := requestID.(type) {
	case float64:
		key = int64(v)
	default:
		key = v
	}
	c.mu.Lock()
	cancel, ok := c.handling[key]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *Connection) handleProgress(p *ProgressParams) {
	tok, ok := progressTokenInt(p.ProgressToken)
	if !ok {
		event.Log(context.Background(), "progress with non-integer token dropped")
		return
	}
	c.mu.Lock()
	call, ok := c.pending[tok]
	c.mu.Unlock()
	if !ok {
		return
	}
	call.mu.Lock()
	cb := call.onProgress
	if call.resetOnProgress && call.timer != nil {
		call.timer.Reset(call.timeout)
	}
	call.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

func progressTokenInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case float64:
		if t != float64(int64(t)) {
			return 0, false
		}
		return int64(t), true
	default:
		return 0, false
	}
}

// CallOption configures an outbound Call.
type CallOption interface{ apply(*callConfig) }

type callConfig struct {
	timeout         time.Duration
	resetOnProgress bool
	maxTotalTimeout time.Duration
	onProgress      func(*ProgressParams)
	meta            Meta
}

type callOptionFunc func(*callConfig)

func (f callOptionFunc) apply(c *callConfig) { f(c) }

// WithTimeout overrides the default 60s per-request timeout.
func WithTimeout(d time.Duration) CallOption {
	return callOptionFunc(func(c *callConfig) { c.timeout = d })
}

// WithProgress registers a callback invoked for every
// notifications/progress the peer sends for this request, injecting a
// progressToken into the outbound params' _meta as a side effect.
func WithProgress(resetTimeoutOnProgress bool, cb func(*ProgressParams)) CallOption {
	return callOptionFunc(func(c *callConfig) {
		c.onProgress = cb
		c.resetOnProgress = resetTimeoutOnProgress
	})
}

// WithMaxTotalTimeout sets an absolute cap on the request's lifetime that
// progress notifications cannot extend past.
func WithMaxTotalTimeout(d time.Duration) CallOption {
	return callOptionFunc(func(c *callConfig) { c.maxTotalTimeout = d })
}

// Call issues method as an outbound request, waits for the matching
// response, and decodes its result into result (which may be nil to
// discard the result).
func (c *Connection) Call(ctx context.Context, method string, params any, result any, opts ...CallOption) error {
	if c.hooks.AssertCapabilityForMethod != nil && c.strict {
		if err := c.hooks.AssertCapabilityForMethod(method); err != nil {
			return err
		}
	}
	cfg := callConfig{timeout: defaultTimeout}
	for _, o := range opts {
		o.apply(&cfg)
	}

	select {
	case <-c.closed:
		return fmt.Errorf("calling %q: %w", method, ErrConnectionClosed)
	default:
	}

	id := atomic.AddInt64(&c.nextID, 1)
	rawParams, err := marshalParams(params, cfg, id)
	if err != nil {
		return fmt.Errorf("marshaling params for %q: %w", method, err)
	}

	call := &outboundCall{method: method, done: make(chan struct{}), timeout: cfg.timeout, onProgress: cfg.onProgress, resetOnProgress: cfg.resetOnProgress}

	c.mu.Lock()
	c.pending[id] = call
	c.mu.Unlock()

	req, err := jsonrpc2.NewCall(jsonrpc2.Int64ID(id), method, json.RawMessage(rawParams))
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("building request %q: %w", method, err)
	}

	if cfg.timeout > 0 {
		call.timer = time.AfterFunc(cfg.timeout, func() { c.timeoutCall(id, call) })
	}
	if cfg.maxTotalTimeout > 0 {
		call.maxTotalTimer = time.AfterFunc(cfg.maxTotalTimeout, func() { c.timeoutCall(id, call) })
	}

	if err := c.writeMessage(ctx, req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		call.resolve(nil, err)
		return fmt.Errorf("calling %q: %w", method, err)
	}

	select {
	case <-call.done:
	case <-ctx.Done():
		c.cancelOutbound(id, call, "context cancelled")
		return ctx.Err()
	case <-c.closed:
		call.resolve(nil, ErrConnectionClosed)
	}

	if call.err != nil {
		return fmt.Errorf("calling %q: %w", method, call.err)
	}
	if result != nil && len(call.result) > 0 {
		if err := json.Unmarshal(call.result, result); err != nil {
			return fmt.Errorf("unmarshaling result of %q: %w", method, err)
		}
	}
	return nil
}

// marshalParams encodes params and, when a progress callback is set, adds
// the request id as the progressToken, since handleProgress finds the call
// by that id.
func marshalParams(params any, cfg callConfig, id int64) (json.RawMessage, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	meta := cfg.meta
	if cfg.onProgress != nil {
		pm := progressTokenMeta(id)
		for k, v := range meta {
			pm[k] = v
		}
		meta = pm
	}
	if len(meta) > 0 {
		raw = withMeta(raw, meta)
	}
	return raw, nil
}

func (c *Connection) timeoutCall(id int64, call *outboundCall) {
	c.mu.Lock()
	_, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	call.resolve(nil, errRequestTimeout(id))
	_ = c.Notify(context.Background(), "notifications/cancelled", &CancelledParams{RequestID: id, Reason: "Request timeout"})
}

func (c *Connection) cancelOutbound(id int64, call *outboundCall, reason string) {
	c.mu.Lock()
	_, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	call.resolve(nil, ErrAborted)
	_ = c.Notify(context.Background(), "notifications/cancelled", &CancelledParams{RequestID: id, Reason: reason})
}

// Notify sends method as an outbound notification; it never waits for a
// reply.
func (c *Connection) Notify(ctx context.Context, method string, params any) error {
	if c.hooks.AssertNotificationCapability != nil {
		if err := c.hooks.AssertNotificationCapability(method); err != nil {
			return err
		}
	}
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshaling params for %q: %w", method, err)
		}
		raw = data
	}
	msg, err := jsonrpc2.NewNotification(method, raw)
	if err != nil {
		return err
	}
	return c.writeMessage(ctx, msg)
}

func (c *Connection) writeMessage(ctx context.Context, msg jsonrpc2.Message) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.Write(ctx, msg)
}

// Close closes the underlying transport and releases the connection.
func (c *Connection) Close() error {
	return c.close(nil)
}

// Wait blocks until the connection is closed by either side and returns
// the error it was closed with. It does not wait for the read loop to exit.
func (c *Connection) Wait() error {
	<-c.closed
	return c.closeErr
}

func (c *Connection) close(err error) error {
	var retErr error
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closed)

		c.mu.Lock()
		pending := c.pending
		c.pending = nil
		handling := c.handling
		c.handling = nil
		c.mu.Unlock()

		for _, call := range pending {
			call.resolve(nil, ErrConnectionClosed)
		}
		for _, cancel := range handling {
			cancel()
		}
		retErr = c.transport.Close()
		if c.onClose != nil {
			c.onClose(err)
		}
	})
	return retErr
}
