// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/mcp/internal/event"
	"golang.org/x/mcp/internal/jsonrpc2"
)

// This file implements component F, the legacy SSE server transport: one
// GET establishes the event stream, a sibling POST endpoint receives
// client messages keyed by session id.

const maxSSEMessageBytes = 4 << 20 // 4 MiB, per spec 4.F

// sseServerTransport is one session's Transport, bound to the SSE stream
// opened by GET and fed by POSTs to the sibling endpoint.
type sseServerTransport struct {
	sessionID string
	inbox     chan jsonrpc2.Message

	closeOnce sync.Once
	closed    chan struct{}

	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEServerTransport(sessionID string) *sseServerTransport {
	return &sseServerTransport{
		sessionID: sessionID,
		inbox:     make(chan jsonrpc2.Message, 64),
		closed:    make(chan struct{}),
	}
}

func (t *sseServerTransport) Read(ctx context.Context) (jsonrpc2.Message, error) {
	select {
	case msg := <-t.inbox:
		return msg, nil
	case <-t.closed:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *sseServerTransport) Write(ctx context.Context, msg jsonrpc2.Message) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	data, err := jsonrpc2.EncodeMessage(msg)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		return fmt.Errorf("mcp: SSE stream for session %q not yet established", t.sessionID)
	}
	if _, err := fmt.Fprintf(t.w, "event: message\ndata: %s\n\n", data); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

func (t *sseServerTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *sseServerTransport) SessionID() string { return t.sessionID }

func (t *sseServerTransport) deliver(msg jsonrpc2.Message) {
	select {
	case t.inbox <- msg:
	case <-t.closed:
	}
}

// SSEServer adapts a Server to the legacy two-endpoint SSE transport: GET
// the Endpoint path opens the event stream, POST the Messages path
// receives client messages for an existing session.
type SSEServer struct {
	server       *Server
	messagesPath string

	mu       sync.Mutex
	sessions map[string]*sseServerTransport
}

// NewSSEServer wraps server for the legacy SSE transport. messagesPath is
// the path clients POST to, e.g. "/messages" (sessionId is passed as a
// query parameter, per spec 4.F).
func NewSSEServer(server *Server, messagesPath string) *SSEServer {
	return &SSEServer{server: server, messagesPath: messagesPath, sessions: make(map[string]*sseServerTransport)}
}

// ServeSSE handles the GET endpoint that establishes the event stream.
func (s *SSEServer) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	sessionID := uuid.NewString()
	t := newSSEServerTransport(sessionID)
	t.mu.Lock()
	t.w, t.flusher = w, flusher
	t.mu.Unlock()

	s.mu.Lock()
	s.sessions[sessionID] = t
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
		_ = t.Close()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: endpoint\ndata: %s?sessionId=%s\n\n", s.messagesPath, sessionID)
	flusher.Flush()

	ss := s.server.Connect(r.Context(), t)
	defer ss.Close()

	select {
	case <-r.Context().Done():
	case <-t.closed:
	}
}

// ServeMessages handles the POST endpoint receiving client messages for
// an established session.
func (s *SSEServer) ServeMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	t, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		http.Error(w, "Content-Type must be application/json", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSSEMessageBytes+1))
	if err != nil {
		http.Error(w, "reading body", http.StatusInternalServerError)
		return
	}
	if len(body) > maxSSEMessageBytes {
		http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
		return
	}
	msg, err := jsonrpc2.DecodeMessage(body)
	if err != nil {
		writeJSONRPCError(w, http.StatusBadRequest, err)
		return
	}
	t.deliver(msg)
	event.Log(r.Context(), "delivered SSE message", event.String("sessionId", sessionID))
	w.WriteHeader(http.StatusAccepted)
}

func writeJSONRPCError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	we := jsonrpc2.NewWireError(jsonrpc2.CodeParseError, "%v", err)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"error":   we,
	})
}
