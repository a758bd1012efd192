// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/mcp/internal/event"
	"golang.org/x/mcp/internal/jsonrpc2"
)

// This file implements component G, the Streamable HTTP server transport:
// a single endpoint handling POST (deliver a message or batch, optionally
// upgrading the response to an event stream), GET (open the standalone
// stream for server-initiated traffic), and DELETE (terminate the
// session).

const (
	sessionIDHeader      = "Mcp-Session-Id"
	lastEventIDHeader    = "Last-Event-ID"
	maxStreamableBody    = 4 << 20 // 4 MiB
	streamHeartbeat      = 15 * time.Second
	standaloneStreamName = "standalone"
)

// StreamableHTTPHandler serves a Server over the Streamable HTTP
// transport. It implements http.Handler; mount it at a single path (the
// spec's "/mcp" endpoint).
type StreamableHTTPHandler struct {
	server *Server
	store  EventStore

	mu       sync.Mutex
	sessions map[string]*streamableSession
}

// NewStreamableHTTPHandler returns a handler serving server. store backs
// resumable replay (component J); a nil store uses an in-memory default.
func NewStreamableHTTPHandler(server *Server, store EventStore) *StreamableHTTPHandler {
	if store == nil {
		store = NewMemoryEventStore(0)
	}
	return &StreamableHTTPHandler{server: server, store: store, sessions: make(map[string]*streamableSession)}
}

type streamableSession struct {
	id        string
	transport *streamableServerTransport
	session   *ServerSession
}

func (h *StreamableHTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	case http.MethodOptions:
		w.Header().Set("Allow", "GET, POST, DELETE, OPTIONS")
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// errMissingSessionID and errUnknownSessionID distinguish the two ways a
// session lookup can fail, so callers can answer 400 vs 404 per spec 4.G's
// status table instead of collapsing both to "not found".
var (
	errMissingSessionID = errors.New("mcp: missing Mcp-Session-Id header")
	errUnknownSessionID = errors.New("mcp: unknown Mcp-Session-Id")
)

func (h *StreamableHTTPHandler) lookupSession(r *http.Request) (*streamableSession, error) {
	id := r.Header.Get(sessionIDHeader)
	if id == "" {
		return nil, errMissingSessionID
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if !ok {
		return nil, errUnknownSessionID
	}
	return s, nil
}

// writeSessionLookupError maps a lookupSession error to the status code
// the spec requires: 400 when the header was never supplied, 404 when it
// names a session that doesn't (or no longer) exists.
func writeSessionLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errMissingSessionID):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, errUnknownSessionID):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func acceptsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// acceptsStreamable reports whether r's Accept header lists both media
// types the Streamable HTTP transport requires of a POST, per spec 4.G.
func acceptsStreamable(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return true
	}
	return strings.Contains(accept, "application/json") && strings.Contains(accept, "text/event-stream")
}

// decodeBatch parses a Streamable HTTP POST body, which per spec 4.G may be
// either a single JSON-RPC object or a JSON array of them. It reports
// whether the body was an array, since that shape is preserved on a plain
// JSON response (a single-message request gets a single-message response;
// a batch gets a response array). On an SSE response each reply is its own
// event. Adapted from the call shape of the
// teacher's own streamable.go (`readBatch(body)`), reconstructed here
// against jsonrpc2.DecodeMessage's single-object contract since this
// module's jsonrpc2 package has no batch-aware decoder of its own.
func decodeBatch(body []byte) (msgs []jsonrpc2.Message, isBatch bool, err error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false, errors.New("mcp: empty request body")
	}
	if trimmed[0] != '[' {
		msg, err := jsonrpc2.DecodeMessage(trimmed)
		if err != nil {
			return nil, false, err
		}
		return []jsonrpc2.Message{msg}, false, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, true, fmt.Errorf("mcp: decoding batch: %w", err)
	}
	if len(raw) == 0 {
		return nil, true, errors.New("mcp: empty batch")
	}
	msgs = make([]jsonrpc2.Message, 0, len(raw))
	for i, r := range raw {
		msg, err := jsonrpc2.DecodeMessage(r)
		if err != nil {
			return nil, true, fmt.Errorf("mcp: decoding batch element %d: %w", i, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, true, nil
}

// encodeBatch renders msgs as a JSON array of their wire forms.
func encodeBatch(msgs []jsonrpc2.Message) ([]byte, error) {
	parts := make([]json.RawMessage, len(msgs))
	for i, m := range msgs {
		data, err := jsonrpc2.EncodeMessage(m)
		if err != nil {
			return nil, err
		}
		parts[i] = data
	}
	return json.Marshal(parts)
}

// requestStream pairs a registered idKey with the pendingStream collecting
// its eventual response, so a batch's calls can be tracked together.
type requestStream struct {
	idKey  string
	stream *pendingStream
}

func (h *StreamableHTTPHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	if !acceptsStreamable(r) {
		http.Error(w, "Accept must list both application/json and text/event-stream", http.StatusNotAcceptable)
		return
	}
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxStreamableBody+1))
	if err != nil {
		http.Error(w, "reading body", http.StatusInternalServerError)
		return
	}
	if len(body) > maxStreamableBody {
		http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
		return
	}
	msgs, isBatch, err := decodeBatch(body)
	if err != nil {
		writeJSONRPCError(w, http.StatusBadRequest, err)
		return
	}

	initCount := 0
	for _, m := range msgs {
		if req, ok := m.(*jsonrpc2.Request); ok && req.Method == "initialize" {
			initCount++
		}
	}
	if initCount > 1 {
		http.Error(w, "a batch may contain at most one initialize request", http.StatusBadRequest)
		return
	}

	var sess *streamableSession
	if initCount == 1 {
		// A second initialize for a session that already has one is a
		// protocol violation (spec 4.G rule 3, scenario S-2): a fresh
		// initialize must never carry an existing session id.
		if r.Header.Get(sessionIDHeader) != "" {
			http.Error(w, "initialize must not be sent with an existing Mcp-Session-Id", http.StatusBadRequest)
			return
		}
		sessionID := uuid.NewString()
		t := newStreamableServerTransport(sessionID, h.store)
		ss := h.server.Connect(r.Context(), t)
		sess = &streamableSession{id: sessionID, transport: t, session: ss}
		h.mu.Lock()
		h.sessions[sessionID] = sess
		h.mu.Unlock()
	} else {
		sess, err = h.lookupSession(r)
		if err != nil {
			writeSessionLookupError(w, err)
			return
		}
	}

	w.Header().Set(sessionIDHeader, sess.id)

	var pendings []requestStream
	for _, m := range msgs {
		if req, ok := m.(*jsonrpc2.Request); ok && req.IsCall() {
			idKey := fmt.Sprint(req.ID.Raw())
			stream := sess.transport.registerRequestStream(idKey)
			pendings = append(pendings, requestStream{idKey, stream})
		}
	}
	defer func() {
		for _, p := range pendings {
			sess.transport.forgetRequestStream(p.idKey)
		}
	}()
	for _, m := range msgs {
		sess.transport.deliver(m)
	}

	if len(pendings) == 0 {
		// All notifications (e.g. notifications/initialized): deliver and
		// acknowledge with no body, per spec 4.G rule 2.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if acceptsEventStream(r) {
		h.streamSSE(w, r, sess.transport, pendings)
		return
	}

	responses := make([]jsonrpc2.Message, len(pendings))
	for i, p := range pendings {
		select {
		case m := <-p.stream.msgs:
			responses[i] = m
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if isBatch {
		data, err := encodeBatch(responses)
		if err != nil {
			http.Error(w, "encoding response", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(data)
		return
	}
	data, err := jsonrpc2.EncodeMessage(responses[0])
	if err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}

// streamSSE upgrades a POST response to an event stream, multiplexing the
// (possibly several, for a batch) pending responses onto it as they
// arrive.
func (h *StreamableHTTPHandler) streamSSE(w http.ResponseWriter, r *http.Request, t *streamableServerTransport, pendings []requestStream) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	type arrival struct {
		idKey string
		msg   jsonrpc2.Message
	}
	merged := make(chan arrival, len(pendings))
	var wg sync.WaitGroup
	for _, p := range pendings {
		wg.Add(1)
		go func(p requestStream) {
			defer wg.Done()
			select {
			case m, ok := <-p.stream.msgs:
				if ok {
					merged <- arrival{p.idKey, m}
				}
			case <-r.Context().Done():
			}
		}(p)
	}
	go func() { wg.Wait(); close(merged) }()

	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case a, ok := <-merged:
			if !ok {
				return
			}
			eventID, _ := t.store.StoreEvent(r.Context(), t.scopedStream(a.idKey), a.msg)
			data, err := jsonrpc2.EncodeMessage(a.msg)
			if err != nil {
				event.Error(r.Context(), "encoding SSE event", err)
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: message\ndata: %s\n\n", eventID, data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (h *StreamableHTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	if !acceptsEventStream(r) {
		http.Error(w, "Accept must include text/event-stream", http.StatusNotAcceptable)
		return
	}
	sess, err := h.lookupSession(r)
	if err != nil {
		writeSessionLookupError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	stream, err := sess.transport.openStandalone()
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	defer sess.transport.closeStandalone()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if last := r.Header.Get(lastEventIDHeader); last != "" {
		_, err := h.store.ReplayEventsAfter(r.Context(), last, func(eventID string, msg jsonrpc2.Message) error {
			data, err := jsonrpc2.EncodeMessage(msg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(w, "id: %s\nevent: message\ndata: %s\n\n", eventID, data)
			flusher.Flush()
			return err
		})
		if err != nil {
			event.Error(r.Context(), "replaying events after reconnect", err, event.String("lastEventID", last))
		}
	}

	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case m, ok := <-stream.msgs:
			if !ok {
				return
			}
			eventID, _ := h.store.StoreEvent(r.Context(), sess.transport.scopedStream(standaloneStreamName), m)
			data, err := jsonrpc2.EncodeMessage(m)
			if err != nil {
				event.Error(r.Context(), "encoding SSE event", err)
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: message\ndata: %s\n\n", eventID, data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (h *StreamableHTTPHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sess, err := h.lookupSession(r)
	if err != nil {
		writeSessionLookupError(w, err)
		return
	}
	h.mu.Lock()
	delete(h.sessions, sess.id)
	h.mu.Unlock()
	_ = sess.session.Close()
	// Spec 4.G rule 4 and the §6 status table: session termination answers
	// 200, not 204 (there is no further stream to keep open).
	w.WriteHeader(http.StatusOK)
}

// pendingStream is the sink for messages addressed to one HTTP response:
// either a single POST awaiting its call's response, or the standalone
// GET stream.
type pendingStream struct {
	msgs chan jsonrpc2.Message
}

func newPendingStream() *pendingStream {
	return &pendingStream{msgs: make(chan jsonrpc2.Message, 16)}
}

// streamableServerTransport is the Transport bound to one Streamable HTTP
// session. Inbound messages arrive from POST bodies via deliver; outbound
// messages are routed by Write to whichever pendingStream can carry them.
type streamableServerTransport struct {
	sessionID string
	store     EventStore

	inbox chan jsonrpc2.Message

	mu          sync.Mutex
	byRequestID map[string]*pendingStream
	standalone  *pendingStream
	closed      bool
	closedCh    chan struct{}
}

func newStreamableServerTransport(sessionID string, store EventStore) *streamableServerTransport {
	return &streamableServerTransport{
		sessionID:   sessionID,
		store:       store,
		inbox:       make(chan jsonrpc2.Message, 16),
		byRequestID: make(map[string]*pendingStream),
		closedCh:    make(chan struct{}),
	}
}

// scopedStream prefixes name with this transport's session id before it
// reaches the EventStore, so that two sessions sharing one handler (and
// thus one store) can never collide on the same stream id -- e.g. both
// having a "standalone" stream, or both issuing a request id "1". Without
// this prefix a Last-Event-ID replay for one session could read or
// replay another session's messages.
func (t *streamableServerTransport) scopedStream(name string) string {
	return t.sessionID + ":" + name
}

func (t *streamableServerTransport) Read(ctx context.Context) (jsonrpc2.Message, error) {
	select {
	case msg := <-t.inbox:
		return msg, nil
	case <-t.closedCh:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *streamableServerTransport) Write(ctx context.Context, msg jsonrpc2.Message) error {
	select {
	case <-t.closedCh:
		return ErrTransportClosed
	default:
	}
	if resp, ok := msg.(*jsonrpc2.Response); ok {
		idKey := fmt.Sprint(resp.ID.Raw())
		t.mu.Lock()
		stream, ok := t.byRequestID[idKey]
		t.mu.Unlock()
		if !ok {
			return fmt.Errorf("mcp: no open stream for response to request %q", idKey)
		}
		select {
		case stream.msgs <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	// A server-initiated request or notification: deliver it on the
	// standalone stream if one is open, else on any single open POST
	// stream as a best effort, else drop it with a debug-level log entry.
	// A dropped message is not stored, so a later GET does not replay it.
	t.mu.Lock()
	target := t.standalone
	if target == nil {
		for _, s := range t.byRequestID {
			target = s
			break
		}
	}
	t.mu.Unlock()
	if target == nil {
		event.Logf(ctx, "no open stream to deliver server-initiated message (session %s)", t.sessionID)
		return nil
	}
	select {
	case target.msgs <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (t *streamableServerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.closedCh)
	return nil
}

func (t *streamableServerTransport) SessionID() string { return t.sessionID }

func (t *streamableServerTransport) deliver(msg jsonrpc2.Message) {
	select {
	case t.inbox <- msg:
	case <-t.closedCh:
	}
}

func (t *streamableServerTransport) registerRequestStream(idKey string) *pendingStream {
	s := newPendingStream()
	t.mu.Lock()
	t.byRequestID[idKey] = s
	t.mu.Unlock()
	return s
}

func (t *streamableServerTransport) forgetRequestStream(idKey string) {
	t.mu.Lock()
	delete(t.byRequestID, idKey)
	t.mu.Unlock()
}

func (t *streamableServerTransport) openStandalone() (*pendingStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.standalone != nil {
		return nil, fmt.Errorf("mcp: session %q already has a standalone stream open", t.sessionID)
	}
	s := newPendingStream()
	t.standalone = s
	return s, nil
}

func (t *streamableServerTransport) closeStandalone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.standalone = nil
}
