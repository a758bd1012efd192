// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"golang.org/x/mcp/internal/jsonrpc2"
)

func TestStreamableHTTPInitializeAndSessionHeader(t *testing.T) {
	server := newTestServer(t)
	h := NewStreamableHTTPHandler(server, nil)
	ts := httptest.NewServer(h)
	defer ts.Close()

	initBody := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"t","version":"0"}}}`)
	req, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(initBody))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sessionID := resp.Header.Get(sessionIDHeader)
	require.NotEmpty(t, sessionID)

	// Accepting text/event-stream makes the reply an SSE stream; the
	// initialize response is the data of its first event.
	var data string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "data:") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			break
		}
	}
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(data), &decoded))
	require.Contains(t, decoded, "result")

	// The standalone-less initialized notification should be accepted.
	note := []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	nreq, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(note))
	require.NoError(t, err)
	nreq.Header.Set("Content-Type", "application/json")
	nreq.Header.Set("Accept", "application/json, text/event-stream")
	nreq.Header.Set(sessionIDHeader, sessionID)
	nresp, err := http.DefaultClient.Do(nreq)
	require.NoError(t, err)
	defer nresp.Body.Close()
	require.Equal(t, http.StatusAccepted, nresp.StatusCode)

	// Terminating the session should succeed.
	dreq, err := http.NewRequest(http.MethodDelete, ts.URL, nil)
	require.NoError(t, err)
	dreq.Header.Set(sessionIDHeader, sessionID)
	dresp, err := http.DefaultClient.Do(dreq)
	require.NoError(t, err)
	defer dresp.Body.Close()
	require.Equal(t, http.StatusOK, dresp.StatusCode)
}

func TestStreamableHTTPUnknownSessionRejected(t *testing.T) {
	server := newTestServer(t)
	h := NewStreamableHTTPHandler(server, nil)
	ts := httptest.NewServer(h)
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(sessionIDHeader, "does-not-exist")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamableHTTPMissingSessionHeaderIsBadRequest(t *testing.T) {
	server := newTestServer(t)
	h := NewStreamableHTTPHandler(server, nil)
	ts := httptest.NewServer(h)
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamableHTTPAcceptRequiresBothMediaTypes(t *testing.T) {
	server := newTestServer(t)
	h := NewStreamableHTTPHandler(server, nil)
	ts := httptest.NewServer(h)
	defer ts.Close()

	initBody := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"t","version":"0"}}}`)
	req, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(initBody))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
}

func TestStreamableHTTPDuplicateInitializeRejected(t *testing.T) {
	server := newTestServer(t)
	h := NewStreamableHTTPHandler(server, nil)
	ts := httptest.NewServer(h)
	defer ts.Close()

	initBody := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"t","version":"0"}}}`)

	post := func(sessionID string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(initBody))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json, text/event-stream")
		if sessionID != "" {
			req.Header.Set(sessionIDHeader, sessionID)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := post("")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessionID := resp.Header.Get(sessionIDHeader)
	require.NotEmpty(t, sessionID)

	// A second initialize carrying the now-established session id must be
	// rejected rather than silently re-initializing the session.
	resp2 := post(sessionID)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestStreamableHTTPBatchRejectsMultipleInitialize(t *testing.T) {
	server := newTestServer(t)
	h := NewStreamableHTTPHandler(server, nil)
	ts := httptest.NewServer(h)
	defer ts.Close()

	batch := []byte(`[
		{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"t","version":"0"}}},
		{"jsonrpc":"2.0","id":2,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"t","version":"0"}}}
	]`)
	req, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(batch))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamableHTTPBatchOfCallsReturnsArray(t *testing.T) {
	server := newTestServer(t)
	h := NewStreamableHTTPHandler(server, nil)
	ts := httptest.NewServer(h)
	defer ts.Close()

	initBody := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"t","version":"0"}}}`)
	req, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(initBody))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessionID := resp.Header.Get(sessionIDHeader)
	require.NotEmpty(t, sessionID)

	batch := []byte(`[{"jsonrpc":"2.0","id":2,"method":"ping"},{"jsonrpc":"2.0","id":3,"method":"ping"}]`)
	breq, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(batch))
	require.NoError(t, err)
	breq.Header.Set("Content-Type", "application/json")
	// No Accept header: the handler answers with a plain JSON body, the
	// mode in which a batch's replies come back as one array.
	breq.Header.Set(sessionIDHeader, sessionID)
	bresp, err := http.DefaultClient.Do(breq)
	require.NoError(t, err)
	defer bresp.Body.Close()
	require.Equal(t, http.StatusOK, bresp.StatusCode)

	var results []map[string]any
	require.NoError(t, json.NewDecoder(bresp.Body).Decode(&results))
	require.Len(t, results, 2)
}

// TestStreamScopingPreventsCrossSessionReplay guards against two sessions
// on the same handler (and so the same EventStore) colliding on identical
// stream names -- e.g. both having a "standalone" stream -- which would
// let a Last-Event-ID replay for one session read another session's
// messages.
func TestStreamScopingPreventsCrossSessionReplay(t *testing.T) {
	store := NewMemoryEventStore(0)
	ctx := context.Background()

	ta := newStreamableServerTransport("session-a", store)
	tb := newStreamableServerTransport("session-b", store)
	require.NotEqual(t, ta.scopedStream(standaloneStreamName), tb.scopedStream(standaloneStreamName))

	noteA, err := jsonrpc2.NewNotification("notifications/message", &LoggingMessageParams{Level: "info", Logger: "a"})
	require.NoError(t, err)
	idA, err := store.StoreEvent(ctx, ta.scopedStream(standaloneStreamName), noteA)
	require.NoError(t, err)

	noteB, err := jsonrpc2.NewNotification("notifications/message", &LoggingMessageParams{Level: "info", Logger: "b"})
	require.NoError(t, err)
	_, err = store.StoreEvent(ctx, tb.scopedStream(standaloneStreamName), noteB)
	require.NoError(t, err)

	streamID, err := store.ReplayEventsAfter(ctx, idA, func(string, jsonrpc2.Message) error {
		t.Fatal("no events should exist after session A's only event within its own stream")
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, ta.scopedStream(standaloneStreamName), streamID)
}
