// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/cenkalti/backoff/v5"
	"golang.org/x/mcp/internal/event"
	"golang.org/x/mcp/internal/jsonrpc2"
	"golang.org/x/oauth2"
)

// This file implements component H, the Streamable HTTP client transport:
// messages are sent as POSTs to a single endpoint, responses may arrive
// as a plain JSON body or as an upgraded event stream, and a standalone
// GET stream carries server-initiated traffic. Reconnection of the
// standalone stream resumes from the last delivered event id.

// OAuthClientProvider supplies bearer tokens for requests to the MCP
// endpoint, refreshing via an oauth2.TokenSource and keeping the token
// text encrypted in process memory between uses.
type OAuthClientProvider struct {
	Source oauth2.TokenSource

	// RedirectToAuthorization is invoked when the server answers a
	// request with 401 Unauthorized, before Write returns the resulting
	// error, so the caller can react to the auth challenge (e.g. drive the
	// user through a fresh authorization flow) instead of only learning
	// about it as an opaque error. May be nil.
	RedirectToAuthorization func(ctx context.Context, resp *http.Response)

	mu      sync.Mutex
	enclave *memguard.Enclave
}

// Token returns the current access token, refreshing through Source if
// necessary.
func (p *OAuthClientProvider) Token(ctx context.Context) (string, error) {
	tok, err := p.Source.Token()
	if err != nil {
		return "", fmt.Errorf("refreshing oauth token: %w", err)
	}
	p.mu.Lock()
	p.enclave = memguard.NewEnclave([]byte(tok.AccessToken))
	p.mu.Unlock()
	buf, err := p.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("opening token enclave: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// StreamableClientTransport dials a Streamable HTTP server. Use Connect to
// obtain a Transport bound to one session.
type StreamableClientTransport struct {
	// Endpoint is the server's Streamable HTTP URL.
	Endpoint string
	// HTTPClient is used for all requests; http.DefaultClient if nil.
	HTTPClient *http.Client
	// Auth supplies bearer tokens, if the server requires them.
	Auth *OAuthClientProvider
}

func (d *StreamableClientTransport) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return http.DefaultClient
}

// Connect opens a session against the endpoint. The session id is
// captured from the server's first response and attached to every
// subsequent request.
func (d *StreamableClientTransport) Connect(ctx context.Context) (Transport, error) {
	t := &streamableClientTransport{
		endpoint: d.Endpoint,
		client:   d.httpClient(),
		auth:     d.Auth,
		inbox:    make(chan jsonrpc2.Message, 16),
		closed:   make(chan struct{}),
	}
	return t, nil
}

type streamableClientTransport struct {
	endpoint string
	client   *http.Client
	auth     *OAuthClientProvider

	mu        sync.Mutex
	sessionID string

	inbox chan jsonrpc2.Message

	closeOnce sync.Once
	closed    chan struct{}

	standaloneOnce sync.Once
	lastEventID    string
}

func (t *streamableClientTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func (t *streamableClientTransport) setSessionID(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	t.sessionID = id
	t.mu.Unlock()
	t.standaloneOnce.Do(func() { go t.runStandaloneStream() })
}

func (t *streamableClientTransport) setAuth(req *http.Request) error {
	if t.auth == nil {
		return nil
	}
	tok, err := t.auth.Token(req.Context())
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

// Write sends msg as a POST. Requests accept either a direct JSON
// response or an upgraded event stream; notifications and responses
// (replies to server-initiated requests) are fire-and-forget.
func (t *streamableClientTransport) Write(ctx context.Context, msg jsonrpc2.Message) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	data, err := jsonrpc2.EncodeMessage(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sid := t.SessionID(); sid != "" {
		req.Header.Set(sessionIDHeader, sid)
	}
	if err := t.setAuth(req); err != nil {
		return err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting message: %w", err)
	}
	defer resp.Body.Close()
	t.setSessionID(resp.Header.Get(sessionIDHeader))

	if resp.StatusCode == http.StatusAccepted {
		return nil // notification accepted, no reply expected
	}
	if resp.StatusCode == http.StatusUnauthorized {
		if t.auth != nil && t.auth.RedirectToAuthorization != nil {
			t.auth.RedirectToAuthorization(ctx, resp)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("mcp: unauthorized (401): %s", body)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("mcp: server returned %s: %s", resp.Status, body)
	}

	ct := resp.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "application/json"):
		m, err := jsonrpc2.DecodeMessage(mustReadAll(resp.Body))
		if err != nil {
			return err
		}
		t.deliver(m)
		return nil
	case strings.HasPrefix(ct, "text/event-stream"):
		return t.consumeSSE(ctx, resp.Body)
	default:
		return fmt.Errorf("mcp: unexpected response Content-Type %q", ct)
	}
}

func mustReadAll(r io.Reader) []byte {
	b, _ := io.ReadAll(r)
	return b
}

func (t *streamableClientTransport) consumeSSE(ctx context.Context, body io.ReadCloser) error {
	defer body.Close()
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "id:"):
			t.lastEventID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(line, "data:"))
		case line == "":
			if data.Len() > 0 {
				msg, err := jsonrpc2.DecodeMessage([]byte(data.String()))
				if err != nil {
					event.Error(ctx, "decoding SSE event", err)
				} else {
					t.deliver(msg)
				}
				data.Reset()
			}
		}
	}
	return sc.Err()
}

func (t *streamableClientTransport) deliver(msg jsonrpc2.Message) {
	select {
	case t.inbox <- msg:
	case <-t.closed:
	}
}

// runStandaloneStream maintains the GET stream for server-initiated
// traffic, reconnecting with the spec's backoff schedule (initial 1s,
// factor 1.5, cap 30s, up to 10 attempts) and resuming from the last
// delivered event id.
func (t *streamableClientTransport) runStandaloneStream() {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 1.5
	b.MaxInterval = 30 * time.Second

	attempts := 0
	for attempts < 10 {
		select {
		case <-t.closed:
			return
		default:
		}
		if err := t.openStandaloneOnce(); err != nil {
			event.Error(context.Background(), "standalone stream disconnected", err)
		}
		select {
		case <-t.closed:
			return
		default:
		}
		attempts++
		d := b.NextBackOff()
		if d == backoff.Stop {
			return
		}
		select {
		case <-time.After(d):
		case <-t.closed:
			return
		}
	}
}

func (t *streamableClientTransport) openStandaloneOnce() error {
	ctx := context.Background()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if sid := t.SessionID(); sid != "" {
		req.Header.Set(sessionIDHeader, sid)
	}
	if t.lastEventID != "" {
		req.Header.Set(lastEventIDHeader, t.lastEventID)
	}
	if err := t.setAuth(req); err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	return t.consumeSSE(ctx, resp.Body)
}

func (t *streamableClientTransport) Read(ctx context.Context) (jsonrpc2.Message, error) {
	select {
	case msg := <-t.inbox:
		return msg, nil
	case <-t.closed:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close terminates the session with a DELETE, per spec 4.H.
func (t *streamableClientTransport) Close() error {
	var closeErr error
	t.closeOnce.Do(func() {
		close(t.closed)
		sid := t.SessionID()
		if sid == "" {
			return
		}
		req, err := http.NewRequest(http.MethodDelete, t.endpoint, nil)
		if err != nil {
			closeErr = err
			return
		}
		req.Header.Set(sessionIDHeader, sid)
		if err := t.setAuth(req); err != nil {
			closeErr = err
			return
		}
		resp, err := t.client.Do(req)
		if err != nil {
			closeErr = err
			return
		}
		_ = resp.Body.Close()
	})
	return closeErr
}
