// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"golang.org/x/mcp/internal/jsonrpc2"
	"golang.org/x/oauth2"
)

func TestStreamableClientServerRoundTrip(t *testing.T) {
	server := newTestServer(t)
	h := NewStreamableHTTPHandler(server, nil)
	ts := httptest.NewServer(h)
	defer ts.Close()

	dialer := &StreamableClientTransport{Endpoint: ts.URL}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	transport, err := dialer.Connect(ctx)
	require.NoError(t, err)

	client := NewClient("streamable-test-client", "0.0.1", nil)
	cs, err := client.Connect(ctx, transport)
	require.NoError(t, err)
	defer cs.Close()

	require.Equal(t, LatestProtocolVersion, cs.InitializeResult().ProtocolVersion)

	res, err := cs.CallTool(ctx, "add", map[string]any{"x": 4, "y": 5})
	require.NoError(t, err)
	require.Equal(t, float64(9), res.StructuredContent["sum"])
}

func TestStreamableClientInvokesRedirectToAuthorizationOn401(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="mcp"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	called := make(chan *http.Response, 1)
	auth := &OAuthClientProvider{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}),
		RedirectToAuthorization: func(ctx context.Context, resp *http.Response) {
			called <- resp
		},
	}
	dialer := &StreamableClientTransport{Endpoint: ts.URL}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	transport, err := dialer.Connect(ctx)
	require.NoError(t, err)
	ct := transport.(*streamableClientTransport)
	ct.auth = auth

	note, err := jsonrpc2.NewNotification("notifications/initialized", nil)
	require.NoError(t, err)
	err = ct.Write(ctx, note)
	require.Error(t, err)

	select {
	case resp := <-called:
		require.Equal(t, `Bearer realm="mcp"`, resp.Header.Get("WWW-Authenticate"))
	case <-time.After(2 * time.Second):
		t.Fatal("RedirectToAuthorization was never invoked")
	}
}
