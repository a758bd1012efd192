// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bufio"
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSSEServerHandshakeAndPing(t *testing.T) {
	server := newTestServer(t)
	sse := NewSSEServer(server, "/messages")

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", sse.ServeSSE)
	mux.HandleFunc("/messages", sse.ServeMessages)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/sse")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sc := bufio.NewScanner(resp.Body)
	var endpointLine string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data:") && endpointLine == "" {
			endpointLine = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			break
		}
	}
	require.NoError(t, sc.Err())
	require.Contains(t, endpointLine, "sessionId=")

	pingBody := []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	postResp, err := http.Post(ts.URL+endpointLine, "application/json", bytes.NewReader(pingBody))
	require.NoError(t, err)
	defer postResp.Body.Close()
	require.Equal(t, http.StatusAccepted, postResp.StatusCode)

	done := make(chan string, 1)
	go func() {
		for sc.Scan() {
			line := sc.Text()
			if strings.HasPrefix(line, "data:") {
				done <- strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				return
			}
		}
	}()
	select {
	case data := <-done:
		require.Contains(t, data, `"id":1`)
	case <-time.After(3 * time.Second):
		t.Fatal("did not receive ping response over SSE stream")
	}
}
