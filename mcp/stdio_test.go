// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"golang.org/x/mcp/internal/jsonrpc2"
)

func TestStreamTransportRoundTrip(t *testing.T) {
	client, server := NewInMemoryTransports()
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	note, err := jsonrpc2.NewNotification("notifications/message", &LoggingMessageParams{Level: "info", Logger: "test"})
	require.NoError(t, err)
	require.NoError(t, client.Write(ctx, note))

	got, err := server.Read(ctx)
	require.NoError(t, err)
	req, ok := got.(*jsonrpc2.Request)
	require.True(t, ok)
	require.Equal(t, "notifications/message", req.Method)
}

func TestStreamTransportCloseUnblocksRead(t *testing.T) {
	client, server := NewInMemoryTransports()
	defer client.Close()

	done := make(chan error, 1)
	go func() {
		_, err := server.Read(context.Background())
		done <- err
	}()
	require.NoError(t, server.Close())

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not unblock after Close")
	}
}
