// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type addArgs struct {
	X int `json:"x" validate:"required"`
	Y int `json:"y"`
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer("test-server", "0.0.1", nil)
	tool, err := NewServerTool[addArgs]("add", nil, func(ctx context.Context, ss *ServerSession, args addArgs) (*CallToolResult, error) {
		return &CallToolResult{StructuredContent: map[string]any{"sum": args.X + args.Y}}, nil
	})
	require.NoError(t, err)
	s.AddTool(tool)
	return s
}

func connectTestPair(t *testing.T, s *Server) (*ClientSession, *ServerSession) {
	t.Helper()
	clientTransport, serverTransport := NewInMemoryTransports()

	serverSessions := make(chan *ServerSession, 1)
	go func() { serverSessions <- s.Connect(context.Background(), serverTransport) }()

	client := NewClient("test-client", "0.0.1", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cs, err := client.Connect(ctx, clientTransport)
	require.NoError(t, err)

	ss := <-serverSessions
	return cs, ss
}

func TestInitializeHandshake(t *testing.T) {
	s := newTestServer(t)
	cs, ss := connectTestPair(t, s)
	defer cs.Close()
	defer ss.Close()

	require.NotNil(t, cs.InitializeResult())
	require.Equal(t, LatestProtocolVersion, cs.InitializeResult().ProtocolVersion)
}

func TestPingRoundTrip(t *testing.T) {
	s := newTestServer(t)
	cs, ss := connectTestPair(t, s)
	defer cs.Close()
	defer ss.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cs.Ping(ctx))
}

func TestCallToolStructuredOutput(t *testing.T) {
	s := newTestServer(t)
	cs, ss := connectTestPair(t, s)
	defer cs.Close()
	defer ss.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := cs.CallTool(ctx, "add", map[string]any{"x": 2, "y": 3})
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Equal(t, float64(5), res.StructuredContent["sum"])
}

func TestCallToolUnknownMethodFails(t *testing.T) {
	s := newTestServer(t)
	cs, ss := connectTestPair(t, s)
	defer cs.Close()
	defer ss.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := cs.CallTool(ctx, "subtract", map[string]any{"x": 2, "y": 3})
	require.Error(t, err)
}

func TestListTools(t *testing.T) {
	s := newTestServer(t)
	cs, ss := connectTestPair(t, s)
	defer cs.Close()
	defer ss.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := cs.ListTools(ctx, &ListToolsParams{})
	require.NoError(t, err)
	require.Len(t, res.Tools, 1)
	require.Equal(t, "add", res.Tools[0].Name)
}

func TestToolArgumentValidationRejectsMissingRequired(t *testing.T) {
	s := newTestServer(t)
	cs, ss := connectTestPair(t, s)
	defer cs.Close()
	defer ss.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := cs.CallTool(ctx, "add", map[string]any{"y": 3})
	require.Error(t, err)
}
