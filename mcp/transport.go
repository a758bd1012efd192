// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"

	"golang.org/x/mcp/internal/jsonrpc2"
)

// ErrTransportClosed is returned by Transport.Read/Write once the
// transport has been closed, either by the peer or by a local Close.
var ErrTransportClosed = errors.New("mcp: transport closed")

// A Transport is the uniform contract every concrete transport (stdio, an
// in-memory pipe, legacy SSE, Streamable HTTP) satisfies so the protocol
// engine can run identically over any of them: it reads and writes framed
// jsonrpc2 messages, closes exactly once, and optionally carries a session
// id assigned after initialization.
//
// Transports are not assumed to be safe for concurrent Write calls from
// multiple goroutines; the engine serializes its own outbound writes per
// connection. Concurrent Read and Write, and concurrent Close from another
// goroutine, must be safe.
type Transport interface {
	// Read blocks until the next inbound message is available, the
	// transport is closed, or ctx is done.
	Read(ctx context.Context) (jsonrpc2.Message, error)

	// Write sends msg. Write must fail with an error wrapping
	// ErrTransportClosed if the transport is already closed.
	Write(ctx context.Context, msg jsonrpc2.Message) error

	// Close releases the transport's resources. Close is idempotent.
	Close() error

	// SessionID returns the session id this transport has negotiated, or
	// "" if the transport is session-less or hasn't negotiated one yet.
	SessionID() string
}

// A Dialer produces a Transport given a context, used by facades (Client,
// Server) that need to establish a connection lazily.
type Dialer interface {
	Connect(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context) (Transport, error)

func (f DialerFunc) Connect(ctx context.Context) (Transport, error) { return f(ctx) }
