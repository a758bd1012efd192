// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mcp implements the Model Context Protocol: a bidirectional
// JSON-RPC 2.0 protocol connecting LLM-calling hosts ("clients") to tool,
// resource, and prompt providers ("servers").
//
// A [Client] discovers and invokes what a server exposes; a [Server]
// registers tools, prompts, and resources and answers client requests.
// Both sides run the same role-agnostic engine in [Connection], which
// handles request/response correlation, timeouts, progress reporting,
// and cancellation independently of which side is calling.
//
// Transports connect the two: [NewStdioTransport] and [CommandTransport]
// for newline-delimited JSON over a pipe, [SSEServer] for the legacy
// two-endpoint SSE transport, and [StreamableHTTPHandler] /
// [StreamableClientTransport] for the Streamable HTTP transport with
// resumable streams backed by an [EventStore].
package mcp
