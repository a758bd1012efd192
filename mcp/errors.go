// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"errors"
	"fmt"

	"golang.org/x/mcp/internal/jsonrpc2"
)

// Kind classifies a protocol-level failure so callers can branch on it with
// errors.Is/errors.As without parsing a JSON-RPC code.
type Kind int

const (
	KindParse Kind = iota
	KindInvalidRequest
	KindInvalidParams
	KindMethodNotFound
	KindInternal
	KindConnectionClosed
	KindRequestTimeout
	KindAborted
	KindCapabilityUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse error"
	case KindInvalidRequest:
		return "invalid request"
	case KindInvalidParams:
		return "invalid params"
	case KindMethodNotFound:
		return "method not found"
	case KindInternal:
		return "internal error"
	case KindConnectionClosed:
		return "connection closed"
	case KindRequestTimeout:
		return "request timeout"
	case KindAborted:
		return "aborted"
	case KindCapabilityUnsupported:
		return "capability unsupported"
	default:
		return "unknown error"
	}
}

// WireError is the engine's error type: a JSON-RPC error code/message pair
// (jsonrpc2.WireError, so it still encodes correctly on the wire) tagged
// with the Kind that produced it. CapabilityUnsupported errors are never
// sent on the wire; they are raised locally, before any message is written.
type WireError struct {
	Kind Kind
	*jsonrpc2.WireError
}

func (e *WireError) Unwrap() error { return e.WireError }

func newError(kind Kind, code int64, format string, args ...any) *WireError {
	return &WireError{Kind: kind, WireError: jsonrpc2.NewWireError(code, format, args...)}
}

func errParse(format string, args ...any) *WireError {
	return newError(KindParse, jsonrpc2.CodeParseError, format, args...)
}

func errInvalidRequest(format string, args ...any) *WireError {
	return newError(KindInvalidRequest, jsonrpc2.CodeInvalidRequest, format, args...)
}

func errInvalidParams(format string, args ...any) *WireError {
	return newError(KindInvalidParams, jsonrpc2.CodeInvalidParams, format, args...)
}

func errMethodNotFound(method string) *WireError {
	return newError(KindMethodNotFound, jsonrpc2.CodeMethodNotFound, "method not found: %q", method)
}

func errInternal(format string, args ...any) *WireError {
	return newError(KindInternal, jsonrpc2.CodeInternalError, format, args...)
}

func errRequestTimeout(id any) *WireError {
	return newError(KindRequestTimeout, jsonrpc2.CodeRequestTimeout, "request %v timed out", id)
}

// ErrConnectionClosed is returned by outbound calls in flight when the
// connection is closed, and by any call attempted after close.
var ErrConnectionClosed = errors.New("mcp: connection closed")

// ErrAborted is returned by outbound calls that the caller cancelled.
var ErrAborted = errors.New("mcp: request aborted")

// ErrCapabilityUnsupported is raised locally, before the wire is touched,
// when a peer's advertised capabilities don't cover the attempted method.
type ErrCapabilityUnsupported struct {
	Method string
}

func (e *ErrCapabilityUnsupported) Error() string {
	return fmt.Sprintf("mcp: peer does not support capability required by %q", e.Method)
}

// ResourceNotFoundError builds the error a resource handler returns when
// asked to read a URI it doesn't recognize.
func ResourceNotFoundError(uri string) error {
	return newError(KindInvalidParams, codeResourceNotFound, "resource not found: %q", uri)
}

// codeResourceNotFound is an MCP-specific error code outside the core
// JSON-RPC range, mirrored from the ecosystem's own SDKs.
const codeResourceNotFound = -31002
