// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonrpc2

import "errors"

// Sentinel errors returned by message decoding. The mcp package's HTTP
// transports answer a body that fails to decode with a JSON-RPC parse
// error response (writeJSONRPCError in mcp/sse.go).
var (
	// ErrParse indicates the message could not be decoded as a JSON object,
	// had a "jsonrpc" version tag other than "2.0", or had an identifier of
	// a type the spec does not allow.
	ErrParse = errors.New("parse error")
	// ErrInvalidRequest indicates a message that is a well-formed JSON
	// object but not a legal JSON-RPC 2.0 envelope (e.g. a response with no
	// id).
	ErrInvalidRequest = errors.New("invalid request")
)
