// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type searchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func TestNewToolInfersSchema(t *testing.T) {
	tool, err := NewTool[searchArgs]("search", WithDescription("search for things"))
	require.NoError(t, err)
	require.Equal(t, "search", tool.Name)
	require.Equal(t, "search for things", tool.Description)
	require.NotNil(t, tool.InputSchema)
	require.Contains(t, tool.InputSchema.Properties, "query")
	require.Contains(t, tool.InputSchema.Required, "query")
}

func TestRequireProperties(t *testing.T) {
	tool, err := NewTool[searchArgs]("search", RequireProperties("limit"))
	require.NoError(t, err)
	require.Contains(t, tool.InputSchema.Required, "limit")
}

func TestDecodeToolArgsRejectsUnknownFields(t *testing.T) {
	var args searchArgs
	err := decodeToolArgs([]byte(`{"query":"x","bogus":1}`), &args)
	require.Error(t, err)
}

func TestDecodeToolArgsOK(t *testing.T) {
	var args searchArgs
	err := decodeToolArgs([]byte(`{"query":"x","limit":5}`), &args)
	require.NoError(t, err)
	require.Equal(t, "x", args.Query)
	require.Equal(t, 5, args.Limit)
}
