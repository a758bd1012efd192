// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitMetaAcceptsNestedForm(t *testing.T) {
	raw := json.RawMessage(`{"x":1,"_meta":{"progressToken":7}}`)
	rest, meta, err := splitMeta(raw)
	require.NoError(t, err)
	require.JSONEq(t, `{"x":1}`, string(rest))
	tok, ok := meta.ProgressToken()
	require.True(t, ok)
	require.Equal(t, int64(7), tok)
}

func TestSplitMetaAcceptsFlattenedForm(t *testing.T) {
	raw := json.RawMessage(`{"x":1,"progressToken":7}`)
	rest, meta, err := splitMeta(raw)
	require.NoError(t, err)
	require.JSONEq(t, `{"x":1}`, string(rest))
	tok, ok := meta.ProgressToken()
	require.True(t, ok)
	require.Equal(t, int64(7), tok)
}

func TestSplitMetaNoMetaPresent(t *testing.T) {
	raw := json.RawMessage(`{"x":1}`)
	rest, meta, err := splitMeta(raw)
	require.NoError(t, err)
	require.JSONEq(t, `{"x":1}`, string(rest))
	require.Nil(t, meta)
}

func TestWithMetaNestsCanonically(t *testing.T) {
	raw := json.RawMessage(`{"x":1}`)
	out := withMeta(raw, progressTokenMeta(9))

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &fields))
	require.Contains(t, fields, "_meta")
	require.NotContains(t, fields, "progressToken")

	var meta Meta
	require.NoError(t, json.Unmarshal(fields["_meta"], &meta))
	tok, ok := meta.ProgressToken()
	require.True(t, ok)
	require.Equal(t, int64(9), tok)
}

func TestMetaProgressTokenAbsent(t *testing.T) {
	var m Meta
	_, ok := m.ProgressToken()
	require.False(t, ok)
}
