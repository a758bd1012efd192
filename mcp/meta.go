// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
)

type metaContextKey struct{}

// withRequestMeta attaches the _meta of an inbound request/notification to
// ctx, so a handler can retrieve it with RequestMeta.
func withRequestMeta(ctx context.Context, m Meta) context.Context {
	return context.WithValue(ctx, metaContextKey{}, m)
}

// RequestMeta returns the _meta object carried by the inbound request or
// notification being handled in ctx, or nil if none was present.
func RequestMeta(ctx context.Context) Meta {
	m, _ := ctx.Value(metaContextKey{}).(Meta)
	return m
}

// Meta is the free-form "_meta" object carried out-of-band on request
// params and results. The only key this engine interprets is
// "progressToken"; everything else passes through opaquely.
type Meta map[string]json.RawMessage

// ProgressToken returns the value of _meta.progressToken, if present and an
// integer. Non-integer tokens are accepted on decode but rejected here,
// matching the spec: "Non-integer tokens trigger a warning but are
// otherwise dropped."
func (m Meta) ProgressToken() (int64, bool) {
	raw, ok := m["progressToken"]
	if !ok {
		return 0, false
	}
	var tok int64
	if err := json.Unmarshal(raw, &tok); err != nil {
		return 0, false
	}
	return tok, true
}

// splitMeta extracts "_meta" from a raw params/result object, accepting
// both the canonical nested form ({"_meta": {...}, "other": ...}) and a
// flattened form some peers emit on notifications where _meta's keys are
// merged directly into params. The canonical encoding (withMeta) always
// nests.
func splitMeta(raw json.RawMessage) (rest json.RawMessage, meta Meta, err error) {
	if len(raw) == 0 {
		return raw, nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		// Not a JSON object (e.g. array params): meta doesn't apply.
		return raw, nil, nil
	}
	if metaRaw, ok := fields["_meta"]; ok {
		var m Meta
		if err := json.Unmarshal(metaRaw, &m); err != nil {
			return raw, nil, err
		}
		delete(fields, "_meta")
		meta = m
	} else if tokRaw, ok := fields["progressToken"]; ok {
		// Some peers flatten progressToken directly into params instead of
		// nesting it under _meta. Accept that shape on decode; the
		// canonical encoder (withMeta) never produces it.
		delete(fields, "progressToken")
		meta = Meta{"progressToken": tokRaw}
	}
	rest, err = json.Marshal(fields)
	if err != nil {
		return raw, nil, err
	}
	return rest, meta, nil
}

// withMeta nests meta into raw as "_meta", the canonical encoding.
func withMeta(raw json.RawMessage, meta Meta) json.RawMessage {
	if len(meta) == 0 {
		if len(raw) == 0 {
			return nil
		}
		return raw
	}
	var fields map[string]json.RawMessage
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &fields)
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return raw
	}
	fields["_meta"] = metaBytes
	out, err := json.Marshal(fields)
	if err != nil {
		return raw
	}
	return out
}

// progressTokenMeta builds a Meta carrying only a progressToken, for
// injecting into outbound request params.
func progressTokenMeta(token int64) Meta {
	tok, _ := json.Marshal(token)
	return Meta{"progressToken": tok}
}
