// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonrpc2

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRequestRoundTrip(t *testing.T) {
	call, err := NewCall(Int64ID(7), "tools/call", map[string]any{"name": "calc"})
	if err != nil {
		t.Fatal(err)
	}
	data, err := EncodeMessage(call)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	req, ok := got.(*Request)
	if !ok {
		t.Fatalf("decoded %T, want *Request", got)
	}
	if !req.IsCall() {
		t.Errorf("IsCall() = false, want true")
	}
	if diff := cmp.Diff(call.Method, req.Method); diff != "" {
		t.Errorf("Method mismatch (-want +got):\n%s", diff)
	}
	if req.ID.Raw() != int64(7) {
		t.Errorf("ID = %v, want 7", req.ID.Raw())
	}
}

func TestNotificationHasNoID(t *testing.T) {
	note, err := NewNotification("notifications/progress", map[string]any{"progressToken": 1})
	if err != nil {
		t.Fatal(err)
	}
	if note.IsCall() {
		t.Errorf("IsCall() = true for a notification")
	}
	data, err := EncodeMessage(note)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["id"]; ok {
		t.Errorf("encoded notification carries an id field")
	}
}

func TestResponseErrorRoundTrip(t *testing.T) {
	werr := NewWireError(CodeMethodNotFound, "unknown method %q", "frobnicate")
	resp, err := NewResponse(StringID("abc"), nil, werr)
	if err != nil {
		t.Fatal(err)
	}
	data, err := EncodeMessage(resp)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	gotResp, ok := got.(*Response)
	if !ok {
		t.Fatalf("decoded %T, want *Response", got)
	}
	var wire *WireError
	if !errors.As(gotResp.Error, &wire) {
		t.Fatalf("Error is not a *WireError: %v", gotResp.Error)
	}
	if wire.Code != CodeMethodNotFound {
		t.Errorf("Code = %d, want %d", wire.Code, CodeMethodNotFound)
	}
}

func TestDecodeMessageRejectsWrongVersion(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`))
	if !errors.Is(err, ErrParse) {
		t.Errorf("err = %v, want ErrParse", err)
	}
}

func TestDecodeMessageRejectsBareResponse(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","result":{}}`))
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("err = %v, want ErrInvalidRequest", err)
	}
}
