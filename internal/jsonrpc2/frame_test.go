// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonrpc2

import (
	"testing"
)

// TestReadBufferSeparatesArbitraryChunking is invariant 2 from the spec:
// for any sequence of envelopes serialized concatenated, the framed reader
// yields exactly that sequence in order, regardless of how the input is
// chunked.
func TestReadBufferSeparatesArbitraryChunking(t *testing.T) {
	lines := []string{
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":1,"result":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/progress","params":{"progressToken":1}}`,
	}
	var full []byte
	for _, l := range lines {
		full = append(full, []byte(l+"\n")...)
	}

	for _, chunkSize := range []int{1, 3, 17, len(full), len(full) + 10} {
		buf := NewReadBuffer()
		var got []Message
		for offset := 0; offset < len(full); offset += chunkSize {
			end := offset + chunkSize
			if end > len(full) {
				end = len(full)
			}
			buf.Append(full[offset:end])
			for {
				msg, err := buf.ReadMessage()
				if err != nil {
					t.Fatalf("chunkSize=%d: ReadMessage: %v", chunkSize, err)
				}
				if msg == nil {
					break
				}
				got = append(got, msg)
			}
		}
		if len(got) != len(lines) {
			t.Fatalf("chunkSize=%d: got %d messages, want %d", chunkSize, len(got), len(lines))
		}
	}
}

func TestReadBufferResyncsAfterBadUTF8(t *testing.T) {
	buf := NewReadBuffer()
	bad := append([]byte{0xff, 0xfe}, '\n')
	good := []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n")
	buf.Append(bad)
	buf.Append(good)

	if _, err := buf.ReadMessage(); err == nil {
		t.Fatalf("expected an error for malformed UTF-8")
	}
	msg, err := buf.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage after resync: %v", err)
	}
	req, ok := msg.(*Request)
	if !ok || req.Method != "ping" {
		t.Fatalf("got %#v, want a ping request", msg)
	}
}
