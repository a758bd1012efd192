// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonrpc2

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"unicode/utf8"
)

// Reader abstracts the transport mechanics from the JSON RPC protocol.
// A reader is not safe for concurrent use; it is expected that it will be
// used by a single logical connection in a serialized manner.
type Reader interface {
	// Read gets the next message from the stream.
	Read(context.Context) (Message, error)
}

// Writer abstracts the transport mechanics from the JSON RPC protocol.
// A writer is not safe for concurrent use.
type Writer interface {
	// Write sends a message to the stream.
	Write(context.Context, Message) error
}

// Framer wraps low level byte readers and writers into jsonrpc2 message
// readers and writers. It is responsible for the framing and encoding of
// messages into wire form.
type Framer interface {
	// Reader wraps a byte reader into a message reader.
	Reader(io.Reader) Reader
	// Writer wraps a byte writer into a message writer.
	Writer(io.Writer) Writer
}

// NewlineFramer returns a Framer that delimits messages with a single '\n'
// (0x0A) byte, per the stdio framing rules in the spec: encoding is UTF-8,
// one JSON value per line, no Content-Length headers.
func NewlineFramer() Framer { return newlineFramer{} }

type newlineFramer struct{}

func (newlineFramer) Reader(r io.Reader) Reader {
	return &newlineReader{buf: NewReadBuffer(), src: r}
}

func (newlineFramer) Writer(w io.Writer) Writer {
	return &newlineWriter{out: w}
}

type newlineReader struct {
	buf *ReadBuffer
	src io.Reader
	tmp [4096]byte
}

func (r *newlineReader) Read(ctx context.Context) (Message, error) {
	for {
		if msg, err := r.buf.ReadMessage(); msg != nil || err != nil {
			return msg, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		n, err := r.src.Read(r.tmp[:])
		if n > 0 {
			r.buf.Append(r.tmp[:n])
		}
		if err != nil {
			// Drain anything already buffered before reporting the error, so a
			// final unterminated line isn't silently lost.
			if msg, merr := r.buf.ReadMessage(); msg != nil || merr != nil {
				return msg, merr
			}
			return nil, err
		}
	}
}

type newlineWriter struct{ out io.Writer }

func (w *newlineWriter) Write(ctx context.Context, msg Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	data, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	data = append(data, '\n')
	_, err = w.out.Write(data)
	return err
}

// ReadBuffer accumulates bytes from a byte stream and extracts at most one
// complete '\n'-delimited message per call to ReadMessage. It is the
// mechanism transports use to turn arbitrarily-chunked byte deliveries (a
// partial line, several lines, a line split across two reads) into a clean
// message sequence: invariant 2 of the spec ("framing separation") holds
// regardless of how Append is chunked.
type ReadBuffer struct {
	data []byte
}

// NewReadBuffer returns an empty ReadBuffer.
func NewReadBuffer() *ReadBuffer {
	return &ReadBuffer{}
}

// Append adds bytes received from the stream to the buffer.
func (b *ReadBuffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// ReadMessage extracts and decodes at most one complete message from the
// buffer. It returns (nil, nil) if no complete line is buffered yet. A
// decode or UTF-8 error discards bytes up to (and including) the offending
// newline and returns the error; the next call resumes parsing from the
// following line, per the spec's discard-and-resync rule.
func (b *ReadBuffer) ReadMessage() (Message, error) {
	for {
		nl := bytes.IndexByte(b.data, '\n')
		if nl < 0 {
			return nil, nil
		}
		line := b.data[:nl]
		b.data = b.data[nl+1:]

		if !utf8.Valid(line) {
			return nil, fmt.Errorf("%w: invalid UTF-8 in line", ErrParse)
		}
		if len(bytes.TrimSpace(line)) == 0 {
			// Blank lines are not messages; keep reading.
			continue
		}
		msg, err := DecodeMessage(line)
		if err != nil {
			return nil, err
		}
		return msg, nil
	}
}
