// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	isatty "github.com/mattn/go-isatty"
	"golang.org/x/mcp/internal/event"
	"golang.org/x/mcp/internal/jsonrpc2"
	"golang.org/x/sys/unix"
)

// streamTransport implements Transport over a pair of byte streams using
// newline-delimited JSON framing (component B/E): reads accumulate into a
// jsonrpc2.ReadBuffer until a full line is available, writes append a
// trailing newline.
type streamTransport struct {
	r io.Reader
	w io.Writer

	readBuf *jsonrpc2.ReadBuffer

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	onClose   func() error

	sessionID string
}

func newStreamTransport(r io.Reader, w io.Writer, onClose func() error) *streamTransport {
	return &streamTransport{
		r:       r,
		w:       w,
		readBuf: jsonrpc2.NewReadBuffer(),
		closed:  make(chan struct{}),
		onClose: onClose,
	}
}

func (t *streamTransport) Read(ctx context.Context) (jsonrpc2.Message, error) {
	for {
		msg, err := t.readBuf.ReadMessage()
		if err != nil {
			// Malformed line: discarded already by ReadBuffer; keep
			// reading from the next line rather than failing the
			// transport outright, per the framing spec (4.B).
			event.Error(ctx, "discarding malformed line", err)
			continue
		}
		if msg != nil {
			return msg, nil
		}
		select {
		case <-t.closed:
			return nil, ErrTransportClosed
		default:
		}
		chunk := make([]byte, 64*1024)
		n, rerr := t.r.Read(chunk)
		if n > 0 {
			t.readBuf.Append(chunk[:n])
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil, io.EOF
			}
			return nil, rerr
		}
	}
}

func (t *streamTransport) Write(ctx context.Context, msg jsonrpc2.Message) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	data, err := jsonrpc2.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	data = append(data, '\n')
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.w.Write(data)
	return err
}

func (t *streamTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.onClose != nil {
			err = t.onClose()
		}
	})
	return err
}

func (t *streamTransport) SessionID() string { return t.sessionID }

// stdioDialer connects to the current process's own stdin/stdout: it is
// itself the transport, not a dialer of something external.
type stdioDialer struct{}

func (stdioDialer) Connect(ctx context.Context) (Transport, error) {
	return newStreamTransport(os.Stdin, os.Stdout, nil), nil
}

// NewStdioTransport returns a Transport that reads newline-delimited JSON
// from this process's stdin and writes to its stdout, the shape a server
// launched as a child process communicates over.
func NewStdioTransport() Transport {
	return newStreamTransport(os.Stdin, os.Stdout, nil)
}

// NewInMemoryTransports returns two Transports wired directly to each
// other via in-process pipes, for testing client/server pairs without a
// subprocess or network hop.
func NewInMemoryTransports() (client, server Transport) {
	cr, sw := io.Pipe()
	sr, cw := io.Pipe()
	client = newStreamTransport(cr, cw, func() error { return errors.Join(cr.Close(), cw.Close()) })
	server = newStreamTransport(sr, sw, func() error { return errors.Join(sr.Close(), sw.Close()) })
	return client, server
}

// CommandTransport is a Dialer that launches a child process and
// communicates with it over its stdin/stdout, used by clients that spawn
// their own MCP servers.
type CommandTransport struct {
	// Command is the executable to run.
	Command string
	// Args are the command-line arguments, not including argv[0].
	Args []string
	// Dir is the child's working directory; empty means inherit.
	Dir string
	// Env is the child's environment; nil means inherit the current
	// process's environment.
	Env []string
	// Stderr receives the child's standard error. If nil, the child's
	// stderr is forwarded to this process's stderr, with a "[child] "
	// prefix on each chunk the child writes when the destination isn't
	// a terminal (so output
	// interleaves sensibly in a log file or CI console), and without one
	// when it is (so an interactive terminal shows the child's raw
	// output).
	Stderr io.Writer
}

func (c *CommandTransport) Connect(ctx context.Context) (Transport, error) {
	cmd := exec.Command(c.Command, c.Args...)
	cmd.Dir = c.Dir
	if c.Env != nil {
		cmd.Env = c.Env
	}
	cmd.Stderr = c.stderr()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %q: %w", c.Command, err)
	}

	pt := &processTransport{cmd: cmd}
	pt.streamTransport = newStreamTransport(stdout, stdin, pt.shutdown)
	return pt, nil
}

func (c *CommandTransport) stderr() io.Writer {
	if c.Stderr != nil {
		return c.Stderr
	}
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return os.Stderr
	}
	return &prefixWriter{w: os.Stderr, prefix: "[child] "}
}

// prefixWriter writes its prefix once before the bytes of each Write call,
// used for non-tty child stderr so interleaved logs stay attributable. It
// does not split on newlines: a Write holding several lines gets a single
// prefix, and a line written in two Writes gets a prefix on each part.
type prefixWriter struct {
	w      io.Writer
	prefix string
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	_, err := fmt.Fprintf(p.w, "%s%s", p.prefix, b)
	return len(b), err
}

// processTransport is a streamTransport whose Close also terminates the
// child process: SIGTERM, wait up to 2s, then SIGKILL.
type processTransport struct {
	*streamTransport
	cmd *exec.Cmd
}

func (p *processTransport) shutdown() error {
	if p.cmd.Process == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()

	if err := p.cmd.Process.Signal(unix.SIGTERM); err != nil {
		event.Error(context.Background(), "sending SIGTERM", err)
	}
	select {
	case err := <-done:
		logExit(p.cmd, err)
		return err
	case <-time.After(2 * time.Second):
	}
	if err := p.cmd.Process.Signal(unix.SIGKILL); err != nil {
		event.Error(context.Background(), "sending SIGKILL", err)
	}
	err := <-done
	logExit(p.cmd, err)
	return err
}

func logExit(cmd *exec.Cmd, waitErr error) {
	if cmd.ProcessState == nil {
		return
	}
	event.Log(context.Background(), "child process exited",
		event.String("command", cmd.Path),
		event.Int("exitCode", cmd.ProcessState.ExitCode()))
}
