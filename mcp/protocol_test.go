// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnectionPingDefaultHandler(t *testing.T) {
	a, b := NewInMemoryTransports()
	ca := Connect(a, ConnectionOptions{})
	cb := Connect(b, ConnectionOptions{})
	defer ca.Close()
	defer cb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ca.Call(ctx, "ping", &PingParams{}, nil))
}

func TestConnectionConcurrentCallsGetDistinctIDs(t *testing.T) {
	a, b := NewInMemoryTransports()
	reg := NewRegistry()
	RegisterRequest(reg, "echo", func(ctx context.Context, conn *Connection, p *struct{ N int }) (*struct{ N int }, error) {
		return &struct{ N int }{N: p.N}, nil
	})
	ca := Connect(a, ConnectionOptions{})
	cb := Connect(b, ConnectionOptions{Registry: reg})
	defer ca.Close()
	defer cb.Close()

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	results := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			var res struct{ N int }
			errs[i] = ca.Call(ctx, "echo", &struct{ N int }{N: i}, &res)
			results[i] = res.N
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, i, results[i])
	}
}

func TestConnectionCallTimeout(t *testing.T) {
	a, b := NewInMemoryTransports()
	reg := NewRegistry()
	block := make(chan struct{})
	RegisterRequest(reg, "slow", func(ctx context.Context, conn *Connection, p *struct{}) (*struct{}, error) {
		<-block
		return &struct{}{}, nil
	})
	ca := Connect(a, ConnectionOptions{})
	cb := Connect(b, ConnectionOptions{Registry: reg})
	defer ca.Close()
	defer cb.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := ca.Call(ctx, "slow", &struct{}{}, nil, WithTimeout(50*time.Millisecond))
	require.Error(t, err)
}

func TestConnectionMethodNotFound(t *testing.T) {
	a, b := NewInMemoryTransports()
	ca := Connect(a, ConnectionOptions{})
	cb := Connect(b, ConnectionOptions{})
	defer ca.Close()
	defer cb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := ca.Call(ctx, "nonexistent/method", nil, nil)
	require.Error(t, err)
}

// TestInboundRequestCancellationPropagatesContext exercises the cancellation
// invariant: a notifications/cancelled sent by the caller must cancel the
// context passed to the in-flight handler on the callee side, so that no
// response is subsequently written for that request.
func TestInboundRequestCancellationPropagatesContext(t *testing.T) {
	a, b := NewInMemoryTransports()
	reg := NewRegistry()
	started := make(chan struct{})
	cancelled := make(chan struct{}, 1)
	RegisterRequest(reg, "slow", func(ctx context.Context, conn *Connection, p *struct{}) (*struct{}, error) {
		close(started)
		<-ctx.Done()
		cancelled <- struct{}{}
		return nil, ctx.Err()
	})
	ca := Connect(a, ConnectionOptions{})
	cb := Connect(b, ConnectionOptions{Registry: reg})
	defer ca.Close()
	defer cb.Close()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = ca.Call(ctx, "slow", &struct{}{}, nil)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	// ca issued the only request on this connection, so its id is 1.
	require.NoError(t, ca.Notify(context.Background(), "notifications/cancelled", &CancelledParams{RequestID: int64(1)}))

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("inbound handler context was never cancelled")
	}
}

// TestProgressResetsCallTimeout exercises the progress-driven timeout
// extension invariant: a peer that keeps reporting progress on a long-running
// request must not have its call time out, as long as WithProgress was given
// resetTimeoutOnProgress=true.
func TestProgressResetsCallTimeout(t *testing.T) {
	a, b := NewInMemoryTransports()
	reg := NewRegistry()
	release := make(chan struct{})
	RegisterRequest(reg, "slow", func(ctx context.Context, conn *Connection, p *struct{}) (*struct{}, error) {
		meta := RequestMeta(ctx)
		tok, hasTok := meta.ProgressToken()
		// Report progress faster than the caller's configured timeout, so
		// the call survives only if each report actually resets that
		// timeout rather than some other fixed value.
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-release:
				return &struct{}{}, nil
			case <-ticker.C:
				if hasTok {
					_ = conn.Notify(context.Background(), "notifications/progress", &ProgressParams{ProgressToken: tok, Progress: 1})
				}
			}
		}
	})
	ca := Connect(a, ConnectionOptions{})
	cb := Connect(b, ConnectionOptions{Registry: reg})
	defer ca.Close()
	defer cb.Close()

	progressed := make(chan struct{}, 1)
	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errCh <- ca.Call(ctx, "slow", &struct{}{}, nil,
			WithTimeout(150*time.Millisecond),
			WithProgress(true, func(p *ProgressParams) { progressed <- struct{}{} }),
		)
	}()

	select {
	case <-progressed:
	case <-time.After(2 * time.Second):
		t.Fatal("never received progress notification")
	}

	// The handler holds the request open well past the original 150ms
	// timeout. Because it reported progress and the caller asked for
	// resetTimeoutOnProgress, the timeout must have been pushed out rather
	// than firing.
	time.Sleep(300 * time.Millisecond)
	close(release)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("call never completed")
	}
}
