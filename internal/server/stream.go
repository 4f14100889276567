// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package server implements the stashd-server connection lifecycle: the TLS
// handshake, the acceptor, the per-connection protocol state machine, and
// the supervisor that ties them to the shared caches and the audit log.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
)

// Handshake drives raw to a ready *tls.Server connection bound to ctx.
//
// The async-carrier source this is adapted from stashes a scheduler wakeup
// on the socket and re-enters a synchronous TLS engine across readiness
// boundaries, because its runtime is a single-threaded cooperative
// scheduler that cannot otherwise suspend mid-engine-call. Go's runtime
// already parks the calling goroutine on socket readiness inside
// crypto/tls itself (every tls.Conn method blocks on the netpoller, not on
// a task scheduler), so that bridge collapses to nothing: HandshakeContext
// drives the handshake to completion directly, and watchCancel below
// supplies the other half of the contract — unblocking the goroutine if
// ctx is cancelled mid-handshake or (as HandleConnection also uses it)
// mid-read, the same guarantee the source gets from racing the stop flag
// into every suspension point.
func Handshake(ctx context.Context, raw net.Conn, cfg *tls.Config) (*tls.Conn, error) {
	conn := tls.Server(raw, cfg)
	stop := watchCancel(ctx, conn)
	defer stop()

	if err := conn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("TLS handshake: %w", err)
	}
	return conn, nil
}

// rawConn is the subset of net.Conn that watchCancel needs; kept narrow so
// any closable connection (raw or *tls.Conn) can be watched.
type rawConn interface {
	Close() error
}

// watchCancel closes conn as soon as ctx is cancelled, unblocking whatever
// blocking read or write is in flight on it, and returns a func that
// retires the watcher once the caller no longer needs it (so a connection
// that finishes normally doesn't leak a goroutine parked on ctx.Done()).
func watchCancel(ctx context.Context, conn rawConn) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}
