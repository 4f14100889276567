// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/nishisan-dev/stashd/internal/config"
	"github.com/nishisan-dev/stashd/internal/protocol"
	"github.com/nishisan-dev/stashd/internal/store"
)

func TestRunWithListener_ServesOneSession(t *testing.T) {
	st := store.NewMemStore()
	st.AddUser(store.UserRecord{ID: 1, Username: "alice", PasswordHash: hashPassword("s", "hunter2")})
	st.AddStash(store.StashRecord{ID: 10, Owner: 1, Name: "personal"})

	cert := generateTestCert(t)
	serverTLS := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS13}
	clientTLS := &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS13}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	cfg := &config.ServerConfig{StoragePath: t.TempDir(), RateLimit: 0}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() {
		runDone <- RunWithListener(ctx, ln, serverTLS, st, cfg, discardLogger())
	}()

	conn, err := tls.Dial("tcp", ln.Addr().String(), clientTLS)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	r := bufio.NewReader(conn)

	if _, err := conn.Write([]byte("alice hunter2\n")); err != nil {
		t.Fatalf("writing auth line: %v", err)
	}
	resp, err := protocol.Decode(r)
	if err != nil {
		t.Fatalf("decoding auth response: %v", err)
	}
	if resp.Kind != "ok:0" {
		t.Fatalf("expected ok:0, got %+v", resp)
	}

	if _, err := conn.Write([]byte("list stashes\n")); err != nil {
		t.Fatalf("writing list stashes: %v", err)
	}
	resp, err = protocol.Decode(r)
	if err != nil {
		t.Fatalf("decoding list stashes response: %v", err)
	}
	if resp.Kind != "ok:l" || len(resp.Lines) != 1 {
		t.Fatalf("expected [personal], got %+v", resp)
	}
	conn.Close()

	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("RunWithListener returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunWithListener did not shut down after cancel")
	}
}

func TestRunWithListener_ShutsDownOnContextCancel(t *testing.T) {
	st := store.NewMemStore()
	cert := generateTestCert(t)
	serverTLS := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS13}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	cfg := &config.ServerConfig{StoragePath: t.TempDir()}
	ctx, cancel := context.WithCancel(context.Background())

	runDone := make(chan error, 1)
	go func() {
		runDone <- RunWithListener(ctx, ln, serverTLS, st, cfg, discardLogger())
	}()

	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunWithListener did not shut down after cancel")
	}
}
