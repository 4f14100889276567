// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nishisan-dev/stashd/internal/auth"
	"github.com/nishisan-dev/stashd/internal/protocol"
	"github.com/nishisan-dev/stashd/internal/store"
)

func TestHandleConnection_FullSession(t *testing.T) {
	st := store.NewMemStore()
	st.AddUser(store.UserRecord{ID: 1, Username: "alice", PasswordHash: hashPassword("s", "hunter2")})
	st.AddStash(store.StashRecord{ID: 10, Owner: 1, Name: "personal"})
	st.AddFile(store.FileRecord{ID: 100, Stash: 10, Name: "notes.txt", UpdateTime: 42})

	storageRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(storageRoot, "100"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("writing blob: %v", err)
	}

	cert := generateTestCert(t)
	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS13}
	clientCfg := &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS13}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	pool := auth.NewPool(st)
	h := NewHandler(pool, st, storageRoot, discardLogger(), serverCfg, 0, 0)

	go func() {
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		h.HandleConnection(context.Background(), raw)
	}()

	conn, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
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
	if resp.Kind != "ok:l" || len(resp.Lines) != 1 || resp.Lines[0] != "personal" {
		t.Fatalf("expected [personal], got %+v", resp)
	}

	if _, err := conn.Write([]byte("download personal notes.txt\n")); err != nil {
		t.Fatalf("writing download: %v", err)
	}
	resp, err = protocol.Decode(r)
	if err != nil {
		t.Fatalf("decoding download response: %v", err)
	}
	if resp.Kind != "ok:b" || string(resp.Binary) != "hello" {
		t.Fatalf("expected binary 'hello', got %+v", resp)
	}
}

func TestHandleConnection_WrongPasswordClosesConnection(t *testing.T) {
	st := store.NewMemStore()
	st.AddUser(store.UserRecord{ID: 1, Username: "alice", PasswordHash: hashPassword("s", "hunter2")})

	cert := generateTestCert(t)
	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS13}
	clientCfg := &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS13}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	pool := auth.NewPool(st)
	h := NewHandler(pool, st, t.TempDir(), discardLogger(), serverCfg, 0, 0)

	go func() {
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		h.HandleConnection(context.Background(), raw)
	}()

	conn, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	r := bufio.NewReader(conn)
	if _, err := conn.Write([]byte("alice badpw\n")); err != nil {
		t.Fatalf("writing auth line: %v", err)
	}
	resp, err := protocol.Decode(r)
	if err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Kind != "err:auth" {
		t.Fatalf("expected err:auth, got %+v", resp)
	}

	rows := st.Audits()
	if len(rows) != 1 || rows[0].Success {
		t.Fatalf("expected one failed audit row, got %+v", rows)
	}
}

type recordingEvents struct {
	pushed []string
}

func (r *recordingEvents) PushEvent(level string, eventType protocol.AuditEvent, remote, message string) {
	r.pushed = append(r.pushed, string(eventType)+":"+message)
}

func TestHandleConnection_PushesAdminEventsOnAuth(t *testing.T) {
	st := store.NewMemStore()
	st.AddUser(store.UserRecord{ID: 1, Username: "alice", PasswordHash: hashPassword("s", "hunter2")})

	cert := generateTestCert(t)
	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS13}
	clientCfg := &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS13}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	pool := auth.NewPool(st)
	h := NewHandler(pool, st, t.TempDir(), discardLogger(), serverCfg, 0, 0)
	events := &recordingEvents{}
	h.SetEvents(events)

	go func() {
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		h.HandleConnection(context.Background(), raw)
	}()

	conn, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	r := bufio.NewReader(conn)
	if _, err := conn.Write([]byte("alice hunter2\n")); err != nil {
		t.Fatalf("writing auth line: %v", err)
	}
	if _, err := protocol.Decode(r); err != nil {
		t.Fatalf("decoding response: %v", err)
	}

	if len(events.pushed) != 1 || events.pushed[0] != "AUTH:login ok for alice" {
		t.Fatalf("expected one auth event, got %+v", events.pushed)
	}
}

func TestHandler_MetricsSourceAccessors(t *testing.T) {
	st := store.NewMemStore()
	pool := auth.NewPool(st)
	cert := generateTestCert(t)
	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	h := NewHandler(pool, st, t.TempDir(), discardLogger(), serverCfg, 0, 0)

	h.ActiveConns.Store(2)
	h.Downloads.Store(5)

	if h.ActiveConnections() != 2 {
		t.Errorf("expected ActiveConnections() == 2, got %d", h.ActiveConnections())
	}
	if h.TotalDownloads() != 5 {
		t.Errorf("expected TotalDownloads() == 5, got %d", h.TotalDownloads())
	}
}
