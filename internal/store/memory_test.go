// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package store

import (
	"context"
	"testing"
)

func TestMemStore_UserByUsername_NotFoundReturnsNilNil(t *testing.T) {
	m := NewMemStore()
	rec, err := m.UserByUsername(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestMemStore_RoundTrip(t *testing.T) {
	m := NewMemStore()
	m.AddUser(UserRecord{ID: 1, Username: "alice", PasswordHash: "salt.hash"})
	m.AddStash(StashRecord{ID: 10, Owner: 1, Name: "personal"})
	m.AddFile(FileRecord{ID: 100, Stash: 10, Name: "notes.txt", UpdateTime: 1700000000})

	ctx := context.Background()

	u, err := m.UserByUsername(ctx, "alice")
	if err != nil || u == nil || u.ID != 1 {
		t.Fatalf("UserByUsername: got %+v, err %v", u, err)
	}

	s, err := m.StashByOwnerAndName(ctx, 1, "personal")
	if err != nil || s == nil || s.ID != 10 {
		t.Fatalf("StashByOwnerAndName: got %+v, err %v", s, err)
	}

	names, err := m.StashNamesByOwner(ctx, 1)
	if err != nil || len(names) != 1 || names[0] != "personal" {
		t.Fatalf("StashNamesByOwner: got %v, err %v", names, err)
	}

	files, err := m.FilesByStash(ctx, 10)
	if err != nil || len(files) != 1 || files[0].Name != "notes.txt" {
		t.Fatalf("FilesByStash: got %+v, err %v", files, err)
	}

	if err := m.InsertAudit(ctx, AuditRow{Event: "AUTH", Success: true}); err != nil {
		t.Fatalf("InsertAudit: %v", err)
	}
	if audits := m.Audits(); len(audits) != 1 || audits[0].Event != "AUTH" {
		t.Fatalf("Audits: got %+v", audits)
	}
}

func TestMemStore_StashByOwnerAndName_WrongOwnerNotFound(t *testing.T) {
	m := NewMemStore()
	m.AddStash(StashRecord{ID: 10, Owner: 1, Name: "personal"})

	s, err := m.StashByOwnerAndName(context.Background(), 2, "personal")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != nil {
		t.Fatalf("expected nil for mismatched owner, got %+v", s)
	}
}
