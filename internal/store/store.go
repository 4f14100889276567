// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package store defines the relational-store boundary (A3) consumed by the
// user pool (C6), the stash cache (C7), and the audit log (C8), and
// provides a PostgreSQL-backed implementation via database/sql + lib/pq.
package store

import "context"

// UserRecord is the row shape of the `user` table (spec.md §6.3).
type UserRecord struct {
	ID           uint64
	Username     string
	PasswordHash string // "<salt>.<sha3-256 hex>"
}

// StashRecord is the row shape of the `stash` table.
type StashRecord struct {
	ID    uint64
	Owner uint64
	Name  string
}

// FileRecord is the row shape of the `file` table.
type FileRecord struct {
	ID         uint64
	Stash      uint64
	Name       string
	UpdateTime uint64
}

// AuditRow is one insertion into the `audit` table. UserID is nil when the
// attempt never resolved to a known user (e.g. auth against an unknown
// username).
type AuditRow struct {
	UserID  *uint64
	Address uint32
	Event   string
	Success bool
	Info    string
}

// Store is the relational-store boundary. Lookups that find nothing return
// a nil pointer (or empty slice) and a nil error; only genuine I/O failures
// are returned as errors.
type Store interface {
	UserByUsername(ctx context.Context, username string) (*UserRecord, error)
	StashByOwnerAndName(ctx context.Context, owner uint64, name string) (*StashRecord, error)
	StashNamesByOwner(ctx context.Context, owner uint64) ([]string, error)
	FilesByStash(ctx context.Context, stash uint64) ([]FileRecord, error)
	InsertAudit(ctx context.Context, row AuditRow) error
}
