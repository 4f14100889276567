// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package audit implements the Audit Log (C8): append-only rows recording
// every authentication attempt and privileged command, backed by the
// relational store (A3).
package audit

import (
	"context"
	"fmt"

	"github.com/nishisan-dev/stashd/internal/auth"
	"github.com/nishisan-dev/stashd/internal/protocol"
	"github.com/nishisan-dev/stashd/internal/store"
)

// Log appends one row. principal is nil when the attempt never resolved to
// a known user (e.g. auth against an unknown username) — per spec.md §8
// Testable Property 5, every authentication attempt gets exactly one row,
// including this case, with success=false and no user id.
func Log(ctx context.Context, st store.Store, principal *auth.User, address uint32, event protocol.AuditEvent, success bool, info string) error {
	var userID *uint64
	if principal != nil {
		id := principal.ID
		userID = &id
	}

	row := store.AuditRow{
		UserID:  userID,
		Address: address,
		Event:   string(event),
		Success: success,
		Info:    info,
	}
	if err := st.InsertAudit(ctx, row); err != nil {
		return fmt.Errorf("logging audit event %s: %w", event, err)
	}
	return nil
}

// PackIPv4 packs a 4-byte IPv4 address into a big-endian u32 (spec.md §6.3;
// original_source/src/info/audit.rs's octet-folding).
func PackIPv4(ip [4]byte) uint32 {
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}
