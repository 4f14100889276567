// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package auth implements the User Pool (C6): a weak/upgrade-or-evict cache
// of users over the relational store, plus password verification.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"weak"

	"golang.org/x/crypto/sha3"

	"github.com/nishisan-dev/stashd/internal/stash"
	"github.com/nishisan-dev/stashd/internal/store"
)

// User is a cached relational-store row plus its own per-user Stash cache
// (spec.md §3; original_source/src/info/user.rs).
type User struct {
	ID           uint64
	Username     string
	passwordHash string

	mu      sync.Mutex
	stashes map[string]weak.Pointer[stash.Stash]
}

// CheckPassword verifies password against the stored "<salt>.<hex>"
// SHA3-256 digest (original_source/src/info/user.rs's check_password).
func (u *User) CheckPassword(password string) bool {
	salt, wantHex, ok := strings.Cut(u.passwordHash, ".")
	if !ok {
		return false
	}
	sum := sha3.Sum256([]byte(salt + password))
	got := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(wantHex)) == 1
}

// Stash returns the cached *stash.Stash for name, upgrading the weak
// reference if it is still alive, evicting it and reloading from the store
// otherwise (the same weak/upgrade-or-evict discipline as the user pool
// itself, applied per-user).
func (u *User) Stash(ctx context.Context, st store.Store, name string) (*stash.Stash, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if wp, ok := u.stashes[name]; ok {
		if s := wp.Value(); s != nil {
			return s, nil
		}
		delete(u.stashes, name)
	}

	rec, err := st.StashByOwnerAndName(ctx, u.ID, name)
	if err != nil {
		return nil, fmt.Errorf("looking up stash %q for user %d: %w", name, u.ID, err)
	}
	if rec == nil {
		return nil, nil
	}

	s, err := stash.Load(ctx, st, rec.ID)
	if err != nil {
		return nil, err
	}

	if u.stashes == nil {
		u.stashes = make(map[string]weak.Pointer[stash.Stash])
	}
	u.stashes[name] = weak.Make(s)
	return s, nil
}

// StashNames lists the stash names this user owns, straight from the store
// (not served from the per-stash cache, since the cache only holds stashes
// already resolved by name).
func (u *User) StashNames(ctx context.Context, st store.Store) ([]string, error) {
	names, err := st.StashNamesByOwner(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("listing stashes for user %d: %w", u.ID, err)
	}
	return names, nil
}
