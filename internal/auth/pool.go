// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package auth

import (
	"context"
	"fmt"
	"sync"
	"weak"

	"github.com/nishisan-dev/stashd/internal/store"
)

// Pool is the process-wide User cache (C6): a single lock guards two weak
// indexes (by username, by id), following original_source/src/info/user.rs's
// UserCache exactly — an implementer MAY collapse this to one map keyed by
// id plus a name→id index; either satisfies the §3 invariant.
type Pool struct {
	store store.Store

	mu     sync.Mutex
	byName map[string]weak.Pointer[User]
	byID   map[uint64]weak.Pointer[User]
}

// NewPool builds an empty cache over st.
func NewPool(st store.Store) *Pool {
	return &Pool{
		store:  st,
		byName: make(map[string]weak.Pointer[User]),
		byID:   make(map[uint64]weak.Pointer[User]),
	}
}

// Get resolves username, serving the live cached *User if its weak
// reference hasn't been collected, otherwise evicting it and querying the
// store. Returns (nil, nil) when the username does not exist.
func (p *Pool) Get(ctx context.Context, username string) (*User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if wp, ok := p.byName[username]; ok {
		if u := wp.Value(); u != nil {
			return u, nil
		}
		delete(p.byName, username)
	}

	rec, err := p.store.UserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("looking up user %q: %w", username, err)
	}
	if rec == nil {
		return nil, nil
	}

	u := &User{ID: rec.ID, Username: rec.Username, passwordHash: rec.PasswordHash}
	p.byName[u.Username] = weak.Make(u)
	p.byID[u.ID] = weak.Make(u)
	return u, nil
}

// GetByID resolves a previously-seen user by id, without ever querying the
// store directly by id (the relational schema has no id-keyed user lookup
// in spec.md §6.3; this only serves users already cached by Get).
func (p *Pool) GetByID(id uint64) *User {
	p.mu.Lock()
	defer p.mu.Unlock()

	wp, ok := p.byID[id]
	if !ok {
		return nil
	}
	if u := wp.Value(); u != nil {
		return u
	}
	delete(p.byID, id)
	return nil
}
