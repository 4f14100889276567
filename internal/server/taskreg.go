// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"context"
	"math/bits"
	"sync"
)

// taskRegistry assigns a monotone task id to every spawned connection,
// linear-probing past collisions the way original_source/src/main.rs's
// accept loop does with overflowing_add, and keeps each task's cancel func
// so the supervisor can cancel every in-flight connection on shutdown.
type taskRegistry struct {
	mu    sync.Mutex
	next  uint64
	tasks map[uint64]context.CancelFunc
	wg    sync.WaitGroup
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{tasks: make(map[uint64]context.CancelFunc)}
}

// spawn registers a new task id, derives a cancellable context from parent,
// and runs fn in its own goroutine, deregistering the id when fn returns.
func (r *taskRegistry) spawn(parent context.Context, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	id := r.next
	for {
		if _, taken := r.tasks[id]; !taken {
			break
		}
		id, _ = bits.Add64(id, 1, 0)
	}
	r.tasks[id] = cancel
	r.next, _ = bits.Add64(id, 1, 0)
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		fn(ctx)
		r.mu.Lock()
		delete(r.tasks, id)
		r.mu.Unlock()
	}()
}

// cancelAll cancels every still-registered task's context.
func (r *taskRegistry) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.tasks {
		cancel()
	}
}

// wait blocks until every spawned task has returned.
func (r *taskRegistry) wait() {
	r.wg.Wait()
}
