// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"net"
	"sync"
)

// Acceptor owns the listening socket and a stop flag racing every Accept
// call, modeled on original_source/src/frontend/acceptor.rs's Stopper: the
// source stashes a waker on the listener's readiness future so that
// triggering stop both flips a flag and wakes a suspended accept. Go has no
// equivalent suspended-future to wake — closing the listener itself
// unblocks whatever goroutine is parked in ln.Accept() inside the netpoller
// — so Stop both records that it fired and closes the listener, and Accept
// consults the flag first so a connection accepted in the same instant as
// Stop is never handed back as live.
type Acceptor struct {
	ln net.Listener

	stopped chan struct{}
	once    sync.Once
}

// NewAcceptor wraps ln.
func NewAcceptor(ln net.Listener) *Acceptor {
	return &Acceptor{ln: ln, stopped: make(chan struct{})}
}

// Stop triggers the stop flag, idempotently. Safe to call from any
// goroutine, any number of times.
func (a *Acceptor) Stop() {
	a.once.Do(func() {
		close(a.stopped)
		a.ln.Close()
	})
}

// Accept blocks for the next inbound connection. ok is false exactly once
// stop has fired, and never true again afterward (Testable Property 7);
// conn is nil whenever ok is false. A non-nil err with ok true is a
// transient accept error — not terminal, the caller should call Accept
// again.
func (a *Acceptor) Accept() (conn net.Conn, err error, ok bool) {
	select {
	case <-a.stopped:
		return nil, nil, false
	default:
	}

	conn, err = a.ln.Accept()
	if err != nil {
		select {
		case <-a.stopped:
			return nil, nil, false
		default:
			return nil, err, true
		}
	}
	return conn, nil, true
}
