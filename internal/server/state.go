// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/nishisan-dev/stashd/internal/audit"
	"github.com/nishisan-dev/stashd/internal/auth"
	"github.com/nishisan-dev/stashd/internal/protocol"
	"github.com/nishisan-dev/stashd/internal/store"
)

// Phase is the per-connection state (spec.md §3, §4.4): Auth, Command, End.
// Transitions are monotonic toward End.
type Phase int

const (
	PhaseAuth Phase = iota
	PhaseCommand
	PhaseEnd
)

// ErrUnsupportedAddr mirrors original_source/src/frontend.rs's
// UnsupportenAddr: the wire protocol authenticates by username/password and
// audits by packed IPv4 octets, so an IPv6 peer has nowhere to go.
var ErrUnsupportedAddr = errors.New("IPv6 clients are not supported")

// PeerIPv4 extracts the packed IPv4 octets of addr, rejecting IPv6 peers.
func PeerIPv4(addr net.Addr) (uint32, error) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected peer address type %T", addr)
	}
	ip4 := tcpAddr.IP.To4()
	if ip4 == nil {
		return 0, ErrUnsupportedAddr
	}
	return audit.PackIPv4([4]byte{ip4[0], ip4[1], ip4[2], ip4[3]}), nil
}

// eventSink mirrors admin.EventStore's PushEvent signature, letting the
// admin surface's event ring observe the same decision points as the audit
// log without internal/server importing internal/admin's HTTP plumbing.
type eventSink interface {
	PushEvent(level string, eventType protocol.AuditEvent, remote, message string)
}

// Conn is the per-connection protocol state machine (C4). It owns no I/O:
// the caller feeds it one physical line at a time and writes back the
// Response it returns.
type Conn struct {
	pool        *auth.Pool
	store       store.Store
	storageRoot string
	logger      *slog.Logger
	limiter     *rate.Limiter
	events      eventSink

	phase     Phase
	principal *auth.User
	peerIPv4  uint32
}

// NewConn builds a fresh Conn in phase Auth. limiter may be nil to disable
// per-connection command throttling (A4). events may be nil to disable the
// admin surface's event ring.
func NewConn(pool *auth.Pool, st store.Store, storageRoot string, logger *slog.Logger, peerIPv4 uint32, limiter *rate.Limiter, events eventSink) *Conn {
	return &Conn{
		pool:        pool,
		store:       st,
		storageRoot: storageRoot,
		logger:      logger,
		limiter:     limiter,
		events:      events,
		phase:       PhaseAuth,
		peerIPv4:    peerIPv4,
	}
}

// remoteString renders peerIPv4 back into dotted-quad form for the admin
// event ring, which is operator-facing and has no use for the packed form.
func remoteString(peerIPv4 uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(peerIPv4>>24), byte(peerIPv4>>16), byte(peerIPv4>>8), byte(peerIPv4))
}

// pushEvent is a no-op when no event sink is configured.
func (c *Conn) pushEvent(level string, eventType protocol.AuditEvent, message string) {
	if c.events != nil {
		c.events.PushEvent(level, eventType, remoteString(c.peerIPv4), message)
	}
}

// Phase reports the current phase, for the caller's read-loop exit check.
func (c *Conn) Phase() Phase { return c.phase }

// Step processes one physical line (without its trailing '\n') and returns
// the Response to write back. A non-nil error is an internal failure: the
// caller writes protocol.ServerErrBytes and tears down the connection
// (spec.md §4.4, §7).
func (c *Conn) Step(ctx context.Context, line []byte) (protocol.Response, error) {
	if c.phase == PhaseEnd {
		return protocol.BadFormat{}, nil
	}

	if !utf8.Valid(line) {
		c.phase = PhaseEnd
		return protocol.BadFormat{}, nil
	}

	text := string(line)
	switch c.phase {
	case PhaseAuth:
		return c.stepAuth(ctx, text)
	case PhaseCommand:
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter: %w", err)
			}
		}
		return c.stepCommand(ctx, text)
	default:
		return protocol.BadFormat{}, nil
	}
}

// stepAuth implements the single-line "<username> <password>" exchange
// (original_source/src/frontend/state.rs's try_login), auditing every
// attempt including an unknown username — see DESIGN.md's note on Testable
// Property 5, which the source itself doesn't satisfy for that case.
func (c *Conn) stepAuth(ctx context.Context, line string) (protocol.Response, error) {
	username, password, ok := strings.Cut(line, " ")
	if !ok {
		c.phase = PhaseEnd
		return protocol.BadFormat{}, nil
	}

	user, err := c.pool.Get(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	if user == nil {
		c.phase = PhaseEnd
		if err := audit.Log(ctx, c.store, nil, c.peerIPv4, protocol.EventAuth, false, ""); err != nil {
			return nil, err
		}
		c.pushEvent("warn", protocol.EventAuth, "unknown username")
		return protocol.NoAuth{}, nil
	}

	if !user.CheckPassword(password) {
		c.phase = PhaseEnd
		if err := audit.Log(ctx, c.store, user, c.peerIPv4, protocol.EventAuth, false, ""); err != nil {
			return nil, err
		}
		c.pushEvent("warn", protocol.EventAuth, "wrong password for "+username)
		return protocol.NoAuth{}, nil
	}

	c.principal = user
	c.phase = PhaseCommand
	if err := audit.Log(ctx, c.store, user, c.peerIPv4, protocol.EventAuth, true, ""); err != nil {
		return nil, err
	}
	c.pushEvent("info", protocol.EventAuth, "login ok for "+username)
	return protocol.Empty{}, nil
}

// stepCommand dispatches the Command-phase grammar of spec.md §4.4:
// `list stashes`, `list files <stash>`, `download <stash> <path>`.
func (c *Conn) stepCommand(ctx context.Context, line string) (protocol.Response, error) {
	if line == "" {
		return protocol.None{}, nil
	}

	cmd, rest, hasRest := strings.Cut(line, " ")
	switch cmd {
	case "list":
		if !hasRest {
			return protocol.NoCmd{}, nil
		}
		sub, arg, hasArg := strings.Cut(rest, " ")
		switch sub {
		case "stashes":
			if hasArg {
				return protocol.BadArgs{}, nil
			}
			return c.cmdListStashes(ctx)
		case "files":
			if !hasArg || arg == "" {
				return protocol.BadArgs{}, nil
			}
			return c.cmdListFiles(ctx, arg)
		default:
			return protocol.NoCmd{}, nil
		}
	case "download":
		if !hasRest {
			return protocol.BadArgs{}, nil
		}
		stashName, path, ok := strings.Cut(rest, " ")
		if !ok || stashName == "" || path == "" {
			return protocol.BadArgs{}, nil
		}
		return c.cmdDownload(ctx, stashName, path)
	default:
		return protocol.NoCmd{}, nil
	}
}

func (c *Conn) cmdListStashes(ctx context.Context) (protocol.Response, error) {
	names, err := c.principal.StashNames(ctx, c.store)
	if err != nil {
		return nil, err
	}
	return protocol.Lines(names), nil
}

func (c *Conn) cmdListFiles(ctx context.Context, stashName string) (protocol.Response, error) {
	s, err := c.principal.Stash(ctx, c.store, stashName)
	if err != nil {
		return nil, err
	}
	if s == nil {
		if err := audit.Log(ctx, c.store, c.principal, c.peerIPv4, protocol.EventList, false, stashName); err != nil {
			return nil, err
		}
		c.pushEvent("warn", protocol.EventList, "no such stash "+stashName)
		return protocol.NoStash{}, nil
	}

	names := s.Names()
	lines := make([]string, len(names))
	for i, name := range names {
		updateTime, _ := s.UpdateTime(name)
		lines[i] = fmt.Sprintf("%s %d", name, updateTime)
	}
	if err := audit.Log(ctx, c.store, c.principal, c.peerIPv4, protocol.EventList, true, stashName); err != nil {
		return nil, err
	}
	c.pushEvent("info", protocol.EventList, "listed "+stashName)
	return protocol.Lines(lines), nil
}

func (c *Conn) cmdDownload(ctx context.Context, stashName, path string) (protocol.Response, error) {
	s, err := c.principal.Stash(ctx, c.store, stashName)
	if err != nil {
		return nil, err
	}
	info := stashName + "/" + path

	if s == nil {
		if err := audit.Log(ctx, c.store, c.principal, c.peerIPv4, protocol.EventDownload, false, info); err != nil {
			return nil, err
		}
		c.pushEvent("warn", protocol.EventDownload, "no such stash "+stashName)
		return protocol.NoStash{}, nil
	}

	file, ok := s.Open(c.storageRoot, path, c.logger)
	if !ok {
		if err := audit.Log(ctx, c.store, c.principal, c.peerIPv4, protocol.EventDownload, false, info); err != nil {
			return nil, err
		}
		c.pushEvent("warn", protocol.EventDownload, "no such file "+info)
		return protocol.NoFile{}, nil
	}

	data, err := file.Read()
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", stashName, path, err)
	}

	if err := audit.Log(ctx, c.store, c.principal, c.peerIPv4, protocol.EventDownload, true, info); err != nil {
		return nil, err
	}
	c.pushEvent("info", protocol.EventDownload, "downloaded "+info)
	return protocol.Binary(data), nil
}
