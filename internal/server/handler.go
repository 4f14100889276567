// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nishisan-dev/stashd/internal/auth"
	"github.com/nishisan-dev/stashd/internal/protocol"
	"github.com/nishisan-dev/stashd/internal/store"
)

// Handler drives individual connections through the TLS handshake and the
// protocol state machine.
type Handler struct {
	pool        *auth.Pool
	store       store.Store
	storageRoot string
	logger      *slog.Logger
	tlsCfg      *tls.Config

	rateLimit float64
	rateBurst int
	events    eventSink

	// Métricas observáveis pelo admin surface (A6).
	ActiveConns atomic.Int32
	Downloads   atomic.Int64
}

// NewHandler builds a Handler over the shared pool, store, and TLS config.
// rateLimit <= 0 disables per-connection command throttling.
func NewHandler(pool *auth.Pool, st store.Store, storageRoot string, logger *slog.Logger, tlsCfg *tls.Config, rateLimit float64, rateBurst int) *Handler {
	return &Handler{
		pool:        pool,
		store:       st,
		storageRoot: storageRoot,
		logger:      logger,
		tlsCfg:      tlsCfg,
		rateLimit:   rateLimit,
		rateBurst:   rateBurst,
	}
}

// SetEvents wires the admin surface's event ring into every subsequent
// connection. Optional: a nil sink (the default) disables it.
func (h *Handler) SetEvents(events eventSink) { h.events = events }

// HandleConnection drives raw through the handshake and the per-connection
// read loop until the peer disconnects, the state machine reaches End, or
// an internal error tears the connection down (spec.md §4.4, §7).
func (h *Handler) HandleConnection(ctx context.Context, raw net.Conn) {
	h.ActiveConns.Add(1)
	defer h.ActiveConns.Add(-1)
	defer raw.Close()

	// conn_id lets an operator grep one connection's lines out of the log
	// sink even though every connection writes to the same file (A7).
	logger := h.logger.With("remote", raw.RemoteAddr().String(), "conn_id", uuid.NewString())

	peerIPv4, err := PeerIPv4(raw.RemoteAddr())
	if err != nil {
		logger.Warn("rejecting connection", "error", err)
		return
	}

	tlsConn, err := Handshake(ctx, raw, h.tlsCfg)
	if err != nil {
		logger.Error("TLS handshake failed", "error", err)
		return
	}
	defer tlsConn.Close()

	// Closing tlsConn once ctx is cancelled unblocks a read parked in
	// ReadFrame, so supervisor shutdown never waits on an idle peer.
	stopWatch := watchCancel(ctx, tlsConn)
	defer stopWatch()

	limiter := newCommandLimiter(h.rateLimit, h.rateBurst)
	conn := NewConn(h.pool, h.store, h.storageRoot, logger, peerIPv4, limiter, h.events)
	fr := protocol.NewFrameReader()

	onLine := func(line []byte) error {
		resp, stepErr := conn.Step(ctx, line)
		if stepErr != nil {
			if _, writeErr := tlsConn.Write(protocol.ServerErrBytes); writeErr != nil {
				return writeErr
			}
			return stepErr
		}
		if _, ok := resp.(protocol.Binary); ok {
			h.Downloads.Add(1)
		}
		return protocol.Encode(tlsConn, resp)
	}

	for conn.Phase() != PhaseEnd {
		err := fr.ReadFrame(tlsConn, onLine)
		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, io.EOF):
			logger.Debug("connection closed by peer")
		case errors.Is(err, protocol.ErrLineTooLong):
			logger.Warn("line exceeds frame buffer, closing connection")
			protocol.Encode(tlsConn, protocol.BadFormat{})
		default:
			logger.Error("connection ended with error", "error", err)
		}
		return
	}
}

// ActiveConnections implements admin.MetricsSource.
func (h *Handler) ActiveConnections() int32 { return h.ActiveConns.Load() }

// TotalDownloads implements admin.MetricsSource.
func (h *Handler) TotalDownloads() int64 { return h.Downloads.Load() }
