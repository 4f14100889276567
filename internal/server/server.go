// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/nishisan-dev/stashd/internal/admin"
	"github.com/nishisan-dev/stashd/internal/auth"
	"github.com/nishisan-dev/stashd/internal/config"
	"github.com/nishisan-dev/stashd/internal/pki"
	"github.com/nishisan-dev/stashd/internal/store"
)

// Run is the Supervisor (C9): loads TLS, opens the listener and the
// database pool in parallel, then blocks accepting connections until ctx
// is cancelled.
func Run(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) error {
	tlsCfg, err := pki.NewServerTLSConfig(cfg.Certificate, cfg.Key)
	if err != nil {
		return fmt.Errorf("configuring TLS: %w", err)
	}

	type lnResult struct {
		ln  net.Listener
		err error
	}
	type storeResult struct {
		st  *store.PostgresStore
		err error
	}
	lnCh := make(chan lnResult, 1)
	stCh := make(chan storeResult, 1)

	go func() {
		ln, err := net.Listen("tcp", cfg.Host)
		lnCh <- lnResult{ln, err}
	}()
	go func() {
		st, err := store.Open(cfg)
		stCh <- storeResult{st, err}
	}()

	lnRes, stRes := <-lnCh, <-stCh
	if lnRes.err != nil {
		if stRes.st != nil {
			stRes.st.Close()
		}
		return fmt.Errorf("listening on %s: %w", cfg.Host, lnRes.err)
	}
	if stRes.err != nil {
		lnRes.ln.Close()
		return fmt.Errorf("opening database pool: %w", stRes.err)
	}
	defer stRes.st.Close()

	return RunWithListener(ctx, lnRes.ln, tlsCfg, stRes.st, cfg, logger)
}

// RunWithListener runs the supervisor loop against an already-open listener
// and store, so tests can substitute an in-memory listener and store.Store.
func RunWithListener(ctx context.Context, ln net.Listener, tlsCfg *tls.Config, st store.Store, cfg *config.ServerConfig, logger *slog.Logger) error {
	defer ln.Close()

	pool := auth.NewPool(st)
	handler := NewHandler(pool, st, cfg.StoragePath, logger, tlsCfg, cfg.RateLimit, cfg.RateBurst)

	var maint *Maintenance
	if cfg.MaintenanceCron != "" {
		m, err := NewMaintenance(cfg.StoragePath, cfg.MaintenanceCron, logger)
		if err != nil {
			return fmt.Errorf("starting maintenance scheduler: %w", err)
		}
		maint = m
		maint.Start()
		defer maint.Stop()
	}

	if cfg.AdminListen != "" {
		events, err := admin.NewEventStore(filepath.Join(cfg.StoragePath, "admin-events.jsonl"), 200, 10000)
		if err != nil {
			return fmt.Errorf("starting admin event store: %w", err)
		}
		defer events.Close()
		handler.SetEvents(events)

		acl := admin.NewACL(cfg.AdminParsedCIDR)
		adminSrv := &http.Server{Addr: cfg.AdminListen, Handler: admin.NewRouter(handler, acl, events)}
		adminLn, err := net.Listen("tcp", cfg.AdminListen)
		if err != nil {
			return fmt.Errorf("listening on admin address %s: %w", cfg.AdminListen, err)
		}
		go func() {
			if err := adminSrv.Serve(adminLn); err != nil && err != http.ErrServerClosed {
				logger.Error("admin surface stopped", "error", err)
			}
		}()
		defer adminSrv.Close()
		logger.Info("admin surface listening", "address", cfg.AdminListen)
	}

	acceptor := NewAcceptor(ln)
	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		acceptor.Stop()
	}()

	tasks := newTaskRegistry()
	logger.Info("server listening", "address", ln.Addr().String())

	consecutiveErrors := 0
	for {
		conn, err, ok := acceptor.Accept()
		if !ok {
			break
		}
		if err != nil {
			consecutiveErrors++
			logger.Warn("accepting connection", "error", err, "consecutive_errors", consecutiveErrors)
			if consecutiveErrors > 5 {
				delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
				if delay > 5*time.Second {
					delay = 5 * time.Second
				}
				select {
				case <-ctx.Done():
				case <-time.After(delay):
				}
			}
			continue
		}

		consecutiveErrors = 0
		tasks.spawn(ctx, func(taskCtx context.Context) {
			handler.HandleConnection(taskCtx, conn)
		})
	}

	logger.Info("cancelling all tasks")
	tasks.cancelAll()
	tasks.wait()

	logger.Info("server shutdown complete")
	return nil
}
