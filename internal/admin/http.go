// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package admin provê a superfície administrativa HTTP do stashd-server: um
// endpoint Prometheus, health check e um ring buffer de eventos auditáveis
// recentes, tudo atrás de uma ACL por IP/CIDR (A6).
package admin

import (
	"encoding/json"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// startTime registra quando o processo iniciou (para cálculo de uptime).
var startTime = time.Now()

// Version é preenchida via ldflags no build (-X ...Version=x.y.z).
var Version = "dev"

// MetricsSource desacopla o pacote admin do server.Handler: só o que o
// admin surface precisa observar atravessa essa interface (A6).
type MetricsSource interface {
	ActiveConnections() int32
	TotalDownloads() int64
}

// ACL restringe o admin surface por IP/CIDR: deny-by-default, liberando
// apenas os ranges em config.ServerConfig.AdminParsedCIDR (spec.md §6.1's
// adminallow). Um operador sem CIDRs configurados não serve nada.
type ACL struct {
	nets []*net.IPNet
}

// NewACL constrói uma ACL a partir dos CIDRs já parseados no carregamento
// da config (config.ServerConfig.AdminParsedCIDR).
func NewACL(cidrs []*net.IPNet) *ACL {
	return &ACL{nets: cidrs}
}

// Allowed reporta se o IP remoto (host:port ou IP puro) cai em algum dos
// CIDRs liberados.
func (a *ACL) Allowed(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	for _, cidr := range a.nets {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// Middleware envolve next, recusando com 403 qualquer peer que a ACL não
// libere antes de chegar nas rotas do admin surface.
func (a *ACL) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Allowed(r.RemoteAddr) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter monta o http.Handler da superfície administrativa: health check,
// métricas Prometheus e o ring buffer de eventos recentes, atrás da ACL.
// store pode ser nil, desabilitando o endpoint de eventos.
func NewRouter(metrics MetricsSource, acl *ACL, store *EventStore) http.Handler {
	reg := newRegistry(metrics)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if store != nil {
		mux.HandleFunc("GET /api/v1/events", makeEventsHandler(store))
	}

	return acl.Middleware(mux)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(startTime)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	var lastPauseMs float64
	if mem.NumGC > 0 {
		// PauseNs é um ring buffer circular de 256 posições.
		lastPauseMs = float64(mem.PauseNs[(mem.NumGC+255)%256]) / 1e6
	}

	resp := HealthResponse{
		Status:  "ok",
		Uptime:  uptime.String(),
		Version: Version,
		Go:      runtime.Version(),
		Stats: &ServerStats{
			GoRoutines:  runtime.NumGoroutine(),
			HeapAllocMB: float64(mem.HeapAlloc) / (1024 * 1024),
			HeapSysMB:   float64(mem.HeapSys) / (1024 * 1024),
			GCPauseMs:   lastPauseMs,
			GCCycles:    mem.NumGC,
			CPUCores:    runtime.NumCPU(),
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func makeEventsHandler(store *EventStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseInt(r.URL.Query().Get("limit"), 50)
		events := store.Recent(limit)
		writeJSON(w, http.StatusOK, events)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func parseInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return defaultVal
	}
	return v
}
