// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package admin

import "github.com/nishisan-dev/stashd/internal/protocol"

// HealthResponse é retornado por GET /healthz (A6).
type HealthResponse struct {
	Status  string       `json:"status"`
	Uptime  string       `json:"uptime"`
	Version string       `json:"version"`
	Go      string       `json:"go"`
	Stats   *ServerStats `json:"stats,omitempty"`
}

// ServerStats contém métricas de runtime do processo do servidor.
type ServerStats struct {
	GoRoutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	HeapSysMB   float64 `json:"heap_sys_mb"`
	GCPauseMs   float64 `json:"gc_pause_ms"`
	GCCycles    uint32  `json:"gc_cycles"`
	CPUCores    int     `json:"cpu_cores"`
}

// EventEntry representa um evento auditável no ring buffer do admin surface.
// Type reusa o mesmo protocol.AuditEvent que internal/audit grava no banco,
// de modo que o operador veja em tempo real exatamente o que também está
// sendo persistido, sem um vocabulário de tipos paralelo.
type EventEntry struct {
	Timestamp string              `json:"timestamp"`
	Level     string              `json:"level"` // info | warn | error
	Type      protocol.AuditEvent `json:"type"`
	Remote    string              `json:"remote,omitempty"`
	Message   string              `json:"message"`
}
