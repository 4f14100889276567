// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/disk"
)

// Maintenance runs the A5 periodic heartbeat: disk headroom on the storage
// root, on the schedule configured by maintenancecron. There is no explicit
// cache sweep here — the user pool and stash caches (C6, C7) are weak
// references that evict themselves lazily on the next lookup past a given
// key, exactly like original_source/src/info/user.rs's UserCache, so a
// background sweep would just be racing a cheaper and already-correct path.
type Maintenance struct {
	storageRoot string
	logger      *slog.Logger
	cron        *cron.Cron
}

// NewMaintenance parses schedule (a standard five-field cron expression, or
// one of robfig/cron's "@every"/"@daily" descriptors) and registers the
// heartbeat against it.
func NewMaintenance(storageRoot, schedule string, logger *slog.Logger) (*Maintenance, error) {
	m := &Maintenance{
		storageRoot: storageRoot,
		logger:      logger,
		cron:        cron.New(),
	}
	if _, err := m.cron.AddFunc(schedule, m.tick); err != nil {
		return nil, fmt.Errorf("parsing maintenance schedule %q: %w", schedule, err)
	}
	return m, nil
}

// Start begins running the schedule in its own goroutine.
func (m *Maintenance) Start() {
	m.cron.Start()
}

// Stop waits for any in-flight tick to finish and stops the schedule.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}

func (m *Maintenance) tick() {
	usage, err := disk.Usage(m.storageRoot)
	if err != nil {
		m.logger.Warn("maintenance: reading storage disk usage", "error", err, "path", m.storageRoot)
		return
	}
	m.logger.Info("maintenance heartbeat",
		"storage_path", m.storageRoot,
		"used_percent", usage.UsedPercent,
		"free_bytes", usage.Free,
	)
}
