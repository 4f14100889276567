// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package admin

import "github.com/prometheus/client_golang/prometheus"

// collector bridges MetricsSource into the Prometheus collection protocol.
// It samples the handler's atomics on every scrape instead of pushing
// updates, since the handler's counters are cheap atomic reads.
type collector struct {
	source MetricsSource

	activeConns *prometheus.Desc
	downloads   *prometheus.Desc
}

func newCollector(source MetricsSource) *collector {
	return &collector{
		source: source,
		activeConns: prometheus.NewDesc(
			"stashd_active_connections",
			"TLS connections currently open.",
			nil, nil,
		),
		downloads: prometheus.NewDesc(
			"stashd_downloads_total",
			"Total number of successful download commands served.",
			nil, nil,
		),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeConns
	ch <- c.downloads
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.activeConns, prometheus.GaugeValue, float64(c.source.ActiveConnections()))
	ch <- prometheus.MustNewConstMetric(c.downloads, prometheus.CounterValue, float64(c.source.TotalDownloads()))
}

// newRegistry builds a Prometheus registry exposing stashd's own metrics
// plus the Go process collectors (goroutines, GC, memory).
func newRegistry(source MetricsSource) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newCollector(source))
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return reg
}
