// Copyright 2025-2026 The blewatch Authors. All rights reserved.
// Use of this source code is governed by the MIT license
// included in the LICENSE file of this repository.

// Package health tracks self-monitoring counters for the sniffer and
// serves them over HTTP.
package health

import (
	"os"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Stats tracks pipeline counters for the running process.
type Stats struct {
	startTime time.Time
	proc      *process.Process

	AdvertisementsSeen atomic.Int64
	EventsMatched      atomic.Int64
	PacketErrors       atomic.Int64

	mu     sync.RWMutex
	gauges map[string]func() int64
}

// NewStats creates a Stats instance anchored at the current time.
func NewStats() *Stats {
	s := &Stats{
		startTime: time.Now(),
		gauges:    make(map[string]func() int64),
	}
	// Best effort; self-PID lookup only fails on exotic platforms.
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = p
	}
	return s
}

// Uptime returns time since the run started.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// RegisterGauge exposes a counter owned by another component (e.g. the
// fan-out drop counters or sink row counts) under name. The function is
// read at snapshot time and must be safe for concurrent use.
func (s *Stats) RegisterGauge(name string, fn func() int64) {
	s.mu.Lock()
	s.gauges[name] = fn
	s.mu.Unlock()
}

// Snapshot is a point-in-time copy of all counters plus process
// self-metrics.
type Snapshot struct {
	UptimeSeconds      float64
	Goroutines         int
	MemoryRSSBytes     uint64
	CPUPercent         float64
	AdvertisementsSeen int64
	EventsMatched      int64
	PacketErrors       int64
	Gauges             map[string]int64
}

// Snapshot returns current stats.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		UptimeSeconds:      s.Uptime().Seconds(),
		Goroutines:         runtime.NumGoroutine(),
		AdvertisementsSeen: s.AdvertisementsSeen.Load(),
		EventsMatched:      s.EventsMatched.Load(),
		PacketErrors:       s.PacketErrors.Load(),
		Gauges:             make(map[string]int64),
	}

	if s.proc != nil {
		if mem, err := s.proc.MemoryInfo(); err == nil {
			snap.MemoryRSSBytes = mem.RSS
		}
		if pct, err := s.proc.CPUPercent(); err == nil {
			snap.CPUPercent = pct
		}
	}

	s.mu.RLock()
	for name, fn := range s.gauges {
		snap.Gauges[name] = fn()
	}
	s.mu.RUnlock()

	return snap
}

// PrometheusMetrics returns stats in Prometheus text exposition format.
func (s *Stats) PrometheusMetrics() string {
	snap := s.Snapshot()

	var b []byte
	b = appendMetric(b, "blewatch_uptime_seconds", "gauge", "Run uptime in seconds", snap.UptimeSeconds)
	b = appendMetric(b, "blewatch_goroutines", "gauge", "Number of goroutines", float64(snap.Goroutines))
	b = appendMetric(b, "blewatch_memory_rss_bytes", "gauge", "Resident memory in bytes", float64(snap.MemoryRSSBytes))
	b = appendMetric(b, "blewatch_cpu_percent", "gauge", "Process CPU usage percent", snap.CPUPercent)
	b = appendMetric(b, "blewatch_advertisements_seen_total", "counter", "Advertisements received from the radio", float64(snap.AdvertisementsSeen))
	b = appendMetric(b, "blewatch_events_matched_total", "counter", "Advertisements matching the watchlist", float64(snap.EventsMatched))
	b = appendMetric(b, "blewatch_packet_errors_total", "counter", "Per-packet processing errors", float64(snap.PacketErrors))

	names := make([]string, 0, len(snap.Gauges))
	for name := range snap.Gauges {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b = appendMetric(b, "blewatch_"+name, "counter", "Pipeline counter "+name, float64(snap.Gauges[name]))
	}

	return string(b)
}

func appendMetric(b []byte, name, typ, help string, value float64) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, '\n')
	b = append(b, "# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, typ...)
	b = append(b, '\n')
	b = append(b, name...)
	b = append(b, ' ')
	b = strconv.AppendFloat(b, value, 'f', -1, 64)
	b = append(b, '\n')
	return b
}
