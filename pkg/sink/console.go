// Copyright 2025-2026 The blewatch Authors. All rights reserved.
// Use of this source code is governed by the MIT license
// included in the LICENSE file of this repository.

package sink

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/blewatch/blewatch/pkg/event"
)

// ConsoleReporter prints one human-readable line per observation.
// Console output is best-effort: write errors are dropped and never
// block the pipeline.
type ConsoleReporter struct {
	out   io.Writer
	lines atomic.Uint64
}

// NewConsoleReporter writes event lines to out (normally stdout).
func NewConsoleReporter(out io.Writer) *ConsoleReporter {
	return &ConsoleReporter{out: out}
}

// Run drains ch until it is closed and its backlog is empty.
func (r *ConsoleReporter) Run(ch <-chan event.Event) {
	for ev := range ch {
		// Errors intentionally ignored; a broken console must not
		// stop the scan.
		fmt.Fprintf(r.out, "ts_ns=%d | addr=%s | rssi=%d | name=%s\n",
			ev.TimestampNS(), ev.Addr, ev.RSSI, ev.Name)
		r.lines.Add(1)
	}
}

// Lines returns the number of lines emitted.
func (r *ConsoleReporter) Lines() uint64 {
	return r.lines.Load()
}
