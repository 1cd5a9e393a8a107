// Copyright 2025-2026 The blewatch Authors. All rights reserved.
// Use of this source code is governed by the MIT license
// included in the LICENSE file of this repository.

package sink

import (
	"bytes"
	"strings"
	"testing"

	"github.com/blewatch/blewatch/pkg/event"
)

func TestConsoleReporterFormat(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleReporter(&buf)

	ch := make(chan event.Event, 2)
	ch <- testEvent(1000, "aa:bb:cc:dd:ee:ff", -42, "Sensor1")
	ch <- testEvent(2000, "60:c0:bf:49:2a:e9", -77, "Unknown")
	close(ch)
	r.Run(ch)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	want := "ts_ns=1000 | addr=aa:bb:cc:dd:ee:ff | rssi=-42 | name=Sensor1"
	if lines[0] != want {
		t.Errorf("line = %q, want %q", lines[0], want)
	}
	if r.Lines() != 2 {
		t.Errorf("Lines() = %d, want 2", r.Lines())
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errWriteRefused
}

var errWriteRefused = &writeRefusedError{}

type writeRefusedError struct{}

func (*writeRefusedError) Error() string { return "write refused" }

func TestConsoleReporterWriteErrorsNonFatal(t *testing.T) {
	r := NewConsoleReporter(failingWriter{})

	ch := make(chan event.Event, 1)
	ch <- testEvent(1000, "aa:bb:cc:dd:ee:ff", -42, "Sensor1")
	close(ch)

	// Must drain without panicking; console output is best-effort.
	r.Run(ch)
}
