// Copyright 2025-2026 The blewatch Authors. All rights reserved.
// Use of this source code is governed by the MIT license
// included in the LICENSE file of this repository.

package agent

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blewatch/blewatch/pkg/config"
	"github.com/blewatch/blewatch/pkg/scanner"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// fakeRadio drives the session from tests without BLE hardware.
type fakeRadio struct {
	started chan struct{}
	cb      func(scanner.Advertisement)
	stops   atomic.Int32
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{started: make(chan struct{})}
}

func (r *fakeRadio) StartScan(cb func(scanner.Advertisement), fatal func(error)) error {
	r.cb = cb
	close(r.started)
	return nil
}

func (r *fakeRadio) StopScan() error {
	r.stops.Add(1)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Watchlist = []string{"AA:BB:CC:DD:EE:FF"}
	cfg.Health.Enabled = false
	return cfg
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	return records
}

func TestAgentEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	radio := newFakeRadio()

	a, err := New(cfg, radio, "test", zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	select {
	case <-radio.started:
	case <-time.After(2 * time.Second):
		t.Fatal("radio never started")
	}

	radio.cb(scanner.Advertisement{Addr: "aa:bb:cc:dd:ee:ff", RSSI: -42, LocalName: "Sensor1"})
	radio.cb(scanner.Advertisement{Addr: "11:22:33:44:55:66", RSSI: -60, LocalName: "Other"})

	// Let the sinks drain before cancelling.
	deadline := time.Now().Add(2 * time.Second)
	for a.csv.Rows() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned %v, want nil on cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if got := radio.stops.Load(); got != 1 {
		t.Errorf("StopScan called %d times, want 1", got)
	}

	records := readCSV(t, a.OutputPath())
	if len(records) != 2 {
		t.Fatalf("got %d CSV records, want header + 1 row", len(records))
	}
	row := records[1]
	if row[1] != "aa:bb:cc:dd:ee:ff" || row[2] != "-42" || row[3] != "Sensor1" {
		t.Errorf("unexpected row: %v", row)
	}
}

func TestAgentEmptyWatchlistNotice(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	cfg := testConfig(t)
	cfg.Watchlist = nil
	radio := newFakeRadio()

	a, err := New(cfg, radio, "test", zap.New(core))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	found := false
	for _, entry := range logs.All() {
		if strings.Contains(entry.Message, "watchlist is empty") {
			found = true
		}
	}
	if !found {
		t.Error("no empty-watchlist warning logged")
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()
	<-radio.started

	radio.cb(scanner.Advertisement{Addr: "aa:bb:cc:dd:ee:ff", RSSI: -42, LocalName: "Sensor1"})

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Empty watchlist matches nothing: header only.
	if records := readCSV(t, a.OutputPath()); len(records) != 1 {
		t.Errorf("got %d CSV records, want header only", len(records))
	}
}

func TestAgentConstructorFailureReleasesRun(t *testing.T) {
	cfg := testConfig(t)
	// Dialing without transport credentials fails synchronously, after
	// the CSV writer and run directory already exist.
	cfg.Exporters.OTLP.Enabled = true
	cfg.Exporters.OTLP.Endpoint = "localhost:4317"
	cfg.Exporters.OTLP.Insecure = false

	if _, err := New(cfg, newFakeRadio(), "test", zap.NewNop()); err == nil {
		t.Fatal("New succeeded, want forwarder construction error")
	}

	// The abandoned run must leave nothing behind.
	entries, err := os.ReadDir(filepath.Join(cfg.DataDir, "runs"))
	if err != nil {
		t.Fatalf("read runs dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("abandoned run left %d entries in runs dir", len(entries))
	}
}

func TestCreateRunDirUnique(t *testing.T) {
	dataDir := t.TempDir()

	first, err := createRunDir(dataDir)
	if err != nil {
		t.Fatalf("first createRunDir: %v", err)
	}
	second, err := createRunDir(dataDir)
	if err != nil {
		t.Fatalf("second createRunDir: %v", err)
	}

	if first == second {
		t.Fatalf("run directories collide: %s", first)
	}
	for _, dir := range []string{first, second} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("run dir %s not created: %v", dir, err)
		}
	}
}
