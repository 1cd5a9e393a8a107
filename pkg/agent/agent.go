// Copyright 2025-2026 The blewatch Authors. All rights reserved.
// Use of this source code is governed by the MIT license
// included in the LICENSE file of this repository.

// Package agent wires the scan session, fan-out, and sinks together
// and manages process-wide lifecycle for one run.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blewatch/blewatch/pkg/config"
	"github.com/blewatch/blewatch/pkg/event"
	"github.com/blewatch/blewatch/pkg/export"
	"github.com/blewatch/blewatch/pkg/health"
	"github.com/blewatch/blewatch/pkg/pipeline"
	"github.com/blewatch/blewatch/pkg/scanner"
	"github.com/blewatch/blewatch/pkg/sink"
	"go.uber.org/zap"
)

// runDirLayout is the timestamp layout for per-run directory names.
// Nanosecond resolution plus a collision retry in createRunDir makes
// run locations unique even for back-to-back starts.
const runDirLayout = "20060102_150405.000000000"

// Agent owns one run: the per-run output location, the session, the
// fan-out, and every consumer.
type Agent struct {
	cfg    *config.Config
	logger *zap.Logger

	watch   *event.Watchlist
	fanout  *pipeline.Fanout
	session *scanner.Session
	stats   *health.Stats

	csv       *sink.CSVWriter
	console   *sink.ConsoleReporter
	archive   *sink.SQLiteArchive
	forwarder *export.OTLPForwarder

	csvCh     <-chan event.Event
	consoleCh <-chan event.Event
	archiveCh <-chan event.Event
	otlpCh    <-chan event.Event

	healthServer *health.Server

	runDir  string
	wg      sync.WaitGroup
	fatalCh chan error
}

// New builds an agent from configuration: creates the per-run output
// location, constructs sinks and the session, and wires the channels.
// Failure to create any configured output location is fatal for the
// run and surfaced immediately, with no retry.
func New(cfg *config.Config, radio scanner.Radio, version string, logger *zap.Logger) (*Agent, error) {
	a := &Agent{
		cfg:     cfg,
		logger:  logger,
		fatalCh: make(chan error, 1),
	}

	a.watch = event.NewWatchlist(cfg.Watchlist)
	if a.watch.Empty() {
		logger.Warn("watchlist is empty; no advertisements will be matched")
	}

	runDir, err := createRunDir(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	a.runDir = runDir

	a.stats = health.NewStats()
	a.fanout = pipeline.New()

	capacity := cfg.Pipeline.Capacity
	if a.csvCh, err = a.fanout.Subscribe("csv", capacity); err != nil {
		return nil, err
	}
	if a.consoleCh, err = a.fanout.Subscribe("console", capacity); err != nil {
		return nil, err
	}

	csvPath := filepath.Join(runDir, "ble_events_"+filepath.Base(runDir)+".csv")
	if a.csv, err = sink.NewCSVWriter(csvPath, cfg.Writer.MaxConsecutiveFailures, logger); err != nil {
		os.RemoveAll(runDir)
		return nil, err
	}
	a.console = sink.NewConsoleReporter(os.Stdout)

	// A failure past this point abandons the run before it produced
	// anything; release the file handle and the fresh directory.
	fail := func(err error) (*Agent, error) {
		a.csv.Close()
		if a.archive != nil {
			a.archive.Close()
		}
		os.RemoveAll(runDir)
		return nil, err
	}

	if cfg.Archive.Enabled {
		if a.archiveCh, err = a.fanout.Subscribe("archive", capacity); err != nil {
			return fail(err)
		}
		if a.archive, err = sink.NewSQLiteArchive(filepath.Join(runDir, "archive.db"), logger); err != nil {
			return fail(err)
		}
	}

	if cfg.Exporters.OTLP.Enabled {
		if a.otlpCh, err = a.fanout.Subscribe("otlp", capacity); err != nil {
			return fail(err)
		}
		if a.forwarder, err = export.NewOTLPForwarder(&cfg.Exporters.OTLP, logger); err != nil {
			return fail(fmt.Errorf("create otlp forwarder: %w", err))
		}
	}

	a.session = scanner.New(radio, a.watch, a.fanout, a.stats, logger)

	a.stats.RegisterGauge("events_dropped", func() int64 { return int64(a.fanout.Dropped()) })
	a.stats.RegisterGauge("csv_rows_written", func() int64 { return int64(a.csv.Rows()) })
	a.stats.RegisterGauge("console_lines", func() int64 { return int64(a.console.Lines()) })
	if a.archive != nil {
		a.stats.RegisterGauge("archive_rows", func() int64 { return int64(a.archive.Inserted()) })
	}
	if a.forwarder != nil {
		a.stats.RegisterGauge("otlp_exported", func() int64 { return int64(a.forwarder.Exported()) })
	}

	if cfg.Health.Enabled {
		a.healthServer = health.NewServer(cfg.Health.Port, version, a.stats, logger)
		a.healthServer.SetOutput(csvPath)
	}

	return a, nil
}

// RunDir returns the per-run output directory.
func (a *Agent) RunDir() string {
	return a.runDir
}

// OutputPath returns the CSV file location for this run.
func (a *Agent) OutputPath() string {
	return a.csv.Path()
}

// Run starts consumers and the scan session, then blocks until the
// session stops. Shutdown order: session reaches Stopped → consumer
// channels close → sinks drain their backlog → file handles close.
// Returns nil on a clean cancellation and the causing error on a fatal
// radio or writer failure.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.healthServer != nil {
		if err := a.healthServer.Start(ctx); err != nil {
			return fmt.Errorf("start health server: %w", err)
		}
	}

	a.logger.Info("run started",
		zap.String("output", a.csv.Path()),
		zap.Int("watchlist_size", a.watch.Len()),
		zap.Bool("archive", a.archive != nil),
		zap.Bool("otlp", a.forwarder != nil),
	)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.csv.Run(a.csvCh, func(err error) {
			// Writer escalation ends the run; the in-flight record is
			// completed or cleanly abandoned before the file closes.
			a.reportFatal(err)
			cancel()
		})
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.console.Run(a.consoleCh)
	}()

	if a.archive != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.archive.Run(a.archiveCh)
		}()
	}

	if a.forwarder != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.forwarder.Run(a.otlpCh)
		}()
	}

	statusDone := make(chan struct{})
	go a.statusLoop(ctx, statusDone)

	if a.healthServer != nil {
		a.healthServer.SetReady(true)
	}

	runErr := a.session.Run(ctx)

	if a.healthServer != nil {
		a.healthServer.SetReady(false)
	}

	// The session is Stopped; no more events will be published.
	a.fanout.Close()
	a.wg.Wait()

	cancel()
	<-statusDone

	if err := a.csv.Close(); err != nil {
		a.logger.Error("close output file", zap.Error(err))
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.logger.Error("close archive", zap.Error(err))
		}
	}
	if a.forwarder != nil {
		if err := a.forwarder.Close(); err != nil {
			a.logger.Error("close otlp forwarder", zap.Error(err))
		}
	}
	if a.healthServer != nil {
		a.healthServer.Stop()
	}

	snap := a.stats.Snapshot()
	a.logger.Info("run finished",
		zap.Int64("advertisements_seen", snap.AdvertisementsSeen),
		zap.Int64("events_matched", snap.EventsMatched),
		zap.Uint64("events_dropped", a.fanout.Dropped()),
		zap.Uint64("rows_written", a.csv.Rows()),
		zap.String("output", a.csv.Path()),
	)

	if runErr != nil {
		return runErr
	}
	select {
	case err := <-a.fatalCh:
		return err
	default:
	}
	return nil
}

// statusLoop periodically surfaces pipeline counters, including the
// drop counters, to the console.
func (a *Agent) statusLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := a.cfg.Pipeline.StatusInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snap := a.stats.Snapshot()
			a.logger.Info("pipeline status",
				zap.Int64("advertisements_seen", snap.AdvertisementsSeen),
				zap.Int64("events_matched", snap.EventsMatched),
				zap.Uint64("events_dropped", a.fanout.Dropped()),
				zap.Uint64("rows_written", a.csv.Rows()),
			)
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) reportFatal(err error) {
	select {
	case a.fatalCh <- err:
	default:
	}
}

// createRunDir makes a unique per-run directory under dataDir/runs.
// os.Mkdir (not MkdirAll) on the leaf detects collisions; a numeric
// suffix resolves them.
func createRunDir(dataDir string) (string, error) {
	base := filepath.Join(dataDir, "runs")
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", err
	}

	stamp := time.Now().Format(runDirLayout)
	for i := 0; ; i++ {
		name := stamp
		if i > 0 {
			name = fmt.Sprintf("%s_%d", stamp, i)
		}
		dir := filepath.Join(base, name)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !os.IsExist(err) {
			return "", err
		}
	}
}
