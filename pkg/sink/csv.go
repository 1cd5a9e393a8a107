// Copyright 2025-2026 The blewatch Authors. All rights reserved.
// Use of this source code is governed by the MIT license
// included in the LICENSE file of this repository.

// Package sink holds the pipeline consumers: the durable CSV writer,
// the console reporter, and the optional SQLite archive.
package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/blewatch/blewatch/pkg/event"
	"go.uber.org/zap"
)

// DefaultMaxConsecutiveFailures is the write-failure threshold after
// which the writer escalates to a fatal stop.
const DefaultMaxConsecutiveFailures = 5

var csvHeader = []string{"timestamp_ns", "identifier", "signal_strength", "name"}

// CSVWriter appends one row per observation to an append-only CSV
// file, forcing every row to stable storage before the next is
// accepted. A crash loses at most the in-flight record. The file
// handle is exclusively owned by the writer.
type CSVWriter struct {
	path   string
	f      *os.File
	w      *csv.Writer
	logger *zap.Logger

	maxConsecutive int
	consecutive    int
	rows           atomic.Uint64
	failures       atomic.Uint64
}

// NewCSVWriter creates (or truncates) the target file and writes the
// header row. Failure here is fatal for the run: no output location
// means nothing to record into.
func NewCSVWriter(path string, maxConsecutiveFailures int, logger *zap.Logger) (*CSVWriter, error) {
	if maxConsecutiveFailures <= 0 {
		maxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}

	cw := &CSVWriter{
		path:           path,
		f:              f,
		w:              csv.NewWriter(f),
		logger:         logger,
		maxConsecutive: maxConsecutiveFailures,
	}

	if err := cw.w.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	cw.w.Flush()
	if err := cw.w.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush header: %w", err)
	}
	if err := cw.sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("sync header: %w", err)
	}

	return cw, nil
}

// Run drains ch until it is closed and its backlog is empty. A failed
// row write is logged and the run continues; maxConsecutive failures
// in a row invoke onFatal once and keep draining (the coordinator
// decides when to cut the producer off).
func (cw *CSVWriter) Run(ch <-chan event.Event, onFatal func(error)) {
	for ev := range ch {
		if err := cw.write(ev); err != nil {
			cw.consecutive++
			cw.failures.Add(1)
			cw.logger.Warn("row write failed",
				zap.String("identifier", ev.Addr),
				zap.Int("consecutive", cw.consecutive),
				zap.Error(err),
			)
			if cw.consecutive == cw.maxConsecutive && onFatal != nil {
				onFatal(fmt.Errorf("csv writer: %d consecutive write failures: %w", cw.consecutive, err))
				onFatal = nil
			}
			continue
		}
		cw.consecutive = 0
		cw.rows.Add(1)
	}
}

// write appends one record and forces it to stable storage. The
// flush-per-row fsync is the pipeline's accepted latency bottleneck;
// durability wins over throughput here.
func (cw *CSVWriter) write(ev event.Event) error {
	rec := []string{
		strconv.FormatInt(ev.TimestampNS(), 10),
		ev.Addr,
		strconv.FormatInt(int64(ev.RSSI), 10),
		ev.Name,
	}
	if err := cw.w.Write(rec); err != nil {
		return err
	}
	cw.w.Flush()
	if err := cw.w.Error(); err != nil {
		return err
	}
	return cw.sync()
}

// Close flushes any buffered output and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.w.Flush()
	if err := cw.w.Error(); err != nil {
		cw.f.Close()
		return fmt.Errorf("final flush: %w", err)
	}
	if err := cw.sync(); err != nil {
		cw.f.Close()
		return fmt.Errorf("final sync: %w", err)
	}
	return cw.f.Close()
}

// Path returns the output file location.
func (cw *CSVWriter) Path() string {
	return cw.path
}

// Rows returns the number of data rows durably written.
func (cw *CSVWriter) Rows() uint64 {
	return cw.rows.Load()
}

// Failures returns the total number of failed row writes.
func (cw *CSVWriter) Failures() uint64 {
	return cw.failures.Load()
}
