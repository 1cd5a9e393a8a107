// Copyright 2025-2026 The blewatch Authors. All rights reserved.
// Use of this source code is governed by the MIT license
// included in the LICENSE file of this repository.

package sink

import (
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/blewatch/blewatch/pkg/event"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS observations (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp_ns    INTEGER NOT NULL,
	identifier      TEXT    NOT NULL,
	signal_strength INTEGER NOT NULL,
	name            TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_observations_identifier ON observations(identifier);
`

// SQLiteArchive is an optional secondary sink recording observations in
// a queryable SQLite database alongside the per-run CSV. Insert
// failures are logged and skipped; the archive is never fatal to the
// run.
type SQLiteArchive struct {
	db       *sql.DB
	logger   *zap.Logger
	inserted atomic.Uint64
}

// NewSQLiteArchive opens (creating if needed) the archive database.
func NewSQLiteArchive(path string, logger *zap.Logger) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}

	// SQLite only allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create archive schema: %w", err)
	}

	return &SQLiteArchive{db: db, logger: logger}, nil
}

// Run drains ch until it is closed and its backlog is empty, inserting
// one row per observation.
func (a *SQLiteArchive) Run(ch <-chan event.Event) {
	for ev := range ch {
		_, err := a.db.Exec(
			"INSERT INTO observations (timestamp_ns, identifier, signal_strength, name) VALUES (?, ?, ?, ?)",
			ev.TimestampNS(), ev.Addr, int64(ev.RSSI), ev.Name,
		)
		if err != nil {
			a.logger.Warn("archive insert failed", zap.String("identifier", ev.Addr), zap.Error(err))
			continue
		}
		a.inserted.Add(1)
	}
}

// Inserted returns the number of archived observations.
func (a *SQLiteArchive) Inserted() uint64 {
	return a.inserted.Load()
}

// Close closes the database handle.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}
