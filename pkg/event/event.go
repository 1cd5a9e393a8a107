// Copyright 2025-2026 The blewatch Authors. All rights reserved.
// Use of this source code is governed by the MIT license
// included in the LICENSE file of this repository.

// Package event defines the observation record flowing through the
// pipeline and the watchlist it is filtered against.
package event

import (
	"strings"
	"time"
	"unicode/utf8"
)

// UnknownName is recorded when an advertisement carries no local name.
const UnknownName = "Unknown"

// Event is a single matched observation. Immutable once constructed.
type Event struct {
	Time time.Time
	Addr string // canonical device identifier
	RSSI int16  // received signal strength, dBm
	Name string
}

// New builds an Event, substituting UnknownName for an empty name.
// Addr must already be canonical; construction happens after the
// watchlist check, never before.
func New(t time.Time, addr string, rssi int16, name string) Event {
	if name == "" {
		name = UnknownName
	}
	return Event{Time: t, Addr: addr, RSSI: rssi, Name: name}
}

// TimestampNS is the wall-clock capture time in nanoseconds, the value
// persisted in the timestamp_ns column.
func (e Event) TimestampNS() int64 {
	return e.Time.UnixNano()
}

// Normalize canonicalizes a raw device identifier: trimmed of
// surrounding whitespace and lowercased. It runs once per received
// advertisement, so the already-canonical case (the common one for
// BlueZ-style "aa:bb:cc:dd:ee:ff" addresses) returns the input without
// allocating.
func Normalize(raw string) string {
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		// Non-ASCII bytes take the slow path: case folding and the full
		// Unicode whitespace set are rune-level concerns.
		if c >= utf8.RuneSelf {
			return strings.ToLower(strings.TrimSpace(raw))
		}
		if ('A' <= c && c <= 'Z') || c == ' ' || ('\t' <= c && c <= '\r') {
			return strings.ToLower(strings.TrimSpace(raw))
		}
	}
	return raw
}

// Watchlist is the immutable set of canonical identifiers the run cares
// about. Built once at startup; read-only afterwards, so lookups need
// no locking.
type Watchlist struct {
	ids map[string]struct{}
}

// NewWatchlist canonicalizes raw identifiers into a set. Duplicates and
// empty strings are discarded.
func NewWatchlist(raw []string) *Watchlist {
	ids := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		id := Normalize(r)
		if id == "" {
			continue
		}
		ids[id] = struct{}{}
	}
	return &Watchlist{ids: ids}
}

// Contains reports whether id is watched. id must be canonical.
func (w *Watchlist) Contains(id string) bool {
	_, ok := w.ids[id]
	return ok
}

// Len returns the number of watched identifiers.
func (w *Watchlist) Len() int {
	return len(w.ids)
}

// Empty reports whether the watchlist has no entries. An empty
// watchlist is legal; the run simply matches nothing.
func (w *Watchlist) Empty() bool {
	return len(w.ids) == 0
}
