// Copyright 2025-2026 The blewatch Authors. All rights reserved.
// Use of this source code is governed by the MIT license
// included in the LICENSE file of this repository.

// Package scanner owns the radio handle and runs the scan session: it
// registers the advertisement callback, filters against the watchlist,
// and fans matched observations out to the consumer channels.
package scanner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blewatch/blewatch/pkg/event"
	"github.com/blewatch/blewatch/pkg/health"
	"github.com/blewatch/blewatch/pkg/pipeline"
	"go.uber.org/zap"
)

// Advertisement is one broadcast packet as delivered by the radio
// driver: a raw identifier, a signal-strength reading, and an optional
// human-readable name.
type Advertisement struct {
	Addr      string
	RSSI      int16
	LocalName string
}

// Radio abstracts the BLE driver so the session can be tested without
// hardware.
type Radio interface {
	// StartScan begins asynchronous advertisement delivery. cb runs on
	// whatever goroutine the radio stack uses and must be treated as a
	// concurrent producer. fatal is invoked at most once if scanning
	// aborts after a successful start.
	StartScan(cb func(Advertisement), fatal func(error)) error

	// StopScan halts scanning. Safe to call when scanning never
	// started or has already stopped.
	StopScan() error
}

// State is the session lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session drives one scan run: Idle → Starting → Running → Stopping →
// Stopped, with Failed terminal when the radio cannot start. The radio
// handle is exclusively owned by the session.
type Session struct {
	radio  Radio
	watch  *event.Watchlist
	out    *pipeline.Fanout
	stats  *health.Stats
	logger *zap.Logger

	state    atomic.Int32
	fatalCh  chan error
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a session. The watchlist is read-only for the lifetime of
// the run; no other component may write to it.
func New(radio Radio, watch *event.Watchlist, out *pipeline.Fanout, stats *health.Stats, logger *zap.Logger) *Session {
	return &Session{
		radio:   radio,
		watch:   watch,
		out:     out,
		stats:   stats,
		logger:  logger,
		fatalCh: make(chan error, 1),
		stopCh:  make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Stop requests shutdown out of band. Safe to call at any time,
// including before Run and after the session has already stopped; a
// second call is a no-op.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Run starts the radio and blocks until ctx is cancelled, Stop is
// called, or the radio reports a fatal error. Teardown is always
// attempted before returning; a failed start is not retried.
func (s *Session) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return fmt.Errorf("scanner: session already started (state %s)", s.State())
	}

	if err := s.radio.StartScan(s.handleAdvertisement, s.reportFatal); err != nil {
		s.state.Store(int32(StateFailed))
		return fmt.Errorf("start scan: %w", err)
	}
	s.state.Store(int32(StateRunning))
	s.logger.Info("scanning started", zap.Int("watchlist_size", s.watch.Len()))

	var cause error
	select {
	case <-ctx.Done():
		s.logger.Info("scan cancelled")
	case <-s.stopCh:
		s.logger.Info("scan stop requested")
	case err := <-s.fatalCh:
		s.logger.Error("radio reported fatal error", zap.Error(err))
		cause = err
	}

	s.teardown()
	return cause
}

// teardown moves Running → Stopping → Stopped. Stop failures are
// logged but never block the transition to Stopped; a stop call that
// itself errors must not leave the process hung.
func (s *Session) teardown() {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return
	}
	if err := s.radio.StopScan(); err != nil {
		s.logger.Warn("radio stop failed", zap.Error(err))
	}
	s.state.Store(int32(StateStopped))
	s.logger.Info("scanning stopped")
}

// reportFatal delivers at most one fatal radio error to Run.
func (s *Session) reportFatal(err error) {
	select {
	case s.fatalCh <- err:
	default:
	}
}

// handleAdvertisement runs on the radio's callback goroutine for every
// received packet: normalize, filter, stamp, fan out. One malformed
// packet must never stop the scan, so any processing panic is contained
// here.
func (s *Session) handleAdvertisement(adv Advertisement) {
	defer func() {
		if r := recover(); r != nil {
			s.stats.PacketErrors.Add(1)
			s.logger.Error("advertisement processing failed", zap.Any("panic", r), zap.String("addr", adv.Addr))
		}
	}()

	s.stats.AdvertisementsSeen.Add(1)

	addr := event.Normalize(adv.Addr)
	if !s.watch.Contains(addr) {
		return
	}

	ev := event.New(time.Now(), addr, adv.RSSI, adv.LocalName)
	s.out.Publish(ev)
	s.stats.EventsMatched.Add(1)
}
