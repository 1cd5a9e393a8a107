// Copyright 2025-2026 The blewatch Authors. All rights reserved.
// Use of this source code is governed by the MIT license
// included in the LICENSE file of this repository.

// Package pipeline provides the bounded fan-out connecting the radio
// callback to its consumers. Each subscriber owns an independent
// bounded channel, so a slow consumer (disk) cannot starve a fast one
// (console); overflow is handled per subscriber with a non-blocking
// drop-and-count policy.
package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/blewatch/blewatch/pkg/event"
)

// DefaultCapacity tolerates short advertisement bursts without
// blocking the radio callback.
const DefaultCapacity = 512

var (
	ErrClosed           = errors.New("pipeline: fanout closed")
	ErrSubscriberExists = errors.New("pipeline: subscriber already registered")
)

// SubscriberStats is a point-in-time snapshot of one subscriber's
// delivery counters.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriber struct {
	name    string
	ch      chan event.Event
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Fanout distributes each published event to every subscriber channel.
// Publish is safe to call from the radio callback goroutine while
// consumers dequeue concurrently; the channels are the only shared
// mutable state and the counters are atomic.
type Fanout struct {
	mu        sync.RWMutex
	subs      []*subscriber
	closed    bool
	published atomic.Uint64
}

// New creates an empty Fanout.
func New() *Fanout {
	return &Fanout{}
}

// Subscribe registers a named consumer with its own bounded channel and
// returns the receive side. capacity <= 0 selects DefaultCapacity.
// All subscriptions must happen before the first Publish.
func (f *Fanout) Subscribe(name string, capacity int) (<-chan event.Event, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}
	for _, s := range f.subs {
		if s.name == name {
			return nil, ErrSubscriberExists
		}
	}

	s := &subscriber{name: name, ch: make(chan event.Event, capacity)}
	f.subs = append(f.subs, s)
	return s.ch, nil
}

// Publish delivers ev to every subscriber without blocking. A full
// subscriber channel drops the event for that subscriber only and
// increments its drop counter. Publishing after Close is a no-op.
func (f *Fanout) Publish(ev event.Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return
	}

	f.published.Add(1)
	for _, s := range f.subs {
		select {
		case s.ch <- ev:
			s.sent.Add(1)
		default:
			s.dropped.Add(1)
		}
	}
}

// Close closes every subscriber channel so consumers drain their
// backlog and exit. Idempotent.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for _, s := range f.subs {
		close(s.ch)
	}
}

// Published returns the total number of events accepted for fan-out.
func (f *Fanout) Published() uint64 {
	return f.published.Load()
}

// Stats returns per-subscriber delivery counters keyed by subscriber
// name.
func (f *Fanout) Stats() map[string]SubscriberStats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string]SubscriberStats, len(f.subs))
	for _, s := range f.subs {
		out[s.name] = SubscriberStats{
			Sent:    s.sent.Load(),
			Dropped: s.dropped.Load(),
		}
	}
	return out
}

// Dropped returns the sum of all subscriber drop counters.
func (f *Fanout) Dropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var total uint64
	for _, s := range f.subs {
		total += s.dropped.Load()
	}
	return total
}
