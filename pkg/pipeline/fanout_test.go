// Copyright 2025-2026 The blewatch Authors. All rights reserved.
// Use of this source code is governed by the MIT license
// included in the LICENSE file of this repository.

package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/blewatch/blewatch/pkg/event"
)

func makeEvent(i int) event.Event {
	return event.New(time.Unix(0, int64(i)), fmt.Sprintf("aa:bb:cc:dd:ee:%02x", i), -42, "Sensor1")
}

func TestFanoutFIFO(t *testing.T) {
	f := New()
	ch, err := f.Subscribe("console", 16)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for i := 0; i < 10; i++ {
		f.Publish(makeEvent(i))
	}
	f.Close()

	i := 0
	for ev := range ch {
		if ev.TimestampNS() != int64(i) {
			t.Fatalf("event %d arrived out of order: timestamp %d", i, ev.TimestampNS())
		}
		i++
	}
	if i != 10 {
		t.Errorf("received %d events, want 10", i)
	}
}

func TestFanoutDropAndCount(t *testing.T) {
	const capacity = 4
	const published = 10

	f := New()
	ch, err := f.Subscribe("csv", capacity)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// No consumer draining: exactly `capacity` events fit, the rest drop.
	for i := 0; i < published; i++ {
		f.Publish(makeEvent(i))
	}

	stats := f.Stats()["csv"]
	if stats.Sent != capacity {
		t.Errorf("Sent = %d, want %d", stats.Sent, capacity)
	}
	if want := uint64(published - capacity); stats.Dropped != want {
		t.Errorf("Dropped = %d, want %d", stats.Dropped, want)
	}
	if f.Dropped() != stats.Dropped {
		t.Errorf("Dropped() = %d, want %d", f.Dropped(), stats.Dropped)
	}

	// The survivors are a gap-free FIFO prefix: 0..capacity-1 in order,
	// no reordering, no duplication.
	f.Close()
	i := 0
	for ev := range ch {
		if ev.TimestampNS() != int64(i) {
			t.Fatalf("survivor %d has timestamp %d, want %d", i, ev.TimestampNS(), i)
		}
		i++
	}
	if i != capacity {
		t.Errorf("drained %d survivors, want %d", i, capacity)
	}
}

func TestFanoutPerSubscriberIsolation(t *testing.T) {
	f := New()
	slow, err := f.Subscribe("slow", 2)
	if err != nil {
		t.Fatalf("Subscribe slow: %v", err)
	}
	fast, err := f.Subscribe("fast", 64)
	if err != nil {
		t.Fatalf("Subscribe fast: %v", err)
	}

	for i := 0; i < 20; i++ {
		f.Publish(makeEvent(i))
	}
	f.Close()

	stats := f.Stats()
	if stats["slow"].Dropped != 18 {
		t.Errorf("slow.Dropped = %d, want 18", stats["slow"].Dropped)
	}
	if stats["fast"].Dropped != 0 {
		t.Errorf("fast.Dropped = %d, want 0", stats["fast"].Dropped)
	}

	n := 0
	for range fast {
		n++
	}
	if n != 20 {
		t.Errorf("fast subscriber received %d events, want all 20", n)
	}
	n = 0
	for range slow {
		n++
	}
	if n != 2 {
		t.Errorf("slow subscriber received %d events, want 2", n)
	}
}

func TestFanoutDuplicateSubscriber(t *testing.T) {
	f := New()
	if _, err := f.Subscribe("csv", 4); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := f.Subscribe("csv", 4); err != ErrSubscriberExists {
		t.Errorf("duplicate Subscribe error = %v, want ErrSubscriberExists", err)
	}
}

func TestFanoutClosedBehavior(t *testing.T) {
	f := New()
	ch, err := f.Subscribe("csv", 4)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	f.Close()
	f.Close() // idempotent

	// Publish after close must not panic and must not deliver.
	f.Publish(makeEvent(1))

	if _, ok := <-ch; ok {
		t.Error("received event on closed fanout")
	}
	if f.Published() != 0 {
		t.Errorf("Published() = %d after close, want 0", f.Published())
	}

	if _, err := f.Subscribe("late", 4); err != ErrClosed {
		t.Errorf("Subscribe after close error = %v, want ErrClosed", err)
	}
}
