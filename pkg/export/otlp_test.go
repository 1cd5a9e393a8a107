// Copyright 2025-2026 The blewatch Authors. All rights reserved.
// Use of this source code is governed by the MIT license
// included in the LICENSE file of this repository.

package export

import (
	"testing"
	"time"

	"github.com/blewatch/blewatch/pkg/event"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
)

func attrValue(attrs []*commonpb.KeyValue, key string) *commonpb.AnyValue {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value
		}
	}
	return nil
}

func TestBuildRequest(t *testing.T) {
	f := &OTLPForwarder{batchSize: defaultBatchSize}

	events := []event.Event{
		event.New(time.Unix(0, 1000), "aa:bb:cc:dd:ee:ff", -42, "Sensor1"),
		event.New(time.Unix(0, 2000), "60:c0:bf:49:2a:e9", -70, ""),
	}
	req := f.buildRequest(events)

	if len(req.ResourceLogs) != 1 || len(req.ResourceLogs[0].ScopeLogs) != 1 {
		t.Fatalf("unexpected request shape: %+v", req)
	}
	records := req.ResourceLogs[0].ScopeLogs[0].LogRecords
	if len(records) != 2 {
		t.Fatalf("got %d log records, want 2", len(records))
	}

	first := records[0]
	if first.TimeUnixNano != 1000 {
		t.Errorf("TimeUnixNano = %d, want 1000", first.TimeUnixNano)
	}
	if got := attrValue(first.Attributes, "device.addr").GetStringValue(); got != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("device.addr = %q", got)
	}
	if got := attrValue(first.Attributes, "signal.rssi").GetIntValue(); got != -42 {
		t.Errorf("signal.rssi = %d, want -42", got)
	}

	// Empty names arrive as the Unknown sentinel via event.New.
	second := records[1]
	if got := attrValue(second.Attributes, "device.name").GetStringValue(); got != event.UnknownName {
		t.Errorf("device.name = %q, want %q", got, event.UnknownName)
	}

	svc := attrValue(req.ResourceLogs[0].Resource.Attributes, "service.name").GetStringValue()
	if svc != "blewatch" {
		t.Errorf("service.name = %q, want blewatch", svc)
	}
}
