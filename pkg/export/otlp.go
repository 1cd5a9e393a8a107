// Copyright 2025-2026 The blewatch Authors. All rights reserved.
// Use of this source code is governed by the MIT license
// included in the LICENSE file of this repository.

// Package export forwards matched observations to an OTLP collector as
// log records. The forwarder is an optional pipeline consumer; export
// failures are logged and dropped, never fatal to the run.
package export

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/blewatch/blewatch/pkg/config"
	"github.com/blewatch/blewatch/pkg/event"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
)

const (
	defaultBatchSize     = 128
	defaultFlushInterval = 5 * time.Second
	exportTimeout        = 10 * time.Second
)

// OTLPForwarder batches observations and exports them via OTLP gRPC.
type OTLPForwarder struct {
	logger   *zap.Logger
	endpoint string

	conn   *grpc.ClientConn
	logSvc collogspb.LogsServiceClient

	batchSize     int
	flushInterval time.Duration

	exported atomic.Uint64
	dropped  atomic.Uint64
}

// NewOTLPForwarder dials the collector endpoint. Dialing is lazy in
// gRPC, so construction succeeds even when the collector is down; the
// first export surfaces connectivity problems.
func NewOTLPForwarder(cfg *config.OTLPConfig, logger *zap.Logger) (*OTLPForwarder, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(4 * 1024 * 1024)),
	}
	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.Dial(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial OTLP endpoint %s: %w", cfg.Endpoint, err)
	}

	return &OTLPForwarder{
		logger:        logger,
		endpoint:      cfg.Endpoint,
		conn:          conn,
		logSvc:        collogspb.NewLogsServiceClient(conn),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
	}, nil
}

// Run drains ch until it is closed, batching by size or flush interval.
// The final partial batch is flushed before returning.
func (f *OTLPForwarder) Run(ch <-chan event.Event) {
	batch := make([]event.Event, 0, f.batchSize)
	ticker := time.NewTicker(f.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				if len(batch) > 0 {
					f.flush(batch)
				}
				return
			}
			batch = append(batch, ev)
			if len(batch) >= f.batchSize {
				f.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				f.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (f *OTLPForwarder) flush(events []event.Event) {
	req := f.buildRequest(events)

	ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
	defer cancel()

	if _, err := f.logSvc.Export(ctx, req); err != nil {
		f.dropped.Add(uint64(len(events)))
		f.logger.Warn("otlp export failed",
			zap.Int("events", len(events)),
			zap.String("endpoint", f.endpoint),
			zap.Error(err),
		)
		return
	}
	f.exported.Add(uint64(len(events)))
}

// buildRequest converts a batch of observations into one OTLP logs
// export request.
func (f *OTLPForwarder) buildRequest(events []event.Event) *collogspb.ExportLogsServiceRequest {
	records := make([]*logspb.LogRecord, 0, len(events))
	for _, ev := range events {
		records = append(records, &logspb.LogRecord{
			TimeUnixNano:   uint64(ev.TimestampNS()),
			SeverityNumber: logspb.SeverityNumber_SEVERITY_NUMBER_INFO,
			SeverityText:   "INFO",
			Body: &commonpb.AnyValue{
				Value: &commonpb.AnyValue_StringValue{StringValue: "ble observation"},
			},
			Attributes: []*commonpb.KeyValue{
				strAttr("device.addr", ev.Addr),
				intAttr("signal.rssi", int64(ev.RSSI)),
				strAttr("device.name", ev.Name),
			},
		})
	}

	return &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{{
			Resource: f.resource(),
			ScopeLogs: []*logspb.ScopeLogs{{
				Scope:      &commonpb.InstrumentationScope{Name: "blewatch"},
				LogRecords: records,
			}},
		}},
	}
}

func (f *OTLPForwarder) resource() *resourcepb.Resource {
	hostname, _ := os.Hostname()
	return &resourcepb.Resource{
		Attributes: []*commonpb.KeyValue{
			strAttr("service.name", "blewatch"),
			strAttr("host.name", hostname),
			intAttr("process.pid", int64(os.Getpid())),
		},
	}
}

// Exported returns the number of observations delivered to the
// collector.
func (f *OTLPForwarder) Exported() uint64 {
	return f.exported.Load()
}

// Dropped returns the number of observations lost to export failures.
func (f *OTLPForwarder) Dropped() uint64 {
	return f.dropped.Load()
}

// Close tears down the gRPC connection.
func (f *OTLPForwarder) Close() error {
	return f.conn.Close()
}

func strAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}

func intAttr(key string, value int64) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: value}},
	}
}
