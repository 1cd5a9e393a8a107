// Copyright 2025-2026 The blewatch Authors. All rights reserved.
// Use of this source code is governed by the MIT license
// included in the LICENSE file of this repository.

package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Server exposes the sniffer's health, readiness, and metrics over
// HTTP. Readiness tracks the scan session: not-ready until scanning
// starts and again once teardown begins.
type Server struct {
	logger   *zap.Logger
	stats    *Stats
	version  string
	addr     string
	output   string
	scanning atomic.Bool
	server   *http.Server
}

// NewServer creates a health server.
func NewServer(addr, version string, stats *Stats, logger *zap.Logger) *Server {
	return &Server{
		addr:    addr,
		version: version,
		stats:   stats,
		logger:  logger,
	}
}

// SetOutput records the run's CSV output location for the health
// payload. Must be called before Start.
func (s *Server) SetOutput(path string) {
	s.output = path
}

// SetReady marks the sniffer as actively scanning.
func (s *Server) SetReady(ready bool) {
	s.scanning.Store(ready)
}

// Start begins serving health endpoints.
func (s *Server) Start(_ context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/metrics", s.handleMetrics)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health server error", zap.Error(err))
		}
	}()

	s.logger.Info("health server started", zap.String("addr", s.addr))
	return nil
}

// Stop gracefully shuts down the health server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status             string `json:"status"`
	Version            string `json:"version"`
	Uptime             string `json:"uptime"`
	Scanning           bool   `json:"scanning"`
	Output             string `json:"output,omitempty"`
	AdvertisementsSeen int64  `json:"advertisements_seen"`
	EventsMatched      int64  `json:"events_matched"`
	PacketErrors       int64  `json:"packet_errors"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:             "healthy",
		Version:            s.version,
		Uptime:             s.stats.Uptime().Truncate(time.Second).String(),
		Scanning:           s.scanning.Load(),
		Output:             s.output,
		AdvertisementsSeen: s.stats.AdvertisementsSeen.Load(),
		EventsMatched:      s.stats.EventsMatched.Load(),
		PacketErrors:       s.stats.PacketErrors.Load(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.scanning.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not_ready","scanning":false}`))
		return
	}
	w.Write([]byte(`{"status":"ready","scanning":true}`))
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Write([]byte(s.stats.PrometheusMetrics()))
}
