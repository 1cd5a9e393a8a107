// Copyright 2025-2026 The blewatch Authors. All rights reserved.
// Use of this source code is governed by the MIT license
// included in the LICENSE file of this repository.

package scanner

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// BluetoothRadio adapts the host BLE adapter to the Radio interface.
type BluetoothRadio struct {
	adapter *bluetooth.Adapter
	logger  *zap.Logger

	mu       sync.Mutex
	scanning bool
}

// NewBluetoothRadio wraps the default host adapter.
func NewBluetoothRadio(logger *zap.Logger) *BluetoothRadio {
	return &BluetoothRadio{
		adapter: bluetooth.DefaultAdapter,
		logger:  logger,
	}
}

// StartScan enables the adapter and begins delivering advertisements on
// a dedicated goroutine. Adapter enable or scan-start failures are
// returned synchronously and are fatal for the run; they are not
// retried.
func (r *BluetoothRadio) StartScan(cb func(Advertisement), fatal func(error)) error {
	if err := r.adapter.Enable(); err != nil {
		return fmt.Errorf("enable adapter: %w", err)
	}

	r.mu.Lock()
	r.scanning = true
	r.mu.Unlock()

	// Scan blocks until StopScan; run it on its own goroutine. The
	// per-result callback executes on the bluetooth stack's goroutine.
	go func() {
		err := r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			cb(Advertisement{
				Addr:      result.Address.String(),
				RSSI:      result.RSSI,
				LocalName: result.LocalName(),
			})
		})

		r.mu.Lock()
		stopped := !r.scanning
		r.mu.Unlock()

		// Scan returning after StopScan is the normal exit; anything
		// else is a hard radio failure.
		if err != nil && !stopped {
			fatal(fmt.Errorf("scan aborted: %w", err))
		}
	}()

	return nil
}

// StopScan halts an active scan. Calling it when no scan is running is
// a no-op.
func (r *BluetoothRadio) StopScan() error {
	r.mu.Lock()
	if !r.scanning {
		r.mu.Unlock()
		return nil
	}
	r.scanning = false
	r.mu.Unlock()

	if err := r.adapter.StopScan(); err != nil {
		return fmt.Errorf("stop scan: %w", err)
	}
	return nil
}
