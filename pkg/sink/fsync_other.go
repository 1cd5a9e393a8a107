// Copyright 2025-2026 The blewatch Authors. All rights reserved.
// Use of this source code is governed by the MIT license
// included in the LICENSE file of this repository.

//go:build !linux

package sink

// sync forces written data to stable storage.
func (cw *CSVWriter) sync() error {
	return cw.f.Sync()
}
