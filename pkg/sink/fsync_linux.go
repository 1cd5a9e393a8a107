// Copyright 2025-2026 The blewatch Authors. All rights reserved.
// Use of this source code is governed by the MIT license
// included in the LICENSE file of this repository.

//go:build linux

package sink

import "golang.org/x/sys/unix"

// sync forces written data to stable storage. fdatasync skips the
// metadata flush fsync would do; the row data is what crash-safety
// cares about.
func (cw *CSVWriter) sync() error {
	return unix.Fdatasync(int(cw.f.Fd()))
}
