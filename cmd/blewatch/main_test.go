// Copyright 2025-2026 The blewatch Authors. All rights reserved.
// Use of this source code is governed by the MIT license
// included in the LICENSE file of this repository.

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blewatch.yaml")
	body := "log_level: debug\ndata_dir: /tmp/bw\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("BLEWATCH_LOG_LEVEL", "warn")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	// Env overrides are applied exactly once, inside Load.
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn from env", cfg.LogLevel)
	}
	if cfg.DataDir != "/tmp/bw" {
		t.Errorf("DataDir = %q, want /tmp/bw", cfg.DataDir)
	}
}

func TestLoadConfigDefaultsWithEnv(t *testing.T) {
	// Run from an empty directory so no default config file is found.
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	t.Setenv("BLEWATCH_DATA_DIR", "/tmp/bw-env")

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.DataDir != "/tmp/bw-env" {
		t.Errorf("DataDir = %q, want /tmp/bw-env from env", cfg.DataDir)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default info", cfg.LogLevel)
	}
}
