// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/waingest")
	t.Setenv("PROVIDER_BASE_URL", "https://gateway.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.ResolveTimeout != 15*time.Second {
		t.Errorf("ResolveTimeout = %s", cfg.ResolveTimeout)
	}
	if cfg.SweepInterval != 5*time.Minute {
		t.Errorf("SweepInterval = %s", cfg.SweepInterval)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/waingest")
	t.Setenv("PROVIDER_BASE_URL", "https://gateway.example.com")
	t.Setenv("LISTEN_ADDR", ":9000")
	t.Setenv("RESOLVE_TIMEOUT_SECONDS", "30")
	t.Setenv("MEDIA_WORKERS", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.ResolveTimeout != 30*time.Second {
		t.Errorf("ResolveTimeout = %s", cfg.ResolveTimeout)
	}
	if cfg.MediaWorkers != 8 {
		t.Errorf("MediaWorkers = %d", cfg.MediaWorkers)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PROVIDER_BASE_URL", "https://gateway.example.com")
	if _, err := Load(); err == nil {
		t.Error("Load succeeded without DATABASE_URL")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/waingest")
	t.Setenv("PROVIDER_BASE_URL", "")
	if _, err := Load(); err == nil {
		t.Error("Load succeeded without PROVIDER_BASE_URL")
	}
}

func TestLoadInvalidNumber(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/waingest")
	t.Setenv("PROVIDER_BASE_URL", "https://gateway.example.com")
	t.Setenv("MEDIA_WORKERS", "lots")
	if _, err := Load(); err == nil {
		t.Error("Load accepted a non-numeric MEDIA_WORKERS")
	}
}
