// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package config loads service configuration from the environment, with an
// optional .env file for development setups.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service settings.
type Config struct {
	DatabaseURL     string
	ListenAddr      string
	StorageRoot     string
	ProviderBaseURL string
	ResolveTimeout  time.Duration
	SweepInterval   time.Duration
	MediaWorkers    int
	LogLevel        string
	LogFormat       string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first (without overriding real environment variables).
func Load() (*Config, error) {
	// Missing .env is fine; the environment alone is a complete source.
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		ListenAddr:      envOr("LISTEN_ADDR", ":8080"),
		StorageRoot:     envOr("STORAGE_ROOT", "/var/lib/waingest/media"),
		ProviderBaseURL: os.Getenv("PROVIDER_BASE_URL"),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		LogFormat:       envOr("LOG_FORMAT", "json"),
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	if cfg.ProviderBaseURL == "" {
		return nil, fmt.Errorf("PROVIDER_BASE_URL is not set")
	}

	var err error
	if cfg.ResolveTimeout, err = envSeconds("RESOLVE_TIMEOUT_SECONDS", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = envSeconds("SWEEP_INTERVAL_SECONDS", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.MediaWorkers, err = envInt("MEDIA_WORKERS", 0); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envOr(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) (int, error) {
	value := os.Getenv(name)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return parsed, nil
}

func envSeconds(name string, fallback time.Duration) (time.Duration, error) {
	seconds, err := envInt(name, 0)
	if err != nil {
		return 0, err
	}
	if seconds <= 0 {
		return fallback, nil
	}
	return time.Duration(seconds) * time.Second, nil
}
