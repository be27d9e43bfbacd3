// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package health provides health checking for the ingestion service.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	waLog "go.mau.fi/waingest/util/log"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Report represents the overall health status.
type Report struct {
	Status     Status                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

// Checker is a single component health check.
type Checker interface {
	Check(ctx context.Context) ComponentHealth
	Name() string
}

// Monitor runs the registered checkers and aggregates their results.
type Monitor struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	log      waLog.Logger
}

func NewMonitor(log waLog.Logger) *Monitor {
	if log == nil {
		log = waLog.Noop
	}
	return &Monitor{
		checkers: make(map[string]Checker),
		log:      log,
	}
}

// AddChecker registers a health checker.
func (m *Monitor) AddChecker(checker Checker) {
	m.mu.Lock()
	m.checkers[checker.Name()] = checker
	m.mu.Unlock()
}

// Check runs all registered checkers. Overall status is the worst component
// status.
func (m *Monitor) Check(ctx context.Context) Report {
	m.mu.RLock()
	checkers := make(map[string]Checker, len(m.checkers))
	for name, checker := range m.checkers {
		checkers[name] = checker
	}
	m.mu.RUnlock()

	components := make(map[string]ComponentHealth, len(checkers))
	overall := StatusHealthy
	for name, checker := range checkers {
		component := checker.Check(ctx)
		components[name] = component
		if component.Status == StatusUnhealthy {
			overall = StatusUnhealthy
		} else if component.Status == StatusDegraded && overall == StatusHealthy {
			overall = StatusDegraded
		}
	}
	return Report{
		Status:     overall,
		Timestamp:  time.Now(),
		Components: components,
	}
}

// DatabaseChecker checks database connectivity and pool pressure.
type DatabaseChecker struct {
	pool *pgxpool.Pool
}

func NewDatabaseChecker(pool *pgxpool.Pool) *DatabaseChecker {
	return &DatabaseChecker{pool: pool}
}

func (dc *DatabaseChecker) Name() string {
	return "database"
}

func (dc *DatabaseChecker) Check(ctx context.Context) ComponentHealth {
	start := time.Now()
	var result int
	err := dc.pool.QueryRow(ctx, "SELECT 1").Scan(&result)
	latency := time.Since(start)
	if err != nil {
		return ComponentHealth{
			Status:    StatusUnhealthy,
			Message:   fmt.Sprintf("database query failed: %v", err),
			Timestamp: time.Now(),
		}
	}
	status := StatusHealthy
	if latency > 100*time.Millisecond {
		status = StatusDegraded
	}
	return ComponentHealth{
		Status:    status,
		Timestamp: time.Now(),
		Details: map[string]any{
			"latency":  latency.String(),
			"acquired": dc.pool.Stat().AcquiredConns(),
			"idle":     dc.pool.Stat().IdleConns(),
			"max":      dc.pool.Stat().MaxConns(),
		},
	}
}

// StorageChecker verifies the media storage root is writable.
type StorageChecker struct {
	probe func() error
}

// NewStorageChecker wraps a probe function (filestore.Store.Probe).
func NewStorageChecker(probe func() error) *StorageChecker {
	return &StorageChecker{probe: probe}
}

func (sc *StorageChecker) Name() string {
	return "storage"
}

func (sc *StorageChecker) Check(_ context.Context) ComponentHealth {
	if err := sc.probe(); err != nil {
		return ComponentHealth{
			Status:    StatusUnhealthy,
			Message:   fmt.Sprintf("storage root not writable: %v", err),
			Timestamp: time.Now(),
		}
	}
	return ComponentHealth{Status: StatusHealthy, Timestamp: time.Now()}
}

// PipelineChecker exposes the engine's counters. It never reports unhealthy;
// it exists to make skips and failures observable, not to gate traffic.
type PipelineChecker struct {
	counters func() map[string]int64
}

// NewPipelineChecker wraps a counter snapshot function (Engine.Counters).
func NewPipelineChecker(counters func() map[string]int64) *PipelineChecker {
	return &PipelineChecker{counters: counters}
}

func (pc *PipelineChecker) Name() string {
	return "pipeline"
}

func (pc *PipelineChecker) Check(_ context.Context) ComponentHealth {
	snapshot := pc.counters()
	details := make(map[string]any, len(snapshot))
	for key, value := range snapshot {
		details[key] = value
	}
	return ComponentHealth{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Details:   details,
	}
}
