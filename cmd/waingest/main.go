// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mau.fi/waingest"
	"go.mau.fi/waingest/api"
	"go.mau.fi/waingest/config"
	"go.mau.fi/waingest/coordinator"
	"go.mau.fi/waingest/filestore"
	"go.mau.fi/waingest/ha"
	"go.mau.fi/waingest/health"
	"go.mau.fi/waingest/store/sqlstore"
	waLog "go.mau.fi/waingest/util/log"
)

// staleClaimAge is how long a download may sit in downloading state before the
// sweeper treats its worker as dead and requeues it.
const staleClaimAge = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		waLog.Stdout("Main", "info", "console").Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}
	log := waLog.Stdout("Main", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := sqlstore.New(ctx, cfg.DatabaseURL, log.Sub("Database"))
	if err != nil {
		log.Errorf("Failed to open database: %v", err)
		os.Exit(1)
	}
	defer container.Close()

	files := filestore.NewStore(cfg.StorageRoot, log.Sub("FileStore"))
	if err = files.Probe(); err != nil {
		log.Errorf("Storage root %s is not writable: %v", cfg.StorageRoot, err)
		os.Exit(1)
	}

	resolver := waingest.NewResolver(cfg.ProviderBaseURL, cfg.ResolveTimeout, log.Sub("Resolver"))
	registry := coordinator.NewRegistry(container, log.Sub("Coordinator"))
	engine := waingest.NewEngine(container, files, resolver, registry, cfg.MediaWorkers, log.Sub("Engine"))
	engine.Start()
	defer engine.Stop()

	monitor := health.NewMonitor(log.Sub("Health"))
	monitor.AddChecker(health.NewDatabaseChecker(container.Pool()))
	monitor.AddChecker(health.NewStorageChecker(files.Probe))
	monitor.AddChecker(health.NewPipelineChecker(engine.Counters))

	// The sweeper runs on at most one process: stale claim recovery and pending
	// re-enqueueing would race across replicas otherwise.
	election := ha.NewLeaderElection(container.Pool(), ha.SweeperLockName, log.Sub("Sweeper"))
	go election.RunWhenLeader(ctx, cfg.SweepInterval, func(ctx context.Context) error {
		return engine.SweepOnce(ctx, staleClaimAge)
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.NewServer(engine, monitor, log.Sub("API")).Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		log.Infof("Listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Infof("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err = server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP shutdown incomplete: %v", err)
	}
}
