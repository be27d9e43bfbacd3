// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package sqlstore implements the storage interfaces on PostgreSQL via pgx.
// It is the source of truth for cross-process coordination: chat uniqueness,
// message deduplication and the media download claim all rest on its
// constraints and conditional updates.
package sqlstore

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"go.mau.fi/waingest/store"
	waLog "go.mau.fi/waingest/util/log"
)

// Container wraps a pgx pool and implements store.Store.
type Container struct {
	pool *pgxpool.Pool
	log  waLog.Logger
}

var _ store.Store = (*Container)(nil)

// NewContainer wraps an existing connection pool. Call Upgrade before first use.
func NewContainer(pool *pgxpool.Pool, log waLog.Logger) *Container {
	if log == nil {
		log = waLog.Noop
	}
	return &Container{pool: pool, log: log}
}

// New connects to the given database URL and upgrades the schema.
func New(ctx context.Context, databaseURL string, log waLog.Logger) (*Container, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	container := NewContainer(pool, log)
	if err = container.Upgrade(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return container, nil
}

// Pool exposes the underlying pool for components that need direct access
// (leader election, health checks).
func (c *Container) Pool() *pgxpool.Pool {
	return c.pool
}

// Close closes the underlying pool.
func (c *Container) Close() {
	c.pool.Close()
}
