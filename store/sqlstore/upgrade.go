// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sqlstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type upgradeFunc func(context.Context, pgx.Tx) error

// Upgrades is the list of functions that upgrade the database to the latest
// version. Each entry runs in its own transaction.
var Upgrades = [...]upgradeFunc{upgradeV1}

func (c *Container) getVersion(ctx context.Context) (int, error) {
	_, err := c.pool.Exec(ctx, "CREATE TABLE IF NOT EXISTS waingest_version (version INTEGER)")
	if err != nil {
		return -1, err
	}
	version := 0
	row := c.pool.QueryRow(ctx, "SELECT version FROM waingest_version LIMIT 1")
	_ = row.Scan(&version)
	return version, nil
}

func setVersion(ctx context.Context, tx pgx.Tx, version int) error {
	_, err := tx.Exec(ctx, "DELETE FROM waingest_version")
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, "INSERT INTO waingest_version (version) VALUES ($1)", version)
	return err
}

// Upgrade upgrades the database from the current to the latest schema version.
func (c *Container) Upgrade(ctx context.Context) error {
	version, err := c.getVersion(ctx)
	if err != nil {
		return err
	}
	for ; version < len(Upgrades); version++ {
		tx, err := c.pool.Begin(ctx)
		if err != nil {
			return err
		}
		c.log.Infof("Upgrading database to v%d", version+1)
		if err = Upgrades[version](ctx, tx); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("failed to upgrade database to v%d: %w", version+1, err)
		}
		if err = setVersion(ctx, tx, version+1); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		if err = tx.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}

func upgradeV1(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `CREATE TABLE tenants (
		id                UUID PRIMARY KEY,
		name              TEXT NOT NULL,
		storage_root_name TEXT NOT NULL UNIQUE,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `CREATE TABLE gateway_instances (
		id          UUID PRIMARY KEY,
		tenant_id   UUID NOT NULL REFERENCES tenants (id) ON DELETE CASCADE,
		instance_id TEXT NOT NULL UNIQUE,
		auth_token  TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'connected', 'disconnected', 'error')),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `CREATE TABLE chats (
		id            UUID PRIMARY KEY,
		tenant_id     UUID NOT NULL REFERENCES tenants (id) ON DELETE CASCADE,
		chat_key      TEXT NOT NULL,
		display_name  TEXT NOT NULL DEFAULT '',
		is_group      BOOLEAN NOT NULL DEFAULT false,
		last_activity TIMESTAMPTZ NOT NULL,
		status        TEXT NOT NULL DEFAULT 'active'
			CHECK (status IN ('active', 'archived')),

		UNIQUE (tenant_id, chat_key)
	)`)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `CREATE TABLE messages (
		id                  UUID PRIMARY KEY,
		chat_id             UUID NOT NULL REFERENCES chats (id) ON DELETE CASCADE,
		tenant_id           UUID NOT NULL REFERENCES tenants (id) ON DELETE CASCADE,
		instance_id         TEXT NOT NULL DEFAULT '',
		provider_message_id TEXT,
		sender              TEXT NOT NULL DEFAULT '',
		from_me             BOOLEAN NOT NULL DEFAULT false,
		content_type        TEXT NOT NULL,
		content             JSONB,
		message_ts          TIMESTAMPTZ NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return err
	}
	// Partial unique index: webhook replays with the same provider message ID
	// must not create a second row, but messages without an ID always insert.
	_, err = tx.Exec(ctx, `CREATE UNIQUE INDEX messages_provider_id_idx
		ON messages (tenant_id, provider_message_id)
		WHERE provider_message_id IS NOT NULL`)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `CREATE INDEX messages_chat_ts_idx ON messages (chat_id, message_ts)`)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `CREATE TABLE media_files (
		id           UUID PRIMARY KEY,
		message_id   UUID NOT NULL UNIQUE REFERENCES messages (id) ON DELETE CASCADE,
		content_type TEXT NOT NULL,
		mimetype     TEXT NOT NULL DEFAULT '',
		file_path    TEXT NOT NULL DEFAULT '',
		file_size    BIGINT NOT NULL DEFAULT 0,
		status       TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'downloading', 'success', 'failed')),
		attempts     INTEGER NOT NULL DEFAULT 0,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `CREATE INDEX media_files_status_idx ON media_files (status, updated_at)`)
	return err
}
