// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package store contains the storage interfaces used by the ingestion pipeline.
// The canonical implementation is store/sqlstore; MemoryStore exists for tests
// and single-process development setups.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"go.mau.fi/waingest/types"
)

var (
	ErrInstanceNotFound  = errors.New("gateway instance not found")
	ErrTenantNotFound    = errors.New("tenant not found")
	ErrChatNotFound      = errors.New("chat not found")
	ErrMessageNotFound   = errors.New("message not found")
	ErrMediaFileNotFound = errors.New("media file not found")
)

// TenantStore manages tenants.
type TenantStore interface {
	PutTenant(ctx context.Context, tenant *types.Tenant) error
	GetTenant(ctx context.Context, id uuid.UUID) (*types.Tenant, error)
}

// InstanceStore manages gateway instances. Lookups are by the provider's opaque
// instance ID and must resolve to exactly one instance; there is no cross-tenant
// fallback of any kind.
type InstanceStore interface {
	PutInstance(ctx context.Context, instance *types.GatewayInstance) error
	GetInstance(ctx context.Context, instanceID string) (*types.GatewayInstance, error)
	SetInstanceStatus(ctx context.Context, instanceID string, status types.InstanceStatus) error
}

// ChatStore upserts and reads chats. UpsertChat is the single atomic
// find-or-create required by the pipeline: concurrent calls for a brand-new
// (tenant, chatKey) pair must yield one row. displayName is only applied when
// the stored chat has none yet; lastActivity always advances.
type ChatStore interface {
	UpsertChat(ctx context.Context, tenantID uuid.UUID, chatKey, displayName string, isGroup bool, lastActivity time.Time) (*types.Chat, error)
	GetChat(ctx context.Context, tenantID uuid.UUID, chatKey string) (*types.Chat, error)
	GetChatByID(ctx context.Context, id uuid.UUID) (*types.Chat, error)
}

// MessageStore inserts and reads messages. InsertMessage deduplicates on
// (tenant, provider message ID) when the ID is non-empty: replays return the
// existing row with created=false.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *types.Message) (stored *types.Message, created bool, err error)
	GetMessage(ctx context.Context, id uuid.UUID) (*types.Message, error)
}

// MediaFileStore tracks media downloads. CreateMediaFile is idempotent per
// message (at most one MediaFile per message ID). ClaimDownload is the single
// mutual-exclusion point of the pipeline: it performs an atomic conditional
// pending -> downloading transition at the storage layer and returns false when
// another worker already holds the claim or the record is terminal.
type MediaFileStore interface {
	CreateMediaFile(ctx context.Context, mf *types.MediaFile) (stored *types.MediaFile, created bool, err error)
	GetMediaFile(ctx context.Context, messageID uuid.UUID) (*types.MediaFile, error)
	ClaimDownload(ctx context.Context, messageID uuid.UUID) (bool, error)
	RecordAttempt(ctx context.Context, messageID uuid.UUID) error
	MarkSuccess(ctx context.Context, messageID uuid.UUID, path string, size int64, mimetype string) error
	MarkFailed(ctx context.Context, messageID uuid.UUID) error
	Requeue(ctx context.Context, messageID uuid.UUID) (bool, error)
	RequeueStale(ctx context.Context, staleBefore time.Time) ([]*types.MediaFile, error)
	ListPending(ctx context.Context, limit int) ([]*types.MediaFile, error)
}

// Store bundles all storage interfaces behind one handle.
type Store interface {
	TenantStore
	InstanceStore
	ChatStore
	MessageStore
	MediaFileStore
}
