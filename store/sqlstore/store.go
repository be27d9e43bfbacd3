// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"go.mau.fi/waingest/store"
	"go.mau.fi/waingest/types"
)

const (
	putTenantQuery = `
		INSERT INTO tenants (id, name, storage_root_name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`
	getTenantQuery = `
		SELECT id, name, storage_root_name, created_at FROM tenants WHERE id = $1
	`
	putInstanceQuery = `
		INSERT INTO gateway_instances (id, tenant_id, instance_id, auth_token, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (instance_id) DO UPDATE
			SET auth_token = EXCLUDED.auth_token, status = EXCLUDED.status, updated_at = now()
	`
	getInstanceQuery = `
		SELECT id, tenant_id, instance_id, auth_token, status, created_at, updated_at
		FROM gateway_instances WHERE instance_id = $1
	`
	setInstanceStatusQuery = `
		UPDATE gateway_instances SET status = $2, updated_at = now() WHERE instance_id = $1
	`

	touchChatQuery = `
		UPDATE chats SET
			last_activity = GREATEST(last_activity, $3),
			display_name = CASE WHEN display_name = '' THEN $4 ELSE display_name END
		WHERE tenant_id = $1 AND chat_key = $2
		RETURNING id, tenant_id, chat_key, display_name, is_group, last_activity, status
	`
	insertChatQuery = `
		INSERT INTO chats (id, tenant_id, chat_key, display_name, is_group, last_activity, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'active')
		ON CONFLICT (tenant_id, chat_key) DO NOTHING
		RETURNING id, tenant_id, chat_key, display_name, is_group, last_activity, status
	`
	getChatQuery = `
		SELECT id, tenant_id, chat_key, display_name, is_group, last_activity, status
		FROM chats WHERE tenant_id = $1 AND chat_key = $2
	`
	getChatByIDQuery = `
		SELECT id, tenant_id, chat_key, display_name, is_group, last_activity, status
		FROM chats WHERE id = $1
	`

	insertMessageQuery = `
		INSERT INTO messages (id, chat_id, tenant_id, instance_id, provider_message_id, sender, from_me, content_type, content, message_ts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (tenant_id, provider_message_id) WHERE provider_message_id IS NOT NULL DO NOTHING
		RETURNING id
	`
	getMessageQuery = `
		SELECT id, chat_id, tenant_id, instance_id, provider_message_id, sender, from_me, content_type, content, message_ts, created_at
		FROM messages WHERE id = $1
	`
	getMessageByProviderIDQuery = `
		SELECT id, chat_id, tenant_id, instance_id, provider_message_id, sender, from_me, content_type, content, message_ts, created_at
		FROM messages WHERE tenant_id = $1 AND provider_message_id = $2
	`

	insertMediaFileQuery = `
		INSERT INTO media_files (id, message_id, content_type, mimetype, file_path, file_size, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, now(), now())
		ON CONFLICT (message_id) DO NOTHING
		RETURNING id
	`
	getMediaFileQuery = `
		SELECT id, message_id, content_type, mimetype, file_path, file_size, status, attempts, created_at, updated_at
		FROM media_files WHERE message_id = $1
	`
	claimDownloadQuery = `
		UPDATE media_files SET status = 'downloading', updated_at = now()
		WHERE message_id = $1 AND status = 'pending'
	`
	recordAttemptQuery = `
		UPDATE media_files SET attempts = attempts + 1, updated_at = now() WHERE message_id = $1
	`
	markSuccessQuery = `
		UPDATE media_files SET status = 'success', file_path = $2, file_size = $3, mimetype = $4, updated_at = now()
		WHERE message_id = $1 AND status = 'downloading'
	`
	markFailedQuery = `
		UPDATE media_files SET status = 'failed', attempts = attempts + 1, updated_at = now()
		WHERE message_id = $1 AND status = 'downloading'
	`
	requeueQuery = `
		UPDATE media_files SET status = 'pending', updated_at = now()
		WHERE message_id = $1 AND status = 'failed'
	`
	requeueStaleQuery = `
		UPDATE media_files SET status = 'pending', updated_at = now()
		WHERE status = 'downloading' AND updated_at < $1
		RETURNING id, message_id, content_type, mimetype, file_path, file_size, status, attempts, created_at, updated_at
	`
	listPendingQuery = `
		SELECT id, message_id, content_type, mimetype, file_path, file_size, status, attempts, created_at, updated_at
		FROM media_files WHERE status = 'pending' ORDER BY created_at LIMIT $1
	`
)

func (c *Container) PutTenant(ctx context.Context, tenant *types.Tenant) error {
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now().UTC()
	}
	if tenant.StorageRootName == "" {
		tenant.StorageRootName = types.SanitizeStorageName(tenant.Name)
	}
	_, err := c.pool.Exec(ctx, putTenantQuery, tenant.ID, tenant.Name, tenant.StorageRootName, tenant.CreatedAt)
	return err
}

func (c *Container) GetTenant(ctx context.Context, id uuid.UUID) (*types.Tenant, error) {
	var tenant types.Tenant
	err := c.pool.QueryRow(ctx, getTenantQuery, id).Scan(&tenant.ID, &tenant.Name, &tenant.StorageRootName, &tenant.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrTenantNotFound
	} else if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (c *Container) PutInstance(ctx context.Context, instance *types.GatewayInstance) error {
	if instance.ID == uuid.Nil {
		instance.ID = uuid.New()
	}
	if instance.Status == "" {
		instance.Status = types.InstanceStatusPending
	}
	_, err := c.pool.Exec(ctx, putInstanceQuery, instance.ID, instance.TenantID, instance.InstanceID, instance.AuthToken, instance.Status)
	return err
}

func (c *Container) GetInstance(ctx context.Context, instanceID string) (*types.GatewayInstance, error) {
	var instance types.GatewayInstance
	err := c.pool.QueryRow(ctx, getInstanceQuery, instanceID).Scan(
		&instance.ID, &instance.TenantID, &instance.InstanceID, &instance.AuthToken,
		&instance.Status, &instance.CreatedAt, &instance.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrInstanceNotFound
	} else if err != nil {
		return nil, err
	}
	return &instance, nil
}

func (c *Container) SetInstanceStatus(ctx context.Context, instanceID string, status types.InstanceStatus) error {
	tag, err := c.pool.Exec(ctx, setInstanceStatusQuery, instanceID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrInstanceNotFound
	}
	return nil
}

func (c *Container) scanChat(row pgx.Row) (*types.Chat, error) {
	var chat types.Chat
	err := row.Scan(&chat.ID, &chat.TenantID, &chat.ChatKey, &chat.DisplayName, &chat.IsGroup, &chat.LastActivity, &chat.Status)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// UpsertChat is the atomic find-or-create of the Persistence Gateway. The
// common case is a single UPDATE touching last activity (and filling in a newly
// learned display name). For new chats the INSERT relies on the unique
// constraint; if a concurrent insert wins the race, the row is re-read.
func (c *Container) UpsertChat(ctx context.Context, tenantID uuid.UUID, chatKey, displayName string, isGroup bool, lastActivity time.Time) (*types.Chat, error) {
	chat, err := c.scanChat(c.pool.QueryRow(ctx, touchChatQuery, tenantID, chatKey, lastActivity, displayName))
	if err == nil {
		return chat, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	chat, err = c.scanChat(c.pool.QueryRow(ctx, insertChatQuery, uuid.New(), tenantID, chatKey, displayName, isGroup, lastActivity))
	if err == nil {
		return chat, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// Lost the constraint race: another worker created the chat between the
	// UPDATE and the INSERT. Re-read and apply the side effects.
	chat, err = c.scanChat(c.pool.QueryRow(ctx, touchChatQuery, tenantID, chatKey, lastActivity, displayName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("chat %s vanished during upsert race", chatKey)
	}
	return chat, err
}

func (c *Container) GetChat(ctx context.Context, tenantID uuid.UUID, chatKey string) (*types.Chat, error) {
	chat, err := c.scanChat(c.pool.QueryRow(ctx, getChatQuery, tenantID, chatKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrChatNotFound
	}
	return chat, err
}

func (c *Container) GetChatByID(ctx context.Context, id uuid.UUID) (*types.Chat, error) {
	chat, err := c.scanChat(c.pool.QueryRow(ctx, getChatByIDQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrChatNotFound
	}
	return chat, err
}

func (c *Container) scanMessage(row pgx.Row) (*types.Message, error) {
	var msg types.Message
	var providerMessageID *string
	err := row.Scan(&msg.ID, &msg.ChatID, &msg.TenantID, &msg.InstanceID, &providerMessageID,
		&msg.Sender, &msg.FromMe, &msg.ContentType, &msg.Content, &msg.Timestamp, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	if providerMessageID != nil {
		msg.ProviderMessageID = *providerMessageID
	}
	return &msg, nil
}

// InsertMessage inserts one message, deduplicating by provider message ID per
// tenant. Replayed deliveries return the previously stored row with
// created=false; messages without a provider ID insert unconditionally.
func (c *Container) InsertMessage(ctx context.Context, msg *types.Message) (*types.Message, bool, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	var providerMessageID *string
	if msg.ProviderMessageID != "" {
		providerMessageID = &msg.ProviderMessageID
	}
	var insertedID uuid.UUID
	err := c.pool.QueryRow(ctx, insertMessageQuery,
		msg.ID, msg.ChatID, msg.TenantID, msg.InstanceID, providerMessageID,
		msg.Sender, msg.FromMe, msg.ContentType, msg.Content, msg.Timestamp,
	).Scan(&insertedID)
	if err == nil {
		stored, getErr := c.GetMessage(ctx, insertedID)
		return stored, true, getErr
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	// Conflict: this provider message ID was already stored for the tenant.
	existing, err := c.scanMessage(c.pool.QueryRow(ctx, getMessageByProviderIDQuery, msg.TenantID, msg.ProviderMessageID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load deduplicated message %s: %w", msg.ProviderMessageID, err)
	}
	return existing, false, nil
}

func (c *Container) GetMessage(ctx context.Context, id uuid.UUID) (*types.Message, error) {
	msg, err := c.scanMessage(c.pool.QueryRow(ctx, getMessageQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrMessageNotFound
	}
	return msg, err
}

func (c *Container) scanMediaFile(row pgx.Row) (*types.MediaFile, error) {
	var mf types.MediaFile
	err := row.Scan(&mf.ID, &mf.MessageID, &mf.ContentType, &mf.Mimetype, &mf.FilePath,
		&mf.FileSize, &mf.Status, &mf.Attempts, &mf.CreatedAt, &mf.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &mf, nil
}

func (c *Container) CreateMediaFile(ctx context.Context, mf *types.MediaFile) (*types.MediaFile, bool, error) {
	if mf.ID == uuid.Nil {
		mf.ID = uuid.New()
	}
	if mf.Status == "" {
		mf.Status = types.MediaStatusPending
	}
	var insertedID uuid.UUID
	err := c.pool.QueryRow(ctx, insertMediaFileQuery,
		mf.ID, mf.MessageID, mf.ContentType, mf.Mimetype, mf.FilePath, mf.FileSize, mf.Status,
	).Scan(&insertedID)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := c.GetMediaFile(ctx, mf.MessageID)
		return existing, false, getErr
	} else if err != nil {
		return nil, false, err
	}
	stored, err := c.GetMediaFile(ctx, mf.MessageID)
	return stored, true, err
}

func (c *Container) GetMediaFile(ctx context.Context, messageID uuid.UUID) (*types.MediaFile, error) {
	mf, err := c.scanMediaFile(c.pool.QueryRow(ctx, getMediaFileQuery, messageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrMediaFileNotFound
	}
	return mf, err
}

// ClaimDownload performs the atomic pending -> downloading transition. This is
// a conditional update at the database, not an in-process lock, so it holds
// across concurrently running service processes.
func (c *Container) ClaimDownload(ctx context.Context, messageID uuid.UUID) (bool, error) {
	tag, err := c.pool.Exec(ctx, claimDownloadQuery, messageID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (c *Container) RecordAttempt(ctx context.Context, messageID uuid.UUID) error {
	_, err := c.pool.Exec(ctx, recordAttemptQuery, messageID)
	return err
}

func (c *Container) MarkSuccess(ctx context.Context, messageID uuid.UUID, path string, size int64, mimetype string) error {
	tag, err := c.pool.Exec(ctx, markSuccessQuery, messageID, path, size, mimetype)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("media file of message %s was not in downloading state", messageID)
	}
	return nil
}

func (c *Container) MarkFailed(ctx context.Context, messageID uuid.UUID) error {
	_, err := c.pool.Exec(ctx, markFailedQuery, messageID)
	return err
}

func (c *Container) Requeue(ctx context.Context, messageID uuid.UUID) (bool, error) {
	tag, err := c.pool.Exec(ctx, requeueQuery, messageID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (c *Container) RequeueStale(ctx context.Context, staleBefore time.Time) ([]*types.MediaFile, error) {
	rows, err := c.pool.Query(ctx, requeueStaleQuery, staleBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var requeued []*types.MediaFile
	for rows.Next() {
		mf, err := c.scanMediaFile(rows)
		if err != nil {
			return nil, err
		}
		requeued = append(requeued, mf)
	}
	return requeued, rows.Err()
}

func (c *Container) ListPending(ctx context.Context, limit int) ([]*types.MediaFile, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.pool.Query(ctx, listPendingQuery, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pending []*types.MediaFile
	for rows.Next() {
		mf, err := c.scanMediaFile(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, mf)
	}
	return pending, rows.Err()
}
