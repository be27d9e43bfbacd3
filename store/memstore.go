// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.mau.fi/waingest/types"
)

// MemoryStore is an in-memory Store implementation. It provides the same
// atomicity guarantees as the SQL store within a single process, which makes it
// suitable for tests and local development, not for multi-process deployments.
type MemoryStore struct {
	mu         sync.Mutex
	tenants    map[uuid.UUID]*types.Tenant
	instances  map[string]*types.GatewayInstance
	chats      map[uuid.UUID]map[string]*types.Chat
	messages   map[uuid.UUID]*types.Message
	msgByPID   map[uuid.UUID]map[string]uuid.UUID
	mediaFiles map[uuid.UUID]*types.MediaFile
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:    make(map[uuid.UUID]*types.Tenant),
		instances:  make(map[string]*types.GatewayInstance),
		chats:      make(map[uuid.UUID]map[string]*types.Chat),
		messages:   make(map[uuid.UUID]*types.Message),
		msgByPID:   make(map[uuid.UUID]map[string]uuid.UUID),
		mediaFiles: make(map[uuid.UUID]*types.MediaFile),
	}
}

func (ms *MemoryStore) PutTenant(_ context.Context, tenant *types.Tenant) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now().UTC()
	}
	cp := *tenant
	ms.tenants[tenant.ID] = &cp
	return nil
}

func (ms *MemoryStore) GetTenant(_ context.Context, id uuid.UUID) (*types.Tenant, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	tenant, ok := ms.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *tenant
	return &cp, nil
}

func (ms *MemoryStore) PutInstance(_ context.Context, instance *types.GatewayInstance) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if instance.ID == uuid.Nil {
		instance.ID = uuid.New()
	}
	now := time.Now().UTC()
	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}
	instance.UpdatedAt = now
	if instance.Status == "" {
		instance.Status = types.InstanceStatusPending
	}
	cp := *instance
	ms.instances[instance.InstanceID] = &cp
	return nil
}

func (ms *MemoryStore) GetInstance(_ context.Context, instanceID string) (*types.GatewayInstance, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	instance, ok := ms.instances[instanceID]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	cp := *instance
	return &cp, nil
}

func (ms *MemoryStore) SetInstanceStatus(_ context.Context, instanceID string, status types.InstanceStatus) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	instance, ok := ms.instances[instanceID]
	if !ok {
		return ErrInstanceNotFound
	}
	instance.Status = status
	instance.UpdatedAt = time.Now().UTC()
	return nil
}

func (ms *MemoryStore) UpsertChat(_ context.Context, tenantID uuid.UUID, chatKey, displayName string, isGroup bool, lastActivity time.Time) (*types.Chat, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	byKey, ok := ms.chats[tenantID]
	if !ok {
		byKey = make(map[string]*types.Chat)
		ms.chats[tenantID] = byKey
	}
	chat, ok := byKey[chatKey]
	if !ok {
		chat = &types.Chat{
			ID:           uuid.New(),
			TenantID:     tenantID,
			ChatKey:      chatKey,
			DisplayName:  displayName,
			IsGroup:      isGroup,
			LastActivity: lastActivity,
			Status:       types.ChatStatusActive,
		}
		byKey[chatKey] = chat
	} else {
		if chat.DisplayName == "" && displayName != "" {
			chat.DisplayName = displayName
		}
		if lastActivity.After(chat.LastActivity) {
			chat.LastActivity = lastActivity
		}
	}
	cp := *chat
	return &cp, nil
}

func (ms *MemoryStore) GetChat(_ context.Context, tenantID uuid.UUID, chatKey string) (*types.Chat, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	chat, ok := ms.chats[tenantID][chatKey]
	if !ok {
		return nil, ErrChatNotFound
	}
	cp := *chat
	return &cp, nil
}

func (ms *MemoryStore) GetChatByID(_ context.Context, id uuid.UUID) (*types.Chat, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, byKey := range ms.chats {
		for _, chat := range byKey {
			if chat.ID == id {
				cp := *chat
				return &cp, nil
			}
		}
	}
	return nil, ErrChatNotFound
}

func (ms *MemoryStore) InsertMessage(_ context.Context, msg *types.Message) (*types.Message, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if msg.ProviderMessageID != "" {
		if existingID, ok := ms.msgByPID[msg.TenantID][msg.ProviderMessageID]; ok {
			cp := *ms.messages[existingID]
			return &cp, false, nil
		}
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	cp := *msg
	ms.messages[msg.ID] = &cp
	if msg.ProviderMessageID != "" {
		byPID, ok := ms.msgByPID[msg.TenantID]
		if !ok {
			byPID = make(map[string]uuid.UUID)
			ms.msgByPID[msg.TenantID] = byPID
		}
		byPID[msg.ProviderMessageID] = msg.ID
	}
	out := cp
	return &out, true, nil
}

func (ms *MemoryStore) GetMessage(_ context.Context, id uuid.UUID) (*types.Message, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	msg, ok := ms.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	cp := *msg
	return &cp, nil
}

func (ms *MemoryStore) CreateMediaFile(_ context.Context, mf *types.MediaFile) (*types.MediaFile, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if existing, ok := ms.mediaFiles[mf.MessageID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	if mf.ID == uuid.Nil {
		mf.ID = uuid.New()
	}
	now := time.Now().UTC()
	if mf.CreatedAt.IsZero() {
		mf.CreatedAt = now
	}
	mf.UpdatedAt = now
	if mf.Status == "" {
		mf.Status = types.MediaStatusPending
	}
	cp := *mf
	ms.mediaFiles[mf.MessageID] = &cp
	out := cp
	return &out, true, nil
}

func (ms *MemoryStore) GetMediaFile(_ context.Context, messageID uuid.UUID) (*types.MediaFile, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	mf, ok := ms.mediaFiles[messageID]
	if !ok {
		return nil, ErrMediaFileNotFound
	}
	cp := *mf
	return &cp, nil
}

func (ms *MemoryStore) ClaimDownload(_ context.Context, messageID uuid.UUID) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	mf, ok := ms.mediaFiles[messageID]
	if !ok {
		return false, ErrMediaFileNotFound
	}
	if mf.Status != types.MediaStatusPending {
		return false, nil
	}
	mf.Status = types.MediaStatusDownloading
	mf.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (ms *MemoryStore) RecordAttempt(_ context.Context, messageID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	mf, ok := ms.mediaFiles[messageID]
	if !ok {
		return ErrMediaFileNotFound
	}
	mf.Attempts++
	mf.UpdatedAt = time.Now().UTC()
	return nil
}

func (ms *MemoryStore) MarkSuccess(_ context.Context, messageID uuid.UUID, path string, size int64, mimetype string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	mf, ok := ms.mediaFiles[messageID]
	if !ok {
		return ErrMediaFileNotFound
	}
	mf.Status = types.MediaStatusSuccess
	mf.FilePath = path
	mf.FileSize = size
	if mimetype != "" {
		mf.Mimetype = mimetype
	}
	mf.UpdatedAt = time.Now().UTC()
	return nil
}

func (ms *MemoryStore) MarkFailed(_ context.Context, messageID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	mf, ok := ms.mediaFiles[messageID]
	if !ok {
		return ErrMediaFileNotFound
	}
	mf.Status = types.MediaStatusFailed
	mf.Attempts++
	mf.UpdatedAt = time.Now().UTC()
	return nil
}

func (ms *MemoryStore) Requeue(_ context.Context, messageID uuid.UUID) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	mf, ok := ms.mediaFiles[messageID]
	if !ok {
		return false, ErrMediaFileNotFound
	}
	if mf.Status != types.MediaStatusFailed {
		return false, nil
	}
	mf.Status = types.MediaStatusPending
	mf.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (ms *MemoryStore) RequeueStale(_ context.Context, staleBefore time.Time) ([]*types.MediaFile, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var requeued []*types.MediaFile
	for _, mf := range ms.mediaFiles {
		if mf.Status == types.MediaStatusDownloading && mf.UpdatedAt.Before(staleBefore) {
			mf.Status = types.MediaStatusPending
			mf.UpdatedAt = time.Now().UTC()
			cp := *mf
			requeued = append(requeued, &cp)
		}
	}
	return requeued, nil
}

func (ms *MemoryStore) ListPending(_ context.Context, limit int) ([]*types.MediaFile, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var pending []*types.MediaFile
	for _, mf := range ms.mediaFiles {
		if mf.Status == types.MediaStatusPending {
			cp := *mf
			pending = append(pending, &cp)
			if limit > 0 && len(pending) >= limit {
				break
			}
		}
	}
	return pending, nil
}
