// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package types

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// InstanceStatus represents the connection state of a gateway instance.
type InstanceStatus string

const (
	InstanceStatusPending      InstanceStatus = "pending"
	InstanceStatusConnected    InstanceStatus = "connected"
	InstanceStatusDisconnected InstanceStatus = "disconnected"
	InstanceStatusError        InstanceStatus = "error"
)

// ChatStatus represents the lifecycle state of a chat.
type ChatStatus string

const (
	ChatStatusActive   ChatStatus = "active"
	ChatStatusArchived ChatStatus = "archived"
)

// MediaStatus is the download state of a MediaFile. Transitions are monotonic
// (pending -> downloading -> success/failed) except failed -> pending on
// operator-triggered retry.
type MediaStatus string

const (
	MediaStatusPending     MediaStatus = "pending"
	MediaStatusDownloading MediaStatus = "downloading"
	MediaStatusSuccess     MediaStatus = "success"
	MediaStatusFailed      MediaStatus = "failed"
)

// Tenant is an organization owning one or more gateway instances. The storage
// root name is immutable once media exists under it.
type Tenant struct {
	ID              uuid.UUID
	Name            string
	StorageRootName string
	CreatedAt       time.Time
}

// GatewayInstance is one connected provider session, owned by exactly one tenant.
type GatewayInstance struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	InstanceID string
	AuthToken  string
	Status     InstanceStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Chat is a canonical conversation thread. (TenantID, ChatKey) is unique.
type Chat struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	ChatKey      string
	DisplayName  string
	IsGroup      bool
	LastActivity time.Time
	Status       ChatStatus
}

// Message is one inbound or outbound chat message. ProviderMessageID, when
// present, is unique per tenant.
type Message struct {
	ID       uuid.UUID
	ChatID   uuid.UUID
	TenantID uuid.UUID
	// InstanceID is denormalized onto the message so the media storage path can
	// be recomputed without the original delivery context.
	InstanceID        string
	ProviderMessageID string
	Sender            string
	FromMe            bool
	ContentType       ContentType
	Content           json.RawMessage
	Timestamp         time.Time
	CreatedAt         time.Time
}

// MediaFile tracks the download of the media attachment of one message (1:1).
type MediaFile struct {
	ID          uuid.UUID
	MessageID   uuid.UUID
	ContentType ContentType
	Mimetype    string
	FilePath    string
	FileSize    int64
	Status      MediaStatus
	Attempts    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SanitizeStorageName derives a filesystem-safe storage root name from a tenant
// display name: lowercased, runs of non-alphanumerics collapsed to single
// underscores, trimmed.
func SanitizeStorageName(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	lastUnderscore := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				sb.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(sb.String(), "_")
}
