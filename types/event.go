// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package types

import (
	"encoding/json"
	"time"
)

// ContentType tags the kind of content carried by a message.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentVideo    ContentType = "video"
	ContentAudio    ContentType = "audio"
	ContentDocument ContentType = "document"
	ContentSticker  ContentType = "sticker"
	ContentReaction ContentType = "reaction"
	ContentOther    ContentType = "other"
)

// MessageKey is the provider's message key sub-object.
type MessageKey struct {
	RemoteJID   string `json:"remoteJid"`
	FromMe      *bool  `json:"fromMe"`
	ID          string `json:"id"`
	Participant string `json:"participant"`
}

// MediaContent is the provider's media sub-object shared by all media content kinds.
// FileLength is a json.Number because some provider versions send it as a string.
type MediaContent struct {
	URL        string      `json:"url"`
	MediaKey   string      `json:"mediaKey"`
	DirectPath string      `json:"directPath"`
	Mimetype   string      `json:"mimetype"`
	FileLength json.Number `json:"fileLength"`
	Caption    string      `json:"caption"`
	FileName   string      `json:"fileName"`
	Seconds    int         `json:"seconds"`
}

// FileLengthInt64 returns the declared file length, or 0 if absent or unparseable.
func (mc *MediaContent) FileLengthInt64() int64 {
	if mc == nil {
		return 0
	}
	n, err := mc.FileLength.Int64()
	if err != nil {
		return 0
	}
	return n
}

// ReactionContent is the provider's reaction sub-object.
type ReactionContent struct {
	Key  *MessageKey `json:"key"`
	Text string      `json:"text"`
}

// MessageContent is the fixed union of known content keys. Exactly one of the
// pointers is expected to be set; unknown payloads leave all of them nil.
type MessageContent struct {
	Conversation *string          `json:"conversation"`
	Image        *MediaContent    `json:"imageMessage"`
	Video        *MediaContent    `json:"videoMessage"`
	Audio        *MediaContent    `json:"audioMessage"`
	Document     *MediaContent    `json:"documentMessage"`
	Sticker      *MediaContent    `json:"stickerMessage"`
	Reaction     *ReactionContent `json:"reactionMessage"`
}

// Probe checks the content union in a fixed order and returns the matching tag.
// ok is false when no known content key is present.
func (mc *MessageContent) Probe() (tag ContentType, ok bool) {
	switch {
	case mc == nil:
		return ContentOther, false
	case mc.Conversation != nil:
		return ContentText, true
	case mc.Image != nil:
		return ContentImage, true
	case mc.Video != nil:
		return ContentVideo, true
	case mc.Audio != nil:
		return ContentAudio, true
	case mc.Document != nil:
		return ContentDocument, true
	case mc.Sticker != nil:
		return ContentSticker, true
	case mc.Reaction != nil:
		return ContentReaction, true
	default:
		return ContentOther, false
	}
}

// Media returns the media sub-object for media content tags, or nil for
// text, reaction and unknown content.
func (mc *MessageContent) Media(tag ContentType) *MediaContent {
	if mc == nil {
		return nil
	}
	switch tag {
	case ContentImage:
		return mc.Image
	case ContentVideo:
		return mc.Video
	case ContentAudio:
		return mc.Audio
	case ContentDocument:
		return mc.Document
	case ContentSticker:
		return mc.Sticker
	default:
		return nil
	}
}

// RawEvent is the defensively-probed shape of one webhook delivery. Key names
// vary between provider versions, so most fields are optional and the handler
// keeps the raw body around for forensic replay.
type RawEvent struct {
	InstanceID string          `json:"instanceId"`
	Key        *MessageKey     `json:"key"`
	FromMe     *bool           `json:"fromMe"`
	PushName   string          `json:"pushName"`
	Sender     string          `json:"sender"`
	ChatID     string          `json:"chatId"`
	MessageID  string          `json:"messageId"`
	Timestamp  int64           `json:"messageTimestamp"`
	Message    *MessageContent `json:"message"`

	// Raw is the original delivery body. Not part of the provider schema.
	Raw json.RawMessage `json:"-"`
}

// RawChatID returns the first present chat identifier.
func (re *RawEvent) RawChatID() string {
	if re.ChatID != "" {
		return re.ChatID
	}
	if re.Key != nil {
		return re.Key.RemoteJID
	}
	return ""
}

// RawSender returns the first present sender identifier.
func (re *RawEvent) RawSender() string {
	if re.Sender != "" {
		return re.Sender
	}
	if re.Key != nil {
		if re.Key.Participant != "" {
			return re.Key.Participant
		}
		return re.Key.RemoteJID
	}
	return ""
}

// RawMessageID returns the first present provider message ID.
func (re *RawEvent) RawMessageID() string {
	if re.MessageID != "" {
		return re.MessageID
	}
	if re.Key != nil {
		return re.Key.ID
	}
	return ""
}

// Time converts the delivery timestamp (unix seconds) to a time.Time,
// defaulting to now when the provider sent none.
func (re *RawEvent) Time() time.Time {
	if re.Timestamp <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(re.Timestamp, 0).UTC()
}

// InboundEvent is the canonical, fully resolved form of one webhook delivery.
type InboundEvent struct {
	Tenant   *Tenant
	Instance *GatewayInstance

	ChatKey         string
	IsGroup         bool
	ChatDisplayName string
	IdentityFlagged bool

	Sender      string
	MessageID   string
	FromMe      bool
	ContentType ContentType
	Content     json.RawMessage
	Media       *MediaContent
	Timestamp   time.Time
}
