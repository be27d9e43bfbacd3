// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package waingest

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"go.mau.fi/waingest/types"
)

func newTestEngine() *Engine {
	return NewEngine(nil, nil, nil, nil, 0, nil)
}

func testInstanceAndTenant() (*types.GatewayInstance, *types.Tenant) {
	tenant := &types.Tenant{ID: uuid.New(), Name: "Acme Corp", StorageRootName: "acme_corp"}
	instance := &types.GatewayInstance{
		ID:         uuid.New(),
		TenantID:   tenant.ID,
		InstanceID: "wa-instance-7",
		AuthToken:  "token",
		Status:     types.InstanceStatusConnected,
	}
	return instance, tenant
}

func mustParse(t *testing.T, body string) *types.RawEvent {
	t.Helper()
	raw, err := ParseRawEvent([]byte(body))
	if err != nil {
		t.Fatalf("Failed to parse event: %v", err)
	}
	return raw
}

func TestNormalizeText(t *testing.T) {
	engine := newTestEngine()
	instance, tenant := testInstanceAndTenant()
	raw := mustParse(t, `{
		"key": {"remoteJid": "556999211347@s.whatsapp.net", "fromMe": false, "id": "3EB0A9C5"},
		"pushName": "Alice",
		"messageTimestamp": 1717000000,
		"message": {"conversation": "hello"}
	}`)

	event, err := engine.Normalize(raw, instance, tenant)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if event.ChatKey != "556999211347" {
		t.Errorf("Unexpected chat key %q", event.ChatKey)
	}
	if event.ContentType != types.ContentText {
		t.Errorf("Unexpected content type %s", event.ContentType)
	}
	if event.FromMe {
		t.Error("Inbound message classified as own")
	}
	if event.ChatDisplayName != "Alice" {
		t.Errorf("Push name not carried: %q", event.ChatDisplayName)
	}
	if event.MessageID != "3EB0A9C5" {
		t.Errorf("Message ID not taken from key: %q", event.MessageID)
	}
	if !event.Timestamp.Equal(time.Unix(1717000000, 0).UTC()) {
		t.Errorf("Unexpected timestamp %s", event.Timestamp)
	}
	if event.Media != nil {
		t.Error("Text event has a media sub-object")
	}
}

func TestNormalizeGroupSkipped(t *testing.T) {
	engine := newTestEngine()
	instance, tenant := testInstanceAndTenant()
	for _, chatID := range []string{
		"556992962029-1415646286@g.us",
		"120363041234567890@g.us",
		"1203630412345678901@s.whatsapp.net",
	} {
		raw := mustParse(t, `{"chatId": "`+chatID+`", "message": {"conversation": "hi"}}`)
		event, err := engine.Normalize(raw, instance, tenant)
		if !errors.Is(err, ErrGroupSkipped) {
			t.Errorf("Normalize(%q) error = %v, want ErrGroupSkipped", chatID, err)
		}
		if event != nil {
			t.Errorf("Normalize(%q) returned an event for a group", chatID)
		}
	}
	if got := engine.Counters()["groups_skipped"]; got != 3 {
		t.Errorf("groups_skipped = %d, want 3", got)
	}
}

func TestNormalizeMissingChatID(t *testing.T) {
	engine := newTestEngine()
	instance, tenant := testInstanceAndTenant()
	raw := mustParse(t, `{"message": {"conversation": "hi"}}`)
	if _, err := engine.Normalize(raw, instance, tenant); !errors.Is(err, ErrMissingChatID) {
		t.Errorf("Normalize error = %v, want ErrMissingChatID", err)
	}
}

func TestNormalizeFlaggedIdentity(t *testing.T) {
	engine := newTestEngine()
	instance, tenant := testInstanceAndTenant()
	// Too few digits to be a phone number, but non-empty: kept raw and flagged.
	raw := mustParse(t, `{"chatId": "12345@weird", "message": {"conversation": "hi"}}`)
	event, err := engine.Normalize(raw, instance, tenant)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if !event.IdentityFlagged {
		t.Error("Unnormalizable identity not flagged")
	}
	if event.ChatKey != "12345@weird" {
		t.Errorf("Raw identifier not preserved: %q", event.ChatKey)
	}
	if got := engine.Counters()["invalid_identities"]; got != 1 {
		t.Errorf("invalid_identities = %d, want 1", got)
	}
}

func TestNormalizeUnknownContent(t *testing.T) {
	engine := newTestEngine()
	instance, tenant := testInstanceAndTenant()
	raw := mustParse(t, `{
		"chatId": "556999211347@s.whatsapp.net",
		"message": {"pollCreationMessage": {"name": "lunch?"}}
	}`)
	event, err := engine.Normalize(raw, instance, tenant)
	if !errors.Is(err, ErrMissingContent) {
		t.Fatalf("Normalize error = %v, want ErrMissingContent", err)
	}
	if event == nil {
		t.Fatal("Unknown content returned no event to persist")
	}
	if event.ContentType != types.ContentOther {
		t.Errorf("Unknown content tagged %s, want other", event.ContentType)
	}
	if len(event.Content) == 0 {
		t.Error("Raw payload not retained")
	}
}

func TestNormalizeAudio(t *testing.T) {
	engine := newTestEngine()
	instance, tenant := testInstanceAndTenant()
	raw := mustParse(t, `{
		"key": {"remoteJid": "556999211347@s.whatsapp.net", "id": "3EB0A9C5"},
		"messageTimestamp": 1717000000,
		"message": {"audioMessage": {
			"mediaKey": "a2V5",
			"directPath": "/v/t62.7117-24/abc",
			"mimetype": "audio/ogg; codecs=opus",
			"fileLength": "8192",
			"seconds": 12
		}}
	}`)
	event, err := engine.Normalize(raw, instance, tenant)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if event.ContentType != types.ContentAudio {
		t.Fatalf("Unexpected content type %s", event.ContentType)
	}
	if event.Media == nil {
		t.Fatal("Audio event lost its media sub-object")
	}
	if event.Media.FileLengthInt64() != 8192 {
		t.Errorf("String fileLength not parsed: %d", event.Media.FileLengthInt64())
	}
}
