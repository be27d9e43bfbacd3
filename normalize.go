// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package waingest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.mau.fi/waingest/types"
)

// ParseRawEvent decodes one webhook delivery body into the defensively-probed
// RawEvent shape, keeping the original bytes attached for forensic replay.
func ParseRawEvent(body []byte) (*types.RawEvent, error) {
	var raw types.RawEvent
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}
	raw.Raw = json.RawMessage(body)
	return &raw, nil
}

// Normalize transforms a raw delivery into a canonical InboundEvent for the
// given instance.
//
// Terminal outcomes that are not failures:
//   - ErrGroupSkipped: the chat resolved to a group, the returned event is nil.
//   - ErrMissingContent: no known content key matched; the returned event is
//     non-nil, tagged ContentOther, and should still be persisted with the raw
//     payload retained.
//
// An unnormalizable (but non-empty) chat ID does not fail normalization: the
// event keeps the raw ID and is flagged via IdentityFlagged.
func (e *Engine) Normalize(raw *types.RawEvent, instance *types.GatewayInstance, tenant *types.Tenant) (*types.InboundEvent, error) {
	rawChatID := raw.RawChatID()
	if rawChatID == "" {
		return nil, ErrMissingChatID
	}

	chatKey, isGroup, idErr := types.NormalizeChatID(rawChatID)
	if isGroup {
		e.groupsSkipped.Add(1)
		e.log.Infof("Skipping group event for chat %s on instance %s", rawChatID, instance.InstanceID)
		return nil, ErrGroupSkipped
	}
	flagged := false
	if idErr != nil {
		if chatKey == "" {
			return nil, fmt.Errorf("failed to normalize chat ID %q: %w", rawChatID, idErr)
		}
		// Keep the raw identifier rather than fabricating digits.
		flagged = true
		e.invalidIdentities.Add(1)
		e.log.Warnf("Chat ID %q is not normalizable, persisting raw value", rawChatID)
	}

	tag, known := raw.Message.Probe()
	event := &types.InboundEvent{
		Tenant:          tenant,
		Instance:        instance,
		ChatKey:         chatKey,
		IsGroup:         false,
		ChatDisplayName: raw.PushName,
		IdentityFlagged: flagged,
		Sender:          raw.RawSender(),
		MessageID:       raw.RawMessageID(),
		FromMe:          classifyFromMe(raw, instance.InstanceID, chatKey),
		ContentType:     tag,
		Content:         raw.Raw,
		Media:           raw.Message.Media(tag),
		Timestamp:       raw.Time(),
	}
	if !known {
		return event, ErrMissingContent
	}
	return event, nil
}
