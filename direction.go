// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package waingest

import (
	"strings"

	"go.mau.fi/waingest/types"
)

// classifyFromMe decides whether an inbound event was sent by the tenant's own
// account. Cascading heuristic, first match wins:
//
//  1. explicit key.fromMe boolean
//  2. explicit root-level fromMe boolean
//  3. sender contains the instance ID as a substring
//  4. sender equals the resolved chat key (self chat)
//
// Steps 3 and 4 are known-imprecise fallbacks with documented misclassification
// reports; downstream rendering depends on this exact precedence, so do not
// reorder or "fix" them here without migrating stored data.
func classifyFromMe(raw *types.RawEvent, instanceID, chatKey string) bool {
	if raw.Key != nil && raw.Key.FromMe != nil {
		return *raw.Key.FromMe
	}
	if raw.FromMe != nil {
		return *raw.FromMe
	}
	sender := raw.RawSender()
	if sender == "" {
		return false
	}
	if instanceID != "" && strings.Contains(sender, instanceID) {
		return true
	}
	if normalized, _, err := types.NormalizeChatID(sender); err == nil && normalized == chatKey {
		return true
	}
	return false
}
