// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package types contains the domain types shared by the waingest packages.
package types

import (
	"errors"
	"strings"
)

// Known JID servers on WhatsApp gateway payloads.
const (
	DefaultUserServer = "s.whatsapp.net"
	GroupServer       = "g.us"
	LegacyUserServer  = "c.us"
	BroadcastServer   = "broadcast"
	HiddenUserServer  = "lid"
	NewsletterServer  = "newsletter"
)

// GroupKeyPrefix is the prefix of canonical chat keys for group conversations.
const GroupKeyPrefix = "group_"

// groupKeyDigits is how many trailing digits of a group ID are kept in the canonical key.
const groupKeyDigits = 12

// longGroupIDDigits is the minimum digit count of the long numeric group IDs the
// provider uses for some groups even without a g.us suffix or hyphenated pair.
const longGroupIDDigits = 19

// minIndividualDigits is the minimum digit count for a phone-number-shaped chat key.
// Anything shorter is not reliably normalizable.
const minIndividualDigits = 10

// ErrInvalidIdentity is returned by NormalizeChatID for identifiers that cannot be
// normalized. If the returned canonical key is non-empty, the raw identifier was
// returned unchanged and may still be persisted (flagged) by the caller.
var ErrInvalidIdentity = errors.New("chat identifier is not normalizable")

// NormalizeChatID maps a raw chat identifier from the gateway (JIDs with server
// suffixes, hyphenated group IDs, legacy formats, bare numbers) to the canonical
// tenant-scoped chat key and classifies it as group or individual.
//
// The function is pure and idempotent: feeding a canonical key back in returns it
// unchanged. Group keys have the form group_<last 12 digits>, individual keys are
// the digits-only phone number.
func NormalizeChatID(raw string) (canonical string, isGroup bool, err error) {
	if strings.TrimSpace(raw) == "" {
		return "", false, ErrInvalidIdentity
	}
	if strings.HasPrefix(raw, GroupKeyPrefix) {
		// Already canonical group key.
		return raw, true, nil
	}

	user := raw
	server := ""
	if idx := strings.IndexByte(raw, '@'); idx >= 0 {
		user = raw[:idx]
		server = raw[idx+1:]
	}

	digits := keepDigits(user)
	if isGroupShaped(user, server, digits) {
		key := digits
		if len(key) > groupKeyDigits {
			key = key[len(key)-groupKeyDigits:]
		}
		return GroupKeyPrefix + key, true, nil
	}

	if len(digits) < minIndividualDigits {
		// Not reliably normalizable. Hand the raw value back unchanged so the
		// caller can persist it flagged instead of fabricating digits.
		return raw, false, ErrInvalidIdentity
	}
	return digits, false, nil
}

// IsGroupChatKey reports whether a canonical chat key refers to a group conversation.
func IsGroupChatKey(key string) bool {
	return strings.HasPrefix(key, GroupKeyPrefix)
}

// isGroupShaped applies the group heuristics in order: hyphenated numeric pair,
// group server suffix, long numeric group ID.
func isGroupShaped(user, server, digits string) bool {
	if left, right, ok := strings.Cut(user, "-"); ok && isAllDigits(left) && isAllDigits(right) && left != "" && right != "" {
		return true
	}
	if server == GroupServer {
		return true
	}
	return len(digits) >= longGroupIDDigits
}

func keepDigits(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
