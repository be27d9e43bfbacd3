// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package types

// MediaDescriptor is the transient encrypted-media reference extracted from an
// inbound event. It carries short-lived secrets (the media key) and must never
// be persisted; it is exchanged with the provider for a downloadable link.
type MediaDescriptor struct {
	MediaKey   string
	DirectPath string
	Mimetype   string
	FileLength int64
	Type       ContentType
}

// Complete reports whether all fields required for the media exchange call are
// present. Events with incomplete descriptors are a recurring provider failure
// mode and are skipped before any network call.
func (md *MediaDescriptor) Complete() bool {
	return md != nil && md.MediaKey != "" && md.DirectPath != "" && md.Mimetype != ""
}
