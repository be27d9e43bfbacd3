// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package waingest

import (
	"go.mau.fi/waingest/types"
)

// extractDescriptor pulls the transient media descriptor out of a canonical
// event. Returns nil for content types that carry no media (text, reaction,
// other) and nil for media events whose descriptor is missing required fields.
// Incomplete descriptors are a recurring provider failure mode and are logged
// distinguishably by the caller.
func extractDescriptor(event *types.InboundEvent) *types.MediaDescriptor {
	if event.Media == nil {
		return nil
	}
	switch event.ContentType {
	case types.ContentImage, types.ContentVideo, types.ContentAudio, types.ContentDocument, types.ContentSticker:
	default:
		return nil
	}
	desc := &types.MediaDescriptor{
		MediaKey:   event.Media.MediaKey,
		DirectPath: event.Media.DirectPath,
		Mimetype:   event.Media.Mimetype,
		FileLength: event.Media.FileLengthInt64(),
		Type:       event.ContentType,
	}
	if !desc.Complete() {
		return nil
	}
	return desc
}
