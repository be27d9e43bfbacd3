// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package waingest

import (
	"encoding/json"
	"testing"

	"go.mau.fi/waingest/types"
)

func TestExtractDescriptor(t *testing.T) {
	media := &types.MediaContent{
		MediaKey:   "a2V5",
		DirectPath: "/v/t62.7117-24/abc",
		Mimetype:   "image/jpeg",
		FileLength: json.Number("2048"),
	}
	tests := []struct {
		name  string
		event types.InboundEvent
		want  bool
	}{
		{"CompleteImage", types.InboundEvent{ContentType: types.ContentImage, Media: media}, true},
		{"TextNoMedia", types.InboundEvent{ContentType: types.ContentText}, false},
		{"ReactionWithStrayMedia", types.InboundEvent{ContentType: types.ContentReaction, Media: media}, false},
		{"MissingMediaKey", types.InboundEvent{ContentType: types.ContentImage, Media: &types.MediaContent{
			DirectPath: "/v/abc", Mimetype: "image/jpeg",
		}}, false},
		{"MissingDirectPath", types.InboundEvent{ContentType: types.ContentImage, Media: &types.MediaContent{
			MediaKey: "a2V5", Mimetype: "image/jpeg",
		}}, false},
		{"MissingMimetype", types.InboundEvent{ContentType: types.ContentImage, Media: &types.MediaContent{
			MediaKey: "a2V5", DirectPath: "/v/abc",
		}}, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			desc := extractDescriptor(&test.event)
			if (desc != nil) != test.want {
				t.Errorf("extractDescriptor returned %v, want present=%v", desc, test.want)
			}
		})
	}

	desc := extractDescriptor(&types.InboundEvent{ContentType: types.ContentImage, Media: media})
	if desc.FileLength != 2048 {
		t.Errorf("FileLength = %d, want 2048", desc.FileLength)
	}
	if desc.Type != types.ContentImage {
		t.Errorf("Type = %s, want image", desc.Type)
	}
}

func TestDescriptorFromMessage(t *testing.T) {
	msg := &types.Message{
		ContentType: types.ContentAudio,
		Content: json.RawMessage(`{
			"message": {"audioMessage": {
				"mediaKey": "a2V5",
				"directPath": "/v/t62.7117-24/abc",
				"mimetype": "audio/ogg",
				"fileLength": 8192
			}}
		}`),
	}
	desc, err := descriptorFromMessage(msg)
	if err != nil {
		t.Fatalf("descriptorFromMessage failed: %v", err)
	}
	if desc.Type != types.ContentAudio || desc.MediaKey != "a2V5" || desc.FileLength != 8192 {
		t.Errorf("Unexpected descriptor: %+v", desc)
	}

	msg.Content = json.RawMessage(`{"message": {"conversation": "hi"}}`)
	if _, err = descriptorFromMessage(msg); err != ErrIncompleteDescriptor {
		t.Errorf("Unexpected error for text payload: %v", err)
	}
}
