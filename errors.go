// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package waingest

import (
	"errors"
	"fmt"
	"time"
)

// Normalization errors
var (
	// ErrGroupSkipped is the terminal outcome for events whose chat resolves to
	// a group. Group ingestion is disabled; this is counted, not a failure.
	ErrGroupSkipped = errors.New("group messages are not ingested")
	// ErrMissingContent means the payload matched no known content key. The
	// event is still persisted with the raw payload as an "other" message.
	ErrMissingContent = errors.New("payload matches no known content type")
	// ErrMissingChatID means the payload carried no chat identifier at all.
	ErrMissingChatID = errors.New("payload carries no chat identifier")
	// ErrUnknownInstance means the delivery referenced an instance ID that
	// doesn't resolve to any gateway instance.
	ErrUnknownInstance = errors.New("unknown gateway instance")
)

// Media resolution errors
var (
	ErrMissingCredentials   = errors.New("gateway instance has no auth token")
	ErrIncompleteDescriptor = errors.New("media descriptor is missing required fields")
	ErrNoFileLink           = errors.New("provider response did not contain a file link")
)

// ProviderRejectedError is returned when the provider's media exchange endpoint
// answers with a non-2xx status. The status and (truncated) body are kept for
// diagnostics. RetryAfter is set on 429 responses and feeds the download
// backoff.
type ProviderRejectedError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (pre *ProviderRejectedError) Error() string {
	return fmt.Sprintf("provider rejected media exchange with status %d: %s", pre.Status, pre.Body)
}
