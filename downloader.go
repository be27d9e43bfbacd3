// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package waingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"go.mau.fi/waingest/types"
)

// maxDownloadAttempts is the automatic retry budget per media file. After this
// many failed attempts the record settles on failed until an operator retries.
const maxDownloadAttempts = 3

func (e *Engine) mediaWorker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case messageID := <-e.mediaJobs:
			e.processMedia(e.ctx, messageID)
		}
	}
}

// processMedia drives one media file through the download state machine:
// claim (pending -> downloading), resolve, fetch, write, then mark success or
// failed. The claim is an atomic conditional update at the storage layer, so at
// most one worker across all processes holds a given message.
func (e *Engine) processMedia(ctx context.Context, messageID uuid.UUID) {
	claimed, err := e.store.ClaimDownload(ctx, messageID)
	if err != nil {
		e.log.Errorf("Failed to claim download of message %s: %v", messageID, err)
		return
	}
	if !claimed {
		e.log.Debugf("Message %s is already claimed or terminal, skipping", messageID)
		return
	}

	mf, err := e.store.GetMediaFile(ctx, messageID)
	if err != nil {
		e.log.Errorf("Failed to load media record for message %s: %v", messageID, err)
		return
	}

	for attempt := mf.Attempts; ; attempt++ {
		err = e.downloadOnce(ctx, messageID)
		if err == nil {
			e.mediaSucceeded.Add(1)
			return
		}
		if ctx.Err() != nil {
			// Shutdown mid-download: the row stays in downloading state and the
			// stale sweeper requeues it after restart. It must not be marked
			// failed, that would consume the operator-retry budget on shutdown.
			return
		}
		if attempt >= maxDownloadAttempts-1 {
			break
		}
		if markErr := e.store.RecordAttempt(ctx, messageID); markErr != nil {
			e.log.Errorf("Failed to record download attempt for message %s: %v", messageID, markErr)
			break
		}
		retryDuration := retryDelay(attempt, err)
		e.log.Warnf("Failed to download media for message %s: %v, retrying in %s", messageID, err, retryDuration)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDuration):
		}
	}

	e.mediaFailed.Add(1)
	e.log.Errorf("Giving up on media download for message %s: %v", messageID, err)
	if markErr := e.store.MarkFailed(ctx, messageID); markErr != nil {
		e.log.Errorf("Failed to mark media of message %s as failed: %v", messageID, markErr)
	}
}

// retryDelay picks the wait before the next download attempt: linear backoff,
// stretched to the provider's requested Retry-After when it rate-limited the
// attempt. The next call never fires inside the provider's window.
func retryDelay(attempt int, err error) time.Duration {
	delay := time.Duration(attempt+1) * 2 * time.Second
	var rejected *ProviderRejectedError
	if errors.As(err, &rejected) && rejected.RetryAfter > delay {
		return rejected.RetryAfter
	}
	return delay
}

// downloadOnce performs a single resolve + fetch + write attempt. The
// descriptor is re-extracted from the persisted raw payload, so retries work
// after restarts even though descriptors themselves are never stored.
func (e *Engine) downloadOnce(ctx context.Context, messageID uuid.UUID) error {
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to load message: %w", err)
	}
	tenant, err := e.store.GetTenant(ctx, msg.TenantID)
	if err != nil {
		return fmt.Errorf("failed to load tenant: %w", err)
	}
	instance, err := e.store.GetInstance(ctx, msg.InstanceID)
	if err != nil {
		return fmt.Errorf("failed to load instance: %w", err)
	}
	chat, err := e.store.GetChatByID(ctx, msg.ChatID)
	if err != nil {
		return fmt.Errorf("failed to load chat: %w", err)
	}

	desc, err := descriptorFromMessage(msg)
	if err != nil {
		return err
	}

	handle, err := e.resolver.Resolve(ctx, desc, instance)
	if err != nil {
		var rejected *ProviderRejectedError
		if errors.As(err, &rejected) && (rejected.Status == 401 || rejected.Status == 403) {
			e.registry.MarkError(ctx, instance.InstanceID)
		}
		return err
	}

	body, err := e.resolver.Fetch(ctx, handle)
	if err != nil {
		return err
	}
	defer body.Close()

	messageRef := msg.ProviderMessageID
	if messageRef == "" {
		messageRef = msg.ID.String()
	}
	path, size, err := e.files.Write(tenant, instance.InstanceID, chat.ChatKey, desc.Type, messageRef, msg.Timestamp, desc.Mimetype, body)
	if err != nil {
		return err
	}

	if err = e.store.MarkSuccess(ctx, messageID, path, size, desc.Mimetype); err != nil {
		return fmt.Errorf("failed to mark download success: %w", err)
	}
	e.log.Infof("Downloaded %s media for message %s to %s (%d bytes)", desc.Type, messageID, path, size)
	return nil
}

// descriptorFromMessage re-derives the transient media descriptor from the
// message's retained raw payload.
func descriptorFromMessage(msg *types.Message) (*types.MediaDescriptor, error) {
	raw, err := ParseRawEvent(msg.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to re-parse stored payload: %w", err)
	}
	tag, _ := raw.Message.Probe()
	media := raw.Message.Media(tag)
	if media == nil {
		return nil, ErrIncompleteDescriptor
	}
	desc := &types.MediaDescriptor{
		MediaKey:   media.MediaKey,
		DirectPath: media.DirectPath,
		Mimetype:   media.Mimetype,
		FileLength: media.FileLengthInt64(),
		Type:       tag,
	}
	if !desc.Complete() {
		return nil, ErrIncompleteDescriptor
	}
	return desc, nil
}
