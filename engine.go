// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package waingest implements the webhook normalization and media resolution
// engine: it turns heterogeneous gateway webhook deliveries into canonical
// chats and messages, persists them exactly once, and downloads encrypted media
// attachments asynchronously into the per-tenant storage hierarchy.
package waingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"

	"go.mau.fi/waingest/coordinator"
	"go.mau.fi/waingest/filestore"
	"go.mau.fi/waingest/store"
	"go.mau.fi/waingest/types"
	waLog "go.mau.fi/waingest/util/log"
)

// DefaultMediaWorkers is the size of the media download worker pool.
const DefaultMediaWorkers = 4

// mediaQueueSize bounds the in-process download queue. A full queue is not a
// loss: the sweeper re-enqueues pending rows from the database.
const mediaQueueSize = 256

// Receipt summarizes what the pipeline did with one webhook delivery.
type Receipt struct {
	Skipped      bool   `json:"skipped,omitempty"`
	SkipReason   string `json:"skipReason,omitempty"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
	ChatKey      string `json:"chatKey,omitempty"`
	MessageID    string `json:"messageId,omitempty"`
	MediaQueued  bool   `json:"mediaQueued,omitempty"`
}

// Engine wires the pipeline together. Webhook handling is synchronous up to and
// including persistence; media resolution runs on the worker pool so the HTTP
// response never waits on the provider.
type Engine struct {
	store    store.Store
	files    *filestore.Store
	resolver *Resolver
	registry *coordinator.Registry
	log      waLog.Logger

	workers   int
	mediaJobs chan uuid.UUID
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	running   atomic.Bool

	eventsReceived        atomic.Int64
	groupsSkipped         atomic.Int64
	invalidIdentities     atomic.Int64
	unknownContent        atomic.Int64
	messagesDeduplicated  atomic.Int64
	incompleteDescriptors atomic.Int64
	mediaQueued           atomic.Int64
	mediaSucceeded        atomic.Int64
	mediaFailed           atomic.Int64
}

// NewEngine creates an Engine. workers <= 0 selects DefaultMediaWorkers.
func NewEngine(db store.Store, files *filestore.Store, resolver *Resolver, registry *coordinator.Registry, workers int, log waLog.Logger) *Engine {
	if log == nil {
		log = waLog.Noop
	}
	if workers <= 0 {
		workers = DefaultMediaWorkers
	}
	return &Engine{
		store:     db,
		files:     files,
		resolver:  resolver,
		registry:  registry,
		log:       log,
		workers:   workers,
		mediaJobs: make(chan uuid.UUID, mediaQueueSize),
	}
}

// Start launches the media worker pool.
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.mediaWorker()
	}
	e.log.Infof("Started %d media workers", e.workers)
}

// Stop cancels the workers and waits for them to exit. In-flight downloads are
// cancelled; their rows stay in downloading state and are recovered by the
// stale sweeper. The job channel is never closed: concurrent enqueues (sweeper,
// operator retries) may still be in flight, and anything left in the buffer is
// redundant with the pending rows in the database.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	e.cancel()
	e.wg.Wait()
	e.log.Infof("Media workers stopped")
}

// HandleWebhook runs the full pipeline for one webhook delivery body. The
// returned Receipt describes the outcome; a non-nil error means the delivery
// was not persisted and the provider should retry it.
func (e *Engine) HandleWebhook(ctx context.Context, instanceID string, body []byte) (*Receipt, error) {
	e.eventsReceived.Add(1)

	raw, err := ParseRawEvent(body)
	if err != nil {
		return nil, err
	}
	if instanceID == "" {
		instanceID = raw.InstanceID
	}
	if instanceID == "" {
		return nil, ErrUnknownInstance
	}

	instance, tenant, err := e.registry.Resolve(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInstance, instanceID)
	}

	event, err := e.Normalize(raw, instance, tenant)
	switch {
	case errors.Is(err, ErrGroupSkipped):
		return &Receipt{Skipped: true, SkipReason: "group"}, nil
	case errors.Is(err, ErrMissingContent):
		// Persisted as an "other" message with the payload retained for
		// forensic replay instead of being dropped.
		e.unknownContent.Add(1)
		e.log.Warnf("Delivery %s matched no known content key, storing as other: %s", event.MessageID, truncateForLog(body))
	case err != nil:
		return nil, err
	}

	msg, created, err := e.persistEvent(ctx, event)
	if err != nil {
		return nil, err
	}
	receipt := &Receipt{
		Deduplicated: !created,
		ChatKey:      event.ChatKey,
		MessageID:    event.MessageID,
	}
	if !created {
		e.messagesDeduplicated.Add(1)
		return receipt, nil
	}

	desc := extractDescriptor(event)
	if desc == nil {
		if event.Media != nil || isMediaContent(event.ContentType) {
			e.incompleteDescriptors.Add(1)
			e.log.Warnf("Media event %s has incomplete descriptor, no download scheduled", event.MessageID)
		}
		return receipt, nil
	}

	_, _, err = e.store.CreateMediaFile(ctx, &types.MediaFile{
		MessageID:   msg.ID,
		ContentType: desc.Type,
		Mimetype:    desc.Mimetype,
		FileSize:    desc.FileLength,
		Status:      types.MediaStatusPending,
	})
	if err != nil {
		// The message is persisted; the media row can be recreated via retry.
		e.log.Errorf("Failed to create media record for message %s: %v", msg.ID, err)
		return receipt, nil
	}
	receipt.MediaQueued = e.enqueueMedia(msg.ID)
	return receipt, nil
}

// persistEvent upserts the chat and inserts the message, deduplicating on the
// provider message ID.
func (e *Engine) persistEvent(ctx context.Context, event *types.InboundEvent) (*types.Message, bool, error) {
	displayName := ""
	if !event.FromMe {
		// The push name on own messages is the tenant's name, not the chat's.
		displayName = event.ChatDisplayName
	}
	if displayName == "" && !event.IdentityFlagged {
		displayName = formatPhoneNumber(event.ChatKey)
	}

	chat, err := e.store.UpsertChat(ctx, event.Tenant.ID, event.ChatKey, displayName, event.IsGroup, event.Timestamp)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert chat %s: %w", event.ChatKey, err)
	}

	msg, created, err := e.store.InsertMessage(ctx, &types.Message{
		ChatID:            chat.ID,
		TenantID:          event.Tenant.ID,
		InstanceID:        event.Instance.InstanceID,
		ProviderMessageID: event.MessageID,
		Sender:            event.Sender,
		FromMe:            event.FromMe,
		ContentType:       event.ContentType,
		Content:           event.Content,
		Timestamp:         event.Timestamp,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert message %s: %w", event.MessageID, err)
	}
	return msg, created, nil
}

// RetryMedia implements the operator-triggered failed -> pending transition and
// re-enqueues the download. Returns false if the record was not in failed state.
func (e *Engine) RetryMedia(ctx context.Context, messageID uuid.UUID) (bool, error) {
	requeued, err := e.store.Requeue(ctx, messageID)
	if err != nil {
		return false, err
	}
	if requeued {
		e.enqueueMedia(messageID)
	}
	return requeued, nil
}

// SweepOnce requeues stale downloading rows (crashed or cancelled workers) and
// re-enqueues everything pending. Called periodically by the leader-elected
// sweeper loop.
func (e *Engine) SweepOnce(ctx context.Context, staleAfter time.Duration) error {
	stale, err := e.store.RequeueStale(ctx, time.Now().Add(-staleAfter))
	if err != nil {
		return fmt.Errorf("failed to requeue stale downloads: %w", err)
	}
	if len(stale) > 0 {
		e.log.Infof("Requeued %d stale media downloads", len(stale))
	}
	pending, err := e.store.ListPending(ctx, mediaQueueSize)
	if err != nil {
		return fmt.Errorf("failed to list pending downloads: %w", err)
	}
	for _, mf := range pending {
		e.enqueueMedia(mf.MessageID)
	}
	return nil
}

// Counters returns a snapshot of the pipeline counters for the health report.
func (e *Engine) Counters() map[string]int64 {
	return map[string]int64{
		"events_received":        e.eventsReceived.Load(),
		"groups_skipped":         e.groupsSkipped.Load(),
		"invalid_identities":     e.invalidIdentities.Load(),
		"unknown_content":        e.unknownContent.Load(),
		"messages_deduplicated":  e.messagesDeduplicated.Load(),
		"incomplete_descriptors": e.incompleteDescriptors.Load(),
		"media_queued":           e.mediaQueued.Load(),
		"media_succeeded":        e.mediaSucceeded.Load(),
		"media_failed":           e.mediaFailed.Load(),
	}
}

func (e *Engine) enqueueMedia(messageID uuid.UUID) bool {
	if !e.running.Load() {
		return false
	}
	select {
	case e.mediaJobs <- messageID:
		e.mediaQueued.Add(1)
		return true
	default:
		// Queue full; the sweeper picks the pending row up later.
		e.log.Warnf("Media queue full, deferring download of message %s to sweeper", messageID)
		return false
	}
}

func isMediaContent(tag types.ContentType) bool {
	switch tag {
	case types.ContentImage, types.ContentVideo, types.ContentAudio, types.ContentDocument, types.ContentSticker:
		return true
	default:
		return false
	}
}

// formatPhoneNumber renders a digits-only chat key as an international phone
// number for use as a default display name. Returns "" when the key doesn't
// parse as a phone number.
func formatPhoneNumber(chatKey string) string {
	num, err := phonenumbers.Parse("+"+chatKey, "")
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return ""
	}
	return phonenumbers.Format(num, phonenumbers.INTERNATIONAL)
}

func truncateForLog(body []byte) string {
	const maxLen = 512
	s := string(body)
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > maxLen {
		return s[:maxLen] + "…"
	}
	return s
}
