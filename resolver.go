// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package waingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.mau.fi/util/retryafter"

	"go.mau.fi/waingest/types"
	waLog "go.mau.fi/waingest/util/log"
)

// DefaultResolveTimeout bounds a single provider call. Seconds, not minutes: a
// timed-out attempt counts against the retry budget instead of hanging a worker.
const DefaultResolveTimeout = 15 * time.Second

// maxRejectionBodyLen caps how much of a provider error body is kept for
// diagnostics.
const maxRejectionBodyLen = 1024

// Resolver exchanges media descriptors for short-lived download links at the
// gateway provider and fetches the resulting files.
type Resolver struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration

	log waLog.Logger
}

// DownloadHandle is a resolved, time-limited direct download link.
type DownloadHandle struct {
	FileLink string
	Expires  time.Time
}

type mediaExchangeRequest struct {
	MediaKey   string `json:"mediaKey"`
	DirectPath string `json:"directPath"`
	Type       string `json:"type"`
	Mimetype   string `json:"mimetype"`
}

type mediaExchangeResponse struct {
	FileLink string `json:"fileLink"`
	Expires  int64  `json:"expires"`
}

func NewResolver(baseURL string, timeout time.Duration, log waLog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	if log == nil {
		log = waLog.Noop
	}
	return &Resolver{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
		Timeout:    timeout,
		log:        log,
	}
}

// Resolve sends the descriptor to the provider's media exchange endpoint and
// returns the direct download link. Required descriptor fields are validated
// locally before any network traffic: a descriptor that can't succeed shouldn't
// cost a round trip.
func (r *Resolver) Resolve(ctx context.Context, desc *types.MediaDescriptor, instance *types.GatewayInstance) (*DownloadHandle, error) {
	if !desc.Complete() {
		return nil, ErrIncompleteDescriptor
	}
	if instance.AuthToken == "" {
		return nil, ErrMissingCredentials
	}

	reqBody, err := json.Marshal(&mediaExchangeRequest{
		MediaKey:   desc.MediaKey,
		DirectPath: desc.DirectPath,
		Type:       string(desc.Type),
		Mimetype:   desc.Mimetype,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal media exchange request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	url := fmt.Sprintf("%s/instances/%s/media/exchange", r.BaseURL, instance.InstanceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare media exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+instance.AuthToken)

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media exchange call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxRejectionBodyLen))
		rejection := &ProviderRejectedError{Status: resp.StatusCode, Body: string(body)}
		if resp.StatusCode == http.StatusTooManyRequests {
			rejection.RetryAfter = retryafter.Parse(resp.Header.Get("Retry-After"), 5*time.Second)
			r.log.Warnf("Provider rate-limited media exchange for instance %s, retry in %s", instance.InstanceID, rejection.RetryAfter)
		}
		return nil, rejection
	}

	var exchangeResp mediaExchangeResponse
	if err = json.NewDecoder(resp.Body).Decode(&exchangeResp); err != nil {
		return nil, fmt.Errorf("failed to decode media exchange response: %w", err)
	}
	if exchangeResp.FileLink == "" {
		return nil, ErrNoFileLink
	}
	handle := &DownloadHandle{FileLink: exchangeResp.FileLink}
	if exchangeResp.Expires > 0 {
		handle.Expires = time.Unix(exchangeResp.Expires, 0)
	}
	return handle, nil
}

// Fetch streams the file behind a resolved link. The caller owns the returned
// body and must close it.
func (r *Resolver) Fetch(ctx context.Context, handle *DownloadHandle) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, handle.FileLink, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to prepare media download request: %w", err)
	}
	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("media download failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxRejectionBodyLen))
		_ = resp.Body.Close()
		cancel()
		return nil, &ProviderRejectedError{Status: resp.StatusCode, Body: string(body)}
	}
	return &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}, nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (crc *cancelReadCloser) Close() error {
	err := crc.ReadCloser.Close()
	crc.cancel()
	return err
}
