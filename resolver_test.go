// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package waingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.mau.fi/waingest/types"
)

func testDescriptor() *types.MediaDescriptor {
	return &types.MediaDescriptor{
		MediaKey:   "a2V5",
		DirectPath: "/v/t62.7117-24/abc",
		Mimetype:   "audio/ogg",
		FileLength: 8192,
		Type:       types.ContentAudio,
	}
}

func TestResolverResolve(t *testing.T) {
	instance := &types.GatewayInstance{InstanceID: "wa-instance-7", AuthToken: "secret"}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/instances/wa-instance-7/media/exchange", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a2V5", req["mediaKey"])
		assert.Equal(t, "/v/t62.7117-24/abc", req["directPath"])
		assert.Equal(t, "audio", req["type"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"fileLink": "https://cdn.example.com/file.enc",
			"expires":  time.Now().Add(time.Hour).Unix(),
		})
	}))
	defer server.Close()

	resolver := NewResolver(server.URL, 5*time.Second, nil)
	handle, err := resolver.Resolve(context.Background(), testDescriptor(), instance)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/file.enc", handle.FileLink)
	assert.False(t, handle.Expires.IsZero())
}

func TestResolverRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"invalid token"}`))
	}))
	defer server.Close()

	resolver := NewResolver(server.URL, 5*time.Second, nil)
	instance := &types.GatewayInstance{InstanceID: "wa-instance-7", AuthToken: "wrong"}
	_, err := resolver.Resolve(context.Background(), testDescriptor(), instance)
	var rejected *ProviderRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusForbidden, rejected.Status)
	assert.Contains(t, rejected.Body, "invalid token")
}

func TestResolverRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	resolver := NewResolver(server.URL, 5*time.Second, nil)
	instance := &types.GatewayInstance{InstanceID: "wa-instance-7", AuthToken: "secret"}
	_, err := resolver.Resolve(context.Background(), testDescriptor(), instance)
	var rejected *ProviderRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusTooManyRequests, rejected.Status)
	assert.Equal(t, 30*time.Second, rejected.RetryAfter)
}

func TestResolverLocalFailFast(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	resolver := NewResolver(server.URL, 5*time.Second, nil)
	ctx := context.Background()

	// Incomplete descriptor must not reach the network.
	incomplete := testDescriptor()
	incomplete.MediaKey = ""
	_, err := resolver.Resolve(ctx, incomplete, &types.GatewayInstance{InstanceID: "x", AuthToken: "secret"})
	assert.ErrorIs(t, err, ErrIncompleteDescriptor)

	// Neither must a missing auth token.
	_, err = resolver.Resolve(ctx, testDescriptor(), &types.GatewayInstance{InstanceID: "x"})
	assert.ErrorIs(t, err, ErrMissingCredentials)

	assert.EqualValues(t, 0, hits.Load(), "local validation failures hit the provider")
}

func TestResolverEmptyFileLink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"fileLink": ""}`))
	}))
	defer server.Close()

	resolver := NewResolver(server.URL, 5*time.Second, nil)
	instance := &types.GatewayInstance{InstanceID: "wa-instance-7", AuthToken: "secret"}
	_, err := resolver.Resolve(context.Background(), testDescriptor(), instance)
	assert.ErrorIs(t, err, ErrNoFileLink)
}

func TestResolverFetch(t *testing.T) {
	payload := []byte("encrypted media bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/file.enc" {
			_, _ = w.Write(payload)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	resolver := NewResolver(server.URL, 5*time.Second, nil)
	body, err := resolver.Fetch(context.Background(), &DownloadHandle{FileLink: server.URL + "/file.enc"})
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	_, err = resolver.Fetch(context.Background(), &DownloadHandle{FileLink: server.URL + "/missing"})
	var rejected *ProviderRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, http.StatusNotFound, rejected.Status)
}
