// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package coordinator resolves gateway instances to their owning tenants and
// tracks instance connection status across the webhook pipeline.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mau.fi/waingest/store"
	"go.mau.fi/waingest/types"
	waLog "go.mau.fi/waingest/util/log"
)

// cacheTTL bounds how long a resolved instance/tenant pair is served from
// memory before being re-read. Auth token rotation takes up to this long to be
// picked up.
const cacheTTL = time.Minute

type cachedInstance struct {
	instance  *types.GatewayInstance
	tenant    *types.Tenant
	refreshed time.Time
}

// Registry resolves provider instance IDs to (instance, tenant) pairs. An
// instance belongs to exactly one tenant and lookups never fall back across
// tenants; a miss is a hard ErrInstanceNotFound.
type Registry struct {
	store store.Store
	log   waLog.Logger

	mu    sync.RWMutex
	cache map[string]cachedInstance
}

func NewRegistry(db store.Store, log waLog.Logger) *Registry {
	if log == nil {
		log = waLog.Noop
	}
	return &Registry{
		store: db,
		log:   log,
		cache: make(map[string]cachedInstance),
	}
}

// Resolve looks up the gateway instance and its owning tenant. The first
// successful resolution of a pending instance marks it connected.
func (r *Registry) Resolve(ctx context.Context, instanceID string) (*types.GatewayInstance, *types.Tenant, error) {
	r.mu.RLock()
	cached, ok := r.cache[instanceID]
	r.mu.RUnlock()
	if ok && time.Since(cached.refreshed) < cacheTTL {
		return cached.instance, cached.tenant, nil
	}

	instance, err := r.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}
	tenant, err := r.store.GetTenant(ctx, instance.TenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("instance %s references missing tenant %s: %w", instanceID, instance.TenantID, err)
	}

	if instance.Status == types.InstanceStatusPending {
		if err = r.store.SetInstanceStatus(ctx, instanceID, types.InstanceStatusConnected); err != nil {
			r.log.Warnf("Failed to mark instance %s connected: %v", instanceID, err)
		} else {
			instance.Status = types.InstanceStatusConnected
			r.log.Infof("Instance %s of tenant %s is now connected", instanceID, tenant.Name)
		}
	}

	r.mu.Lock()
	r.cache[instanceID] = cachedInstance{instance: instance, tenant: tenant, refreshed: time.Now()}
	r.mu.Unlock()
	return instance, tenant, nil
}

// MarkError flags an instance whose credentials the provider rejects. The cache
// entry is dropped so the next delivery re-reads the row.
func (r *Registry) MarkError(ctx context.Context, instanceID string) {
	if err := r.store.SetInstanceStatus(ctx, instanceID, types.InstanceStatusError); err != nil {
		r.log.Warnf("Failed to mark instance %s errored: %v", instanceID, err)
	}
	r.Invalidate(instanceID)
}

// Invalidate drops an instance from the cache (e.g. after a token update).
func (r *Registry) Invalidate(instanceID string) {
	r.mu.Lock()
	delete(r.cache, instanceID)
	r.mu.Unlock()
}
