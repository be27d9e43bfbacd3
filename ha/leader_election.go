// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package ha provides the PostgreSQL advisory-lock leader election that guards
// singleton background work (the media retry sweeper) in multi-process
// deployments.
package ha

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	waLog "go.mau.fi/waingest/util/log"
)

// SweeperLockName is the identifier all processes derive the sweeper lock ID
// from. Changing it orphans the old lock.
const SweeperLockName = "waingest-media-sweeper"

// LeaderElection implements leader election using PostgreSQL advisory locks.
// Only one process across all hosts can be the leader at any time.
type LeaderElection struct {
	pool   *pgxpool.Pool
	lockID int64
	log    waLog.Logger

	mu       sync.RWMutex
	isLeader bool
}

// NewLeaderElection creates a leader election handle for the given lock name.
func NewLeaderElection(pool *pgxpool.Pool, lockName string, log waLog.Logger) *LeaderElection {
	if log == nil {
		log = waLog.Noop
	}
	return &LeaderElection{
		pool:   pool,
		lockID: generateLockID(lockName),
		log:    log,
	}
}

// generateLockID derives a stable positive int64 lock ID from a name.
func generateLockID(name string) int64 {
	hash := sha256.Sum256([]byte(name))
	lockID := int64(binary.BigEndian.Uint64(hash[:8]))
	if lockID < 0 {
		lockID = -lockID
	}
	return lockID
}

// TryAcquire attempts to acquire leadership without blocking. Advisory locks
// are session-scoped: a crashed process's lock is released with its connection.
func (le *LeaderElection) TryAcquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := le.pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", le.lockID).Scan(&acquired)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	le.mu.Lock()
	wasLeader := le.isLeader
	le.isLeader = acquired
	le.mu.Unlock()
	if acquired && !wasLeader {
		le.log.Infof("Acquired sweeper leadership (lock ID: %d)", le.lockID)
	}
	return acquired, nil
}

// VerifyLeadership checks against pg_locks that the advisory lock is actually
// still held. Advisory locks are bound to the pooled connection that acquired
// them: if the pool reaps that connection (idle timeout, max lifetime), the
// lock is silently released while isLeader still reads true, so leadership must
// be re-verified before every unit of leader-only work.
func (le *LeaderElection) VerifyLeadership(ctx context.Context) (bool, error) {
	var isLocked bool
	err := le.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM pg_locks
			WHERE locktype='advisory'
			AND objid=$1
			AND pid=pg_backend_pid()
		)
	`, le.lockID).Scan(&isLocked)
	if err != nil {
		return false, fmt.Errorf("failed to verify leadership: %w", err)
	}
	le.mu.Lock()
	wasLeader := le.isLeader
	le.isLeader = isLocked
	le.mu.Unlock()
	if wasLeader && !isLocked {
		le.log.Warnf("Lost advisory lock %d (connection recycled?), stepping down", le.lockID)
	}
	return isLocked, nil
}

// IsLeader returns true if this process currently holds leadership.
func (le *LeaderElection) IsLeader() bool {
	le.mu.RLock()
	defer le.mu.RUnlock()
	return le.isLeader
}

// Release gives up leadership.
func (le *LeaderElection) Release(ctx context.Context) error {
	var released bool
	err := le.pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", le.lockID).Scan(&released)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	le.mu.Lock()
	le.isLeader = false
	le.mu.Unlock()
	if !released {
		le.log.Warnf("Advisory lock %d was not held on release", le.lockID)
	}
	return nil
}

// RunWhenLeader calls work every interval for as long as this process is the
// leader. Each tick verifies the advisory lock is really still held before
// running work, and tries to (re)acquire it when it isn't. Blocks until ctx is
// cancelled.
func (le *LeaderElection) RunWhenLeader(ctx context.Context, interval time.Duration, work func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if le.IsLeader() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = le.Release(releaseCtx)
				cancel()
			}
			return
		case <-ticker.C:
		}
		holding := false
		if le.IsLeader() {
			verified, err := le.VerifyLeadership(ctx)
			if err != nil {
				le.log.Warnf("Leadership verification failed: %v", err)
				continue
			}
			holding = verified
		}
		if !holding {
			acquired, err := le.TryAcquire(ctx)
			if err != nil {
				le.log.Warnf("Leader election check failed: %v", err)
				continue
			}
			if !acquired {
				continue
			}
		}
		if err := work(ctx); err != nil {
			le.log.Errorf("Leader task failed: %v", err)
		}
	}
}
