// Package dispatch routes dequeued tasks to contenders: it acquires miner
// leases, issues the HTTP queries, scores the results and reports rewards.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/go-redis/redis"

	"github.com/asiatensor/soulx-validator/cfgclient"
	"github.com/asiatensor/soulx-validator/core"
)

// leaseAPI is the config-service surface the lease manager uses.
type leaseAPI interface {
	SetLease(ctx context.Context, minerHotkey, taskID, taskType string) error
	CheckLease(ctx context.Context, minerHotkey string) (bool, error)
	GetLease(ctx context.Context, minerHotkey string) (*cfgclient.Lease, error)
	RemoveLease(ctx context.Context, minerHotkey string) error
}

// leaseStore is the Redis slice backing the fallback keys.
type leaseStore interface {
	Set(key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Exists(keys ...string) *redis.IntCmd
	Del(keys ...string) *redis.IntCmd
}

// LeaseManager enforces at-most-one active task per miner. The config
// service is the primary holder; a Redis SETEX key is the fallback when
// the service is unreachable, and an in-process map covers both being down.
type LeaseManager struct {
	api   leaseAPI
	store leaseStore
	log   log.Logger

	mu    sync.Mutex
	local map[string]string // miner hotkey -> task id
}

// NewLeaseManager builds a lease manager. store may be nil in tests.
func NewLeaseManager(api leaseAPI, store leaseStore) *LeaseManager {
	return &LeaseManager{
		api:   api,
		store: store,
		log:   log.New("module", "lease"),
		local: make(map[string]string),
	}
}

// Held reports whether any validator currently holds the miner.
func (lm *LeaseManager) Held(ctx context.Context, minerHotkey string) bool {
	held, err := lm.api.CheckLease(ctx, minerHotkey)
	if err == nil {
		return held
	}
	lm.log.Debug("lease check fell back to redis", "miner", minerHotkey, "err", err)

	if lm.store != nil {
		n, rerr := lm.store.Exists(core.LeaseKeyBase + minerHotkey).Result()
		if rerr == nil {
			return n > 0
		}
	}

	lm.mu.Lock()
	_, ok := lm.local[minerHotkey]
	lm.mu.Unlock()
	return ok
}

// HeldTask returns the task id of the active claim on the miner, empty when
// it cannot be resolved. Used for the busy-skip log line.
func (lm *LeaseManager) HeldTask(ctx context.Context, minerHotkey string) string {
	lease, err := lm.api.GetLease(ctx, minerHotkey)
	if err == nil && lease != nil {
		return lease.TaskID
	}

	lm.mu.Lock()
	taskID := lm.local[minerHotkey]
	lm.mu.Unlock()
	return taskID
}

// Acquire claims the miner for one task. The claim is written to every
// reachable layer so other validators see it even during a partial outage.
func (lm *LeaseManager) Acquire(ctx context.Context, minerHotkey, taskID, taskType string) error {
	if err := lm.api.SetLease(ctx, minerHotkey, taskID, taskType); err != nil {
		lm.log.Debug("service lease set failed, using fallback", "miner", minerHotkey, "err", err)
		if lm.store == nil {
			lm.setLocal(minerHotkey, taskID)
			return nil
		}
		if rerr := lm.store.Set(core.LeaseKeyBase+minerHotkey, taskID, core.LeaseTTL).Err(); rerr != nil {
			lm.setLocal(minerHotkey, taskID)
			return nil
		}
	}
	lm.setLocal(minerHotkey, taskID)
	return nil
}

// Release removes the claim from every layer.
func (lm *LeaseManager) Release(ctx context.Context, minerHotkey string) {
	if err := lm.api.RemoveLease(ctx, minerHotkey); err != nil {
		lm.log.Debug("service lease remove failed", "miner", minerHotkey, "err", err)
	}
	if lm.store != nil {
		if err := lm.store.Del(core.LeaseKeyBase + minerHotkey).Err(); err != nil {
			lm.log.Debug("redis lease remove failed", "miner", minerHotkey, "err", err)
		}
	}
	lm.mu.Lock()
	delete(lm.local, minerHotkey)
	lm.mu.Unlock()
}

func (lm *LeaseManager) setLocal(minerHotkey, taskID string) {
	lm.mu.Lock()
	lm.local[minerHotkey] = taskID
	lm.mu.Unlock()
}
