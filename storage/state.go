// Package storage persists the validator's checkpoint state in Redis.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/go-redis/redis"

	"github.com/asiatensor/soulx-validator/core"
)

// stateStore is the Redis slice the store uses; *redis.Client satisfies it.
type stateStore interface {
	Set(key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(key string) *redis.StringCmd
	Del(keys ...string) *redis.IntCmd
}

// StateStore saves and restores ValidatorState under a stable validator id.
type StateStore struct {
	rdb stateStore
	key string
	log log.Logger
}

// NewStateStore builds a store keyed by the validator identity.
func NewStateStore(rdb stateStore, validatorID string) *StateStore {
	return &StateStore{
		rdb: rdb,
		key: "state:" + validatorID + core.StateKeySufix,
		log: log.New("module", "storage"),
	}
}

// Save checkpoints the state. No TTL: the restore window is enforced on
// load against the block distance.
func (s *StateStore) Save(state *core.ValidatorState) error {
	state.SavedAt = time.Now().UTC()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode validator state: %w", err)
	}
	if err := s.rdb.Set(s.key, string(data), 0).Err(); err != nil {
		return fmt.Errorf("failed to save validator state: %w", err)
	}
	return nil
}

// LoadLatest returns the last checkpoint, or nil when none exists. A
// corrupt blob is deleted and treated as absent.
func (s *StateStore) LoadLatest() (*core.ValidatorState, error) {
	data, err := s.rdb.Get(s.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load validator state: %w", err)
	}

	var state core.ValidatorState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		s.log.Warn("validator state corrupt, discarding", "err", err)
		if derr := s.rdb.Del(s.key).Err(); derr != nil {
			s.log.Warn("failed to delete corrupt state", "err", derr)
		}
		return nil, nil
	}
	return &state, nil
}
