package cfgclient

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/asiatensor/soulx-validator/core"
)

const (
	taskConfigCacheSize = 128
	taskConfigCacheTTL  = 300 * time.Second
)

type cachedTaskConfig struct {
	config    core.TaskConfig
	fetchedAt time.Time
}

type taskConfigCache struct {
	cache *lru.Cache
}

func newTaskConfigCache() (*taskConfigCache, error) {
	c, err := lru.New(taskConfigCacheSize)
	if err != nil {
		return nil, err
	}
	return &taskConfigCache{cache: c}, nil
}

func (tc *taskConfigCache) get(task string) (core.TaskConfig, bool) {
	v, ok := tc.cache.Get(task)
	if !ok {
		return core.TaskConfig{}, false
	}
	entry := v.(cachedTaskConfig)
	if time.Since(entry.fetchedAt) > taskConfigCacheTTL {
		tc.cache.Remove(task)
		return core.TaskConfig{}, false
	}
	return entry.config, true
}

func (tc *taskConfigCache) put(task string, cfg core.TaskConfig) {
	tc.cache.Add(task, cachedTaskConfig{config: cfg, fetchedAt: time.Now()})
}

type taskConfigResponse struct {
	Success bool            `json:"success"`
	Config  core.TaskConfig `json:"config"`
}

// TaskConfig resolves the configuration for a task type. Order: cache,
// config service, built-in defaults. A service miss with no default is an
// error the dispatcher treats as a contender failure.
func (c *Client) TaskConfig(ctx context.Context, task string) (core.TaskConfig, error) {
	if cfg, ok := c.taskConfigs.get(task); ok {
		return cfg, nil
	}

	var resp taskConfigResponse
	err := c.do(ctx, "GET", "/system/config/"+task, true, nil, &resp)
	if err == nil && resp.Success && resp.Config.Task != "" {
		c.taskConfigs.put(task, resp.Config)
		return resp.Config, nil
	}
	if err != nil {
		c.log.Debug("task config fetch failed, trying defaults", "task", task, "err", err)
	}

	if cfg, ok := core.DefaultTaskConfig(task); ok {
		c.taskConfigs.put(task, cfg)
		return cfg, nil
	}
	return core.TaskConfig{}, fmt.Errorf("no configuration for task %s", task)
}
