package cfgclient

import (
	"context"
	"sync"
	"time"
)

const systemCacheTTL = 300 * time.Second

// ValidatorPolicy is the whitelist/blacklist view the weight engine applies
// before submitting. Defaults are permissive so a config-service outage does
// not stall weight setting.
type ValidatorPolicy struct {
	Whitelisted        bool    `json:"whitelisted"`
	Blacklisted        bool    `json:"blacklisted"`
	PenaltyCoefficient float64 `json:"penalty_coefficient"`
	OwnerDefaultScore  float64 `json:"owner_default_score"`
}

func defaultPolicy() ValidatorPolicy {
	return ValidatorPolicy{
		Whitelisted:        true,
		Blacklisted:        false,
		PenaltyCoefficient: 1.0,
		OwnerDefaultScore:  0.2,
	}
}

type systemCache struct {
	mu        sync.Mutex
	policy    ValidatorPolicy
	fetchedAt time.Time
}

func newSystemCache() *systemCache {
	return &systemCache{policy: defaultPolicy()}
}

type validatorPolicyResponse struct {
	Success            bool     `json:"success"`
	Whitelist          []string `json:"whitelist"`
	Blacklist          []string `json:"blacklist"`
	PenaltyCoefficient float64  `json:"penalty_coefficient"`
	OwnerDefaultScore  float64  `json:"owner_default_score"`
}

// ValidatorPolicy resolves this validator's standing. Served from a short
// cache; on a service error the last known (or default) policy is returned.
func (c *Client) ValidatorPolicy(ctx context.Context) ValidatorPolicy {
	c.system.mu.Lock()
	defer c.system.mu.Unlock()

	if time.Since(c.system.fetchedAt) < systemCacheTTL && !c.system.fetchedAt.IsZero() {
		return c.system.policy
	}

	var resp validatorPolicyResponse
	if err := c.do(ctx, "GET", "/system/config/validators", true, nil, &resp); err != nil {
		c.log.Warn("validator policy fetch failed, using cached", "err", err)
		return c.system.policy
	}
	if !resp.Success {
		return c.system.policy
	}

	policy := defaultPolicy()
	policy.Whitelisted = contains(resp.Whitelist, c.hotkey) || len(resp.Whitelist) == 0
	policy.Blacklisted = contains(resp.Blacklist, c.hotkey)
	if resp.PenaltyCoefficient > 0 {
		policy.PenaltyCoefficient = resp.PenaltyCoefficient
	}
	if resp.OwnerDefaultScore > 0 {
		policy.OwnerDefaultScore = resp.OwnerDefaultScore
	}

	c.system.policy = policy
	c.system.fetchedAt = time.Now()
	return policy
}

// SystemConfig fetches one raw system config value by key.
func (c *Client) SystemConfig(ctx context.Context, key string) (map[string]interface{}, error) {
	var resp map[string]interface{}
	if err := c.do(ctx, "GET", "/system/config/"+key, true, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ValidatorInit fetches the startup bundle published for validators.
func (c *Client) ValidatorInit(ctx context.Context) (map[string]interface{}, error) {
	return c.SystemConfig(ctx, "validatorinit")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
