package cfgclient

import (
	"context"
	"fmt"
	"time"

	"github.com/asiatensor/soulx-validator/core"
)

// Lease is the service-side record of an exclusive miner claim.
type Lease struct {
	MinerHotkey     string    `json:"miner_hotkey"`
	TaskID          string    `json:"task_id"`
	TaskType        string    `json:"task_type"`
	ValidatorHotkey string    `json:"validator_hotkey"`
	ExpiresAt       time.Time `json:"expires_at"`
}

type leaseSetRequest struct {
	MinerHotkey     string `json:"miner_hotkey"`
	TaskID          string `json:"task_id"`
	TaskType        string `json:"task_type"`
	ValidatorHotkey string `json:"validator_hotkey"`
	TTLSeconds      int    `json:"ttl_seconds"`
}

type leaseCheckResponse struct {
	Success bool `json:"success"`
	Held    bool `json:"held"`
}

type leaseGetResponse struct {
	Success bool   `json:"success"`
	Lease   *Lease `json:"lease"`
}

// SetLease claims the miner for one task until the TTL expires.
func (c *Client) SetLease(ctx context.Context, minerHotkey, taskID, taskType string) error {
	body := leaseSetRequest{
		MinerHotkey:     minerHotkey,
		TaskID:          taskID,
		TaskType:        taskType,
		ValidatorHotkey: c.hotkey,
		TTLSeconds:      int(core.LeaseTTL.Seconds()),
	}
	return c.do(ctx, "POST", "/miner-tasks/set", true, body, nil)
}

// CheckLease reports whether any validator currently holds the miner.
func (c *Client) CheckLease(ctx context.Context, minerHotkey string) (bool, error) {
	var resp leaseCheckResponse
	if err := c.do(ctx, "GET", "/miner-tasks/check/"+minerHotkey, true, nil, &resp); err != nil {
		return false, err
	}
	if !resp.Success {
		return false, fmt.Errorf("lease check refused for %s", minerHotkey)
	}
	return resp.Held, nil
}

// GetLease fetches the active lease for a miner, nil when none is held.
func (c *Client) GetLease(ctx context.Context, minerHotkey string) (*Lease, error) {
	var resp leaseGetResponse
	if err := c.do(ctx, "GET", "/miner-tasks/get/"+minerHotkey, true, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Lease, nil
}

// RemoveLease releases the miner.
func (c *Client) RemoveLease(ctx context.Context, minerHotkey string) error {
	return c.do(ctx, "DELETE", "/miner-tasks/remove/"+minerHotkey, true, nil, nil)
}
