package cfgclient

import (
	"context"

	"github.com/asiatensor/soulx-validator/core"
)

type rewardDataRequest struct {
	RewardData core.RewardData `json:"reward_data"`
}

// PostReward reports one scoring record to the config service.
func (c *Client) PostReward(ctx context.Context, reward core.RewardData) error {
	return c.do(ctx, "POST", "/reward_data", true, rewardDataRequest{RewardData: reward}, nil)
}
