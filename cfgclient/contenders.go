package cfgclient

import (
	"context"
	"fmt"

	"github.com/asiatensor/soulx-validator/core"
)

type contendersResponse struct {
	Success    bool             `json:"success"`
	Contenders []core.Contender `json:"contenders"`
}

// ContendersForTask fetches candidate contenders for a task type. topX <= 0
// asks for the unlimited list.
func (c *Client) ContendersForTask(ctx context.Context, task string, topX int) ([]core.Contender, error) {
	path := "/contenders/task/" + task
	if topX > 0 {
		path += fmt.Sprintf("?top_x=%d", topX)
	}
	var resp contendersResponse
	if err := c.do(ctx, "GET", path, true, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("config service refused contender request for task %s", task)
	}
	return resp.Contenders, nil
}

type contenderStatsRequest struct {
	TotalRequestsMade int     `json:"total_requests_made"`
	Requests429       int     `json:"requests_429"`
	Requests500       int     `json:"requests_500"`
	PeriodScore       float64 `json:"period_score"`
}

// UpdateContenderStats pushes locally accumulated request counters and the
// period score back to the service.
func (c *Client) UpdateContenderStats(ctx context.Context, contender *core.Contender) error {
	body := contenderStatsRequest{
		TotalRequestsMade: contender.TotalRequestsMade,
		Requests429:       contender.Requests429,
		Requests500:       contender.Requests500,
		PeriodScore:       contender.PeriodScore,
	}
	return c.do(ctx, "PUT", "/contenders/"+contender.ContenderID+"/stats", true, body, nil)
}

// UpdateContenderCapacity reports consumed capacity for a contender.
func (c *Client) UpdateContenderCapacity(ctx context.Context, contenderID string, capacity float64) error {
	body := map[string]float64{"capacity": capacity}
	return c.do(ctx, "PUT", "/contenders/"+contenderID+"/capacity", true, body, nil)
}

// IncrementContenderErrorCount bumps the service-side error counter.
func (c *Client) IncrementContenderErrorCount(ctx context.Context, contenderID string) error {
	return c.do(ctx, "PUT", "/contenders/"+contenderID+"/error_count", true, nil, nil)
}
