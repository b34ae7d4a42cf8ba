package cfgclient

import (
	"context"
	"fmt"

	"github.com/asiatensor/soulx-validator/core"
)

type pendingTasksResponse struct {
	Success bool        `json:"success"`
	Tasks   []core.Task `json:"tasks"`
}

// PendingTasks fetches up to limit pending synthetic tasks.
func (c *Client) PendingTasks(ctx context.Context, limit, offset int) ([]core.Task, error) {
	var resp pendingTasksResponse
	path := fmt.Sprintf("/tasks/pending?limit=%d&offset=%d", limit, offset)
	if err := c.do(ctx, "GET", path, true, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("config service refused pending-tasks request")
	}
	return resp.Tasks, nil
}

type taskStatusRequest struct {
	Status       core.TaskStatus `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ResultData   interface{}     `json:"result_data,omitempty"`
}

// UpdateTaskStatus reports a status transition for a task. Best-effort
// callers log and ignore the returned error.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID string, status core.TaskStatus, errorMessage string) error {
	body := taskStatusRequest{Status: status, ErrorMessage: errorMessage}
	return c.do(ctx, "PUT", "/tasks/"+taskID+"/status", true, body, nil)
}

type taskCompleteRequest struct {
	ResultData interface{} `json:"result_data"`
}

// CompleteTask marks a task completed with its result payload.
func (c *Client) CompleteTask(ctx context.Context, taskID string, resultData interface{}) error {
	return c.do(ctx, "POST", "/tasks/"+taskID+"/complete", true, taskCompleteRequest{ResultData: resultData}, nil)
}
