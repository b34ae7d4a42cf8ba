// Package core - shared data model for the validator pipeline
//
// This file defines the wire and bookkeeping types flowing between the task
// queue, the dispatcher, the scorer and the weight engine. All wire types
// carry json tags matching the config-service and miner HTTP schemas.
package core

import (
	"encoding/json"
	"time"
)

// TaskType distinguishes the two miner workload families.
type TaskType string

const (
	TaskTypeText  TaskType = "text"
	TaskTypeImage TaskType = "image"
)

// TaskStatus values reported back to the config service.
type TaskStatus string

const (
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task is one unit of work pulled from the config service and carried
// through the Redis queue. QueryPayload is passed to the miner untouched.
type Task struct {
	TaskID          string          `json:"task_id"`
	TaskType        string          `json:"task_type"`
	QueryPayload    json.RawMessage `json:"query_payload"`
	ValidatorHotkey string          `json:"validator_hotkey,omitempty"`
	MinerHotkey     string          `json:"miner_hotkey,omitempty"`

	// Claimed holds self-reported performance numbers when the task runs
	// in sus mode; observed metrics are checked against it.
	Claimed *ClaimedMetrics `json:"speed_data,omitempty"`
}

// ClaimedMetrics is a contender's self-reported throughput claim.
type ClaimedMetrics struct {
	Metric       float64 `json:"metric"`
	StreamMetric float64 `json:"stream_metric"`
}

// TaskConfig shapes the outbound request for one task type.
type TaskConfig struct {
	Task        string   `json:"task"`
	TaskType    TaskType `json:"task_type"`
	Endpoint    string   `json:"endpoint"`
	Timeout     float64  `json:"timeout"`
	IsStream    bool     `json:"is_stream"`
	Weight      float64  `json:"weight"`
	MaxCapacity float64  `json:"max_capacity"`
	Enabled     bool     `json:"enabled"`
}

// Contender is a (miner, task) binding returned by the config service as a
// candidate recipient. Request counters are incremented locally during a
// dispatch and reported back afterwards.
type Contender struct {
	ContenderID       string  `json:"contender_id"`
	NodeHotkey        string  `json:"node_hotkey"`
	NodeID            int     `json:"node_id"`
	Task              string  `json:"task"`
	Capacity          float64 `json:"capacity"`
	TotalRequestsMade int     `json:"total_requests_made"`
	Requests429       int     `json:"requests_429"`
	Requests500       int     `json:"requests_500"`
	PeriodScore       float64 `json:"period_score"`
}

// QueryResult is the outcome of a single miner call. For streaming queries
// Chunks holds every parsed SSE object in order; for non-streaming queries
// Raw holds the single response body.
type QueryResult struct {
	Task         string            `json:"task"`
	NodeID       int               `json:"node_id"`
	NodeHotkey   string            `json:"node_hotkey"`
	Success      bool              `json:"success"`
	StatusCode   int               `json:"status_code"`
	Chunks       []json.RawMessage `json:"formatted_response,omitempty"`
	Raw          json.RawMessage   `json:"raw_response,omitempty"`
	ResponseTime float64           `json:"response_time"`
	StreamTime   float64           `json:"stream_time"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

// RewardData is the scoring record reported to the config service and
// mirrored into the archive. A QualityScore of FraudSentinel marks a
// detected metric-claim fraud and is never clamped.
type RewardData struct {
	ID              string    `json:"id"`
	Task            string    `json:"task"`
	NodeID          int       `json:"node_id"`
	NodeHotkey      string    `json:"node_hotkey"`
	ValidatorHotkey string    `json:"validator_hotkey"`
	SyntheticQuery  bool      `json:"synthetic_query"`
	QualityScore    float64   `json:"quality_score"`
	ResponseTime    float64   `json:"response_time"`
	Volume          float64   `json:"volume"`
	Metric          float64   `json:"metric"`
	StreamMetric    float64   `json:"stream_metric"`
	CreatedAt       time.Time `json:"created_at"`
}

// ScoringResult is one per-miner dispatch outcome kept in the in-memory
// scoring history until the weight engine rolls the cycle over.
type ScoringResult struct {
	QualityScore   float64   `json:"quality_score"`
	Timestamp      time.Time `json:"timestamp"`
	SyntheticQuery bool      `json:"synthetic_query"`
	ResponseTime   float64   `json:"response_time"`
	Success        bool      `json:"success"`
	StatusCode     int       `json:"status_code"`
}

// ValidatorState is the durable checkpoint written by the main loop. All
// slices share the metagraph's current length.
type ValidatorState struct {
	CurrentBlock        uint64    `json:"current_block"`
	TotalBlocksRun      uint64    `json:"total_blocks_run"`
	Scores              []float64 `json:"scores"`
	MovingAvgScores     []float64 `json:"moving_avg_scores"`
	Hotkeys             []string  `json:"hotkeys"`
	BlockAtRegistration []uint64  `json:"block_at_registration"`
	SavedAt             time.Time `json:"saved_at"`
}
