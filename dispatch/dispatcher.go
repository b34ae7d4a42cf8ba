package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/asiatensor/soulx-validator/core"
	"github.com/asiatensor/soulx-validator/handshake"
	"github.com/asiatensor/soulx-validator/scoring"
)

// configAPI is the config-service surface the dispatcher consumes.
type configAPI interface {
	leaseAPI
	UpdateTaskStatus(ctx context.Context, taskID string, status core.TaskStatus, errorMessage string) error
	CompleteTask(ctx context.Context, taskID string, resultData interface{}) error
	ContendersForTask(ctx context.Context, task string, topX int) ([]core.Contender, error)
	TaskConfig(ctx context.Context, task string) (core.TaskConfig, error)
	PostReward(ctx context.Context, reward core.RewardData) error
	UpdateContenderStats(ctx context.Context, contender *core.Contender) error
	UpdateContenderCapacity(ctx context.Context, contenderID string, capacity float64) error
	IncrementContenderErrorCount(ctx context.Context, contenderID string) error
}

// sessionSource resolves miner sessions; satisfied by the handshake manager.
type sessionSource interface {
	Get(hotkey string) (*handshake.Session, bool)
}

// querier issues the miner HTTP call.
type querier interface {
	Do(ctx context.Context, session *handshake.Session, cfg *core.TaskConfig, task *core.Task) *core.QueryResult
}

// RewardSink mirrors reward records into the archive. May be nil.
type RewardSink interface {
	StoreReward(ctx context.Context, reward core.RewardData) error
}

type contenderStatus int

const (
	contenderSucceeded contenderStatus = iota
	contenderFailed
	contenderSkippedBusy
)

// Dispatcher runs the per-task procedure: select contenders, lease, query,
// score, report, release. One Dispatch call handles one dequeued task.
type Dispatcher struct {
	cc         configAPI
	leases     *LeaseManager
	sessions   sessionSource
	querier    querier
	history    *scoring.History
	archive    RewardSink
	stats      *RewardStats
	alloc      *Allocator
	hotkey     string
	localDev   bool
	capacityMx float64
	backoff    time.Duration
	log        log.Logger
}

// NewDispatcher wires a dispatcher. archive may be nil.
func NewDispatcher(cc configAPI, leases *LeaseManager, sessions sessionSource, q querier, history *scoring.History, archive RewardSink, stats *RewardStats, cfg *core.Config, hotkey string) *Dispatcher {
	return &Dispatcher{
		cc:         cc,
		leases:     leases,
		sessions:   sessions,
		querier:    q,
		history:    history,
		archive:    archive,
		stats:      stats,
		alloc:      NewAllocator(cfg.AllocationStrategy),
		hotkey:     hotkey,
		localDev:   cfg.LocalDevelopment,
		capacityMx: cfg.CapacityToScoreMultiplier,
		backoff:    core.DispatchBackoff,
		log:        log.New("module", "dispatch"),
	}
}

// Dispatch handles one task end to end. Errors never escape: the task ends
// as completed or failed at the config service.
func (d *Dispatcher) Dispatch(ctx context.Context, task core.Task) {
	if err := d.cc.UpdateTaskStatus(ctx, task.TaskID, core.TaskStatusProcessing, ""); err != nil {
		d.log.Debug("failed to mark task processing", "task", task.TaskID, "err", err)
	}

	topX := 0
	if d.localDev {
		topX = 1
	}

	var lastErr string
	for attempt := 1; attempt <= core.DispatchRetries; attempt++ {
		contenders, err := d.cc.ContendersForTask(ctx, task.TaskType, topX)
		if err != nil {
			lastErr = fmt.Sprintf("contender fetch failed: %v", err)
			d.log.Warn("contender fetch failed", "task", task.TaskID, "attempt", attempt, "err", err)
		} else {
			contenders = d.alloc.Order(d.filterPinned(&task, contenders))
			if len(contenders) == 0 {
				lastErr = "no contenders available"
			} else {
				succeeded := false
				for i := range contenders {
					status := d.tryContender(ctx, &task, &contenders[i])
					if status == contenderSucceeded {
						succeeded = true
					}
				}
				if succeeded {
					if err := d.cc.CompleteTask(ctx, task.TaskID, nil); err != nil {
						d.log.Debug("failed to mark task completed", "task", task.TaskID, "err", err)
					}
					return
				}
				lastErr = "all contenders failed"
			}
		}

		if attempt < core.DispatchRetries {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.backoff):
			}
		}
	}

	if err := d.cc.UpdateTaskStatus(ctx, task.TaskID, core.TaskStatusFailed, lastErr); err != nil {
		d.log.Debug("failed to mark task failed", "task", task.TaskID, "err", err)
	}
	d.log.Warn("task failed after retries", "task", task.TaskID, "reason", lastErr)
}

// filterPinned narrows the contender list when the task is addressed to a
// specific miner.
func (d *Dispatcher) filterPinned(task *core.Task, contenders []core.Contender) []core.Contender {
	if task.MinerHotkey == "" {
		return contenders
	}
	for i := range contenders {
		if contenders[i].NodeHotkey == task.MinerHotkey {
			return contenders[i : i+1]
		}
	}
	return nil
}

// tryContender runs steps lease-check through lease-release for one
// contender. Every failure path still emits a reward record so the miner's
// behavior is priced in.
func (d *Dispatcher) tryContender(ctx context.Context, task *core.Task, contender *core.Contender) contenderStatus {
	if d.leases.Held(ctx, contender.NodeHotkey) {
		d.stats.CountSkipped()
		d.log.Debug("contender busy, skipping", "task", task.TaskID, "miner", contender.NodeHotkey,
			"held_task", d.leases.HeldTask(ctx, contender.NodeHotkey))
		return contenderSkippedBusy
	}
	if err := d.leases.Acquire(ctx, contender.NodeHotkey, task.TaskID, task.TaskType); err != nil {
		d.log.Debug("lease acquire failed", "miner", contender.NodeHotkey, "err", err)
		return contenderFailed
	}
	defer d.leases.Release(ctx, contender.NodeHotkey)

	cfg, err := d.cc.TaskConfig(ctx, task.TaskType)
	if err != nil || !cfg.Enabled {
		d.countServerError(ctx, contender)
		d.recordFailure(ctx, task, contender, &cfg, fmt.Sprintf("task config unavailable: %v", err))
		return contenderFailed
	}

	session, ok := d.sessions.Get(contender.NodeHotkey)
	if !ok || !session.OK {
		d.countServerError(ctx, contender)
		d.recordFailure(ctx, task, contender, &cfg, "no session with miner")
		return contenderFailed
	}

	result := d.querier.Do(ctx, session, &cfg, task)
	result.NodeID = contender.NodeID
	result.Task = task.TaskType
	contender.TotalRequestsMade++
	switch {
	case result.StatusCode == 429:
		contender.Requests429++
	case result.StatusCode >= 500 || (!result.Success && result.StatusCode != 400):
		d.countServerError(ctx, contender)
	}

	outcome := scoring.Score(result, task.QueryPayload, &cfg, task.Claimed)
	d.report(ctx, task, contender, &cfg, result, outcome)

	if outcome.QualityScore == core.FraudSentinel {
		d.stats.CountFraud()
		return contenderFailed
	}
	if !result.Success {
		d.stats.CountFailed()
		return contenderFailed
	}
	return contenderSucceeded
}

// countServerError bumps both the local 500 counter and the service-side
// error count for the contender.
func (d *Dispatcher) countServerError(ctx context.Context, contender *core.Contender) {
	contender.Requests500++
	if err := d.cc.IncrementContenderErrorCount(ctx, contender.ContenderID); err != nil {
		d.log.Debug("error-count increment failed", "contender", contender.ContenderID, "err", err)
	}
}

// recordFailure emits a zero-score reward record for a contender that never
// reached the query stage.
func (d *Dispatcher) recordFailure(ctx context.Context, task *core.Task, contender *core.Contender, cfg *core.TaskConfig, reason string) {
	result := &core.QueryResult{
		Task:         task.TaskType,
		NodeID:       contender.NodeID,
		NodeHotkey:   contender.NodeHotkey,
		Success:      false,
		ErrorMessage: reason,
	}
	d.report(ctx, task, contender, cfg, result, scoring.Outcome{})
	d.stats.CountFailed()
}

// report pushes the reward record, updates contender stats and appends the
// scoring history entry. All service calls are best effort.
func (d *Dispatcher) report(ctx context.Context, task *core.Task, contender *core.Contender, cfg *core.TaskConfig, result *core.QueryResult, outcome scoring.Outcome) {
	reward := core.RewardData{
		ID:              uuid.New().String(),
		Task:            task.TaskType,
		NodeID:          contender.NodeID,
		NodeHotkey:      contender.NodeHotkey,
		ValidatorHotkey: d.hotkey,
		SyntheticQuery:  true,
		QualityScore:    outcome.QualityScore,
		ResponseTime:    outcome.ResponseTime,
		Volume:          outcome.Volume,
		Metric:          outcome.Metric,
		StreamMetric:    outcome.StreamMetric,
		CreatedAt:       time.Now().UTC(),
	}

	if err := d.cc.PostReward(ctx, reward); err != nil {
		d.log.Warn("reward report failed", "task", task.TaskID, "miner", contender.NodeHotkey, "err", err)
	} else {
		d.stats.CountEmitted()
	}
	if d.archive != nil {
		if err := d.archive.StoreReward(ctx, reward); err != nil {
			d.log.Debug("reward archive write failed", "err", err)
		}
	}

	if outcome.QualityScore > 0 {
		contender.PeriodScore += outcome.QualityScore * cfg.Weight * d.capacityMx
	}
	if err := d.cc.UpdateContenderStats(ctx, contender); err != nil {
		d.log.Debug("contender stats update failed", "contender", contender.ContenderID, "err", err)
	}

	if result.Success && outcome.Volume > 0 {
		contender.Capacity -= outcome.Volume
		if contender.Capacity < 0 {
			contender.Capacity = 0
		}
		if err := d.cc.UpdateContenderCapacity(ctx, contender.ContenderID, contender.Capacity); err != nil {
			d.log.Debug("capacity update failed", "contender", contender.ContenderID, "err", err)
		}
	}

	d.history.Append(contender.NodeHotkey, core.ScoringResult{
		QualityScore:   outcome.QualityScore,
		Timestamp:      time.Now(),
		SyntheticQuery: true,
		ResponseTime:   result.ResponseTime,
		Success:        result.Success,
		StatusCode:     result.StatusCode,
	})
}
