// Package queue implements the Redis-backed deduplicated task queue shared
// by the producer and consumer loops. A list carries the FIFO order and a
// companion set holds pending task ids so a task can never be queued twice.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/go-redis/redis"

	"github.com/asiatensor/soulx-validator/core"
)

// enqueueScript claims the task id in the dedup set and pushes the payload
// in one server-side step. Returns 1 on push, 0 on duplicate.
const enqueueScript = `
if redis.call('SADD', KEYS[2], ARGV[1]) == 1 then
    redis.call('RPUSH', KEYS[1], ARGV[2])
    return 1
end
return 0
`

// redisCmdable is the slice of the Redis client the queue uses. The real
// *redis.Client satisfies it; tests substitute a fake.
type redisCmdable interface {
	Ping() *redis.StatusCmd
	Eval(script string, keys []string, args ...interface{}) *redis.Cmd
	BLPop(timeout time.Duration, keys ...string) *redis.StringSliceCmd
	SRem(key string, members ...interface{}) *redis.IntCmd
	LLen(key string) *redis.IntCmd
	Del(keys ...string) *redis.IntCmd
}

// TaskQueue is the validator's view of the shared work queue.
type TaskQueue struct {
	rdb      redisCmdable
	queueKey string
	setKey   string
	log      log.Logger
}

// Connect builds the pooled Redis client shared by the queue, the lease
// fallback and the state store, and verifies it with a ping.
func Connect(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              db,
		PoolSize:        10,
		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 2 * time.Second,
	})
	if err := client.Ping().Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// NewTaskQueue wraps a connected Redis client.
func NewTaskQueue(rdb redisCmdable) *TaskQueue {
	return &TaskQueue{
		rdb:      rdb,
		queueKey: core.QueueKey,
		setKey:   core.TaskIDSetKey,
		log:      log.New("module", "queue"),
	}
}

// Enqueue adds a task unless its id is already pending. Returns false for
// duplicates.
func (q *TaskQueue) Enqueue(task core.Task) (bool, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return false, fmt.Errorf("failed to encode task %s: %w", task.TaskID, err)
	}

	res, err := q.rdb.Eval(enqueueScript, []string{q.queueKey, q.setKey}, task.TaskID, string(payload)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to enqueue task %s: %w", task.TaskID, err)
	}

	pushed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected enqueue script result %T", res)
	}
	if pushed == 0 {
		q.log.Debug("duplicate task ignored", "task", task.TaskID)
		return false, nil
	}
	return true, nil
}

// Dequeue blocks up to timeout for the next task. Returns nil when the
// queue stayed empty. The task id is dropped from the dedup set on pop;
// an SREM failure is logged, not fatal.
func (q *TaskQueue) Dequeue(timeout time.Duration) (*core.Task, error) {
	vals, err := q.rdb.BLPop(timeout, q.queueKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop task queue: %w", err)
	}
	if len(vals) < 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply of %d elements", len(vals))
	}

	var task core.Task
	if err := json.Unmarshal([]byte(vals[1]), &task); err != nil {
		return nil, fmt.Errorf("failed to decode queued task: %w", err)
	}

	if err := q.rdb.SRem(q.setKey, task.TaskID).Err(); err != nil {
		q.log.Warn("failed to clear task id from dedup set", "task", task.TaskID, "err", err)
	}
	return &task, nil
}

// Length returns the number of queued tasks.
func (q *TaskQueue) Length() (int64, error) {
	n, err := q.rdb.LLen(q.queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}

// Clear drops the queue and the dedup set.
func (q *TaskQueue) Clear() error {
	if err := q.rdb.Del(q.queueKey, q.setKey).Err(); err != nil {
		return fmt.Errorf("failed to clear task queue: %w", err)
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (q *TaskQueue) Ping() error {
	return q.rdb.Ping().Err()
}
