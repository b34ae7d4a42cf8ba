package queue

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/asiatensor/soulx-validator/core"
)

// TaskSource feeds the queue; satisfied by the config-service client.
type TaskSource interface {
	PendingTasks(ctx context.Context, limit, offset int) ([]core.Task, error)
}

// DispatchFunc handles one dequeued task end to end.
type DispatchFunc func(ctx context.Context, task core.Task)

// Processor runs the producer and consumer loops over one TaskQueue.
type Processor struct {
	queue    *TaskQueue
	source   TaskSource
	dispatch DispatchFunc
	maxTasks int
	log      log.Logger

	mu          sync.Mutex
	lastDequeue time.Time
}

// NewProcessor wires a processor. maxTasks bounds in-flight dispatches.
func NewProcessor(queue *TaskQueue, source TaskSource, dispatch DispatchFunc, maxTasks int) *Processor {
	if maxTasks < 1 {
		maxTasks = 1
	}
	return &Processor{
		queue:    queue,
		source:   source,
		dispatch: dispatch,
		maxTasks: maxTasks,
		log:      log.New("module", "queue"),
	}
}

// Run starts both loops and blocks until ctx is cancelled and in-flight
// dispatches have drained.
func (p *Processor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.consumeLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		p.produceLoop(ctx)
	}()
	wg.Wait()
}

// consumeLoop drains the queue, dispatching each task on its own goroutine
// bounded by a slot channel. When nothing has arrived for a full fetch
// interval the consumer refills directly from the source.
func (p *Processor) consumeLoop(ctx context.Context) {
	slots := make(chan struct{}, p.maxTasks)
	var inflight sync.WaitGroup

	p.mu.Lock()
	p.lastDequeue = time.Now()
	p.mu.Unlock()

	for ctx.Err() == nil {
		task, err := p.queue.Dequeue(core.DequeueTimeout)
		if err != nil {
			p.log.Warn("dequeue failed, backing off", "err", err)
			sleepCtx(ctx, 5*time.Second)
			continue
		}
		if task == nil {
			p.maybeRefill(ctx)
			continue
		}

		p.mu.Lock()
		p.lastDequeue = time.Now()
		p.mu.Unlock()

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			inflight.Wait()
			return
		}

		inflight.Add(1)
		go func(t core.Task) {
			defer inflight.Done()
			defer func() { <-slots }()
			p.dispatch(ctx, t)
		}(*task)
	}
	inflight.Wait()
}

// maybeRefill pulls a batch from the source when the queue has been idle
// longer than the fetch interval.
func (p *Processor) maybeRefill(ctx context.Context) {
	p.mu.Lock()
	idle := time.Since(p.lastDequeue)
	p.mu.Unlock()
	if idle < core.FetchInterval {
		return
	}

	tasks, err := p.source.PendingTasks(ctx, core.RefillBatchSize, 0)
	if err != nil {
		p.log.Warn("refill fetch failed", "err", err)
		return
	}
	added := 0
	for _, t := range tasks {
		ok, err := p.queue.Enqueue(t)
		if err != nil {
			p.log.Warn("refill enqueue failed", "task", t.TaskID, "err", err)
			continue
		}
		if ok {
			added++
		}
	}
	if added > 0 {
		p.log.Info("refilled queue from config service", "added", added)
	}

	p.mu.Lock()
	p.lastDequeue = time.Now()
	p.mu.Unlock()
}

// produceLoop polls the source for pending tasks and feeds the queue,
// sleeping longer when the service has nothing for us.
func (p *Processor) produceLoop(ctx context.Context) {
	for ctx.Err() == nil {
		tasks, err := p.source.PendingTasks(ctx, core.ProducerBatchSize, 0)
		if err != nil {
			p.log.Warn("pending-task poll failed", "err", err)
			sleepCtx(ctx, 30*time.Second)
			continue
		}

		added := 0
		for _, t := range tasks {
			ok, err := p.queue.Enqueue(t)
			if err != nil {
				p.log.Warn("enqueue failed", "task", t.TaskID, "err", err)
				continue
			}
			if ok {
				added++
			}
		}

		if added == 0 {
			sleepCtx(ctx, core.ProducerIdleSleep)
		} else {
			p.log.Debug("enqueued pending tasks", "added", added, "fetched", len(tasks))
			sleepCtx(ctx, 5*time.Second)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
