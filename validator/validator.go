package validator

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/asiatensor/soulx-validator/chain"
	"github.com/asiatensor/soulx-validator/core"
	"github.com/asiatensor/soulx-validator/dispatch"
	"github.com/asiatensor/soulx-validator/handshake"
	"github.com/asiatensor/soulx-validator/queue"
	"github.com/asiatensor/soulx-validator/scoring"
	"github.com/asiatensor/soulx-validator/storage"
)

// Validator owns the main control loop: block waits, metagraph resync,
// weight cadence and state checkpoints. The queue processor and handshake
// timer run beside it and share state only through the thread-safe stores.
type Validator struct {
	cfg       *core.Config
	identity  *core.Identity
	chain     chain.Client
	sessions  *handshake.Manager
	processor *queue.Processor
	engine    *WeightEngine
	history   *scoring.History
	store     *storage.StateStore
	stats     *dispatch.RewardStats
	log       log.Logger

	state       core.ValidatorState
	metagraph   *chain.Metagraph
	tempo       uint64
	ownerHotkey string
	uid         int

	blocksSinceWeights uint64
}

// New assembles a validator from its wired components.
func New(cfg *core.Config, identity *core.Identity, chainClient chain.Client, sessions *handshake.Manager, processor *queue.Processor, engine *WeightEngine, history *scoring.History, store *storage.StateStore, stats *dispatch.RewardStats) *Validator {
	return &Validator{
		cfg:       cfg,
		identity:  identity,
		chain:     chainClient,
		sessions:  sessions,
		processor: processor,
		engine:    engine,
		history:   history,
		store:     store,
		stats:     stats,
		log:       log.New("module", "validator"),
		uid:       -1,
	}
}

// Run initializes chain state, restores the last checkpoint and drives the
// three long-lived loops until ctx is cancelled.
func (v *Validator) Run(ctx context.Context) error {
	if err := v.initialize(ctx); err != nil {
		return fmt.Errorf("validator init failed: %w", err)
	}

	v.sessions.UpdateNodes(v.metagraph.Neurons)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v.sessions.Run(gctx)
		return nil
	})
	g.Go(func() error {
		v.processor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return v.mainLoop(gctx)
	})
	return g.Wait()
}

// initialize fetches the first metagraph, waits for the validator permit
// and restores checkpointed state when it is recent enough.
func (v *Validator) initialize(ctx context.Context) error {
	tempo, err := v.chain.Tempo(ctx, v.cfg.Netuid)
	if err != nil {
		return err
	}
	v.tempo = tempo

	owner, err := v.chain.SubnetOwner(ctx, v.cfg.Netuid)
	if err != nil {
		return err
	}
	v.ownerHotkey = owner

	if err := v.ensureValidatorPermit(ctx); err != nil {
		return err
	}

	v.restoreState(ctx)
	v.log.Info("validator initialized", "uid", v.uid, "tempo", v.tempo, "block", v.state.CurrentBlock)
	return nil
}

// ensureValidatorPermit blocks until this hotkey is registered with enough
// stake and a validator permit. Being temporarily unpermitted is not fatal;
// the loop waits for the chain to grant it.
func (v *Validator) ensureValidatorPermit(ctx context.Context) error {
	for {
		mg, err := v.chain.Metagraph(ctx, v.cfg.Netuid)
		if err != nil {
			return err
		}
		v.metagraph = mg

		uid := mg.UIDByHotkey(v.identity.Hotkey())
		if uid < 0 {
			return fmt.Errorf("hotkey %s is not registered on netuid %d", v.identity.Hotkey(), v.cfg.Netuid)
		}
		v.uid = uid

		neuron := &mg.Neurons[uid]
		if neuron.Stake < v.cfg.MinValidatorStakeDTAO {
			v.log.Warn("stake below validator minimum, waiting",
				"stake", neuron.Stake, "required", v.cfg.MinValidatorStakeDTAO)
		} else if !neuron.ValidatorPermit {
			v.log.Warn("validator permit not granted yet, waiting", "uid", uid)
		} else {
			return nil
		}

		if _, err := v.chain.WaitForBlock(ctx, mg.Block+v.tempo); err != nil {
			return err
		}
	}
}

// restoreState loads the last checkpoint and keeps it only when it is
// within 1.5 tempos of the live block.
func (v *Validator) restoreState(ctx context.Context) {
	block, err := v.chain.CurrentBlock(ctx)
	if err != nil {
		v.log.Warn("failed to read current block during restore", "err", err)
		block = v.metagraph.Block
	}

	saved, err := v.store.LoadLatest()
	if err != nil {
		v.log.Warn("state restore failed, starting fresh", "err", err)
	}

	window := uint64(float64(v.tempo) * 1.5)
	if saved != nil && block >= saved.CurrentBlock && block-saved.CurrentBlock <= window {
		v.state = *saved
		v.log.Info("restored validator state", "saved_block", saved.CurrentBlock, "blocks_behind", block-saved.CurrentBlock)
	} else {
		if saved != nil {
			v.log.Info("checkpoint too old, starting fresh", "saved_block", saved.CurrentBlock, "block", block)
		}
		v.state = core.ValidatorState{CurrentBlock: block}
	}

	v.syncStateArrays(v.metagraph)
	v.state.CurrentBlock = block
}

// mainLoop waits for each target block, resyncs the metagraph and drives
// the weight cadence. Any single iteration failure is logged and the loop
// continues on the next target.
func (v *Validator) mainLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		target, reason := v.nextSyncBlock()
		v.log.Debug("waiting for next sync block", "target", target, "reason", reason)

		block, err := v.chain.WaitForBlock(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			v.log.Warn("block wait failed", "err", err)
			continue
		}

		advanced := block - v.state.CurrentBlock
		v.state.CurrentBlock = block
		v.state.TotalBlocksRun += advanced
		v.blocksSinceWeights += advanced

		if err := v.resyncMetagraph(ctx); err != nil {
			v.log.Warn("metagraph resync failed", "err", err)
			continue
		}

		v.maybeSetWeights(ctx)

		if err := v.store.Save(&v.state); err != nil {
			v.log.Warn("state checkpoint failed", "err", err)
		}
	}
	return nil
}

// nextSyncBlock picks the nearer of the next epoch boundary and the weight
// deadline, with the reason for logging.
func (v *Validator) nextSyncBlock() (uint64, string) {
	current := v.state.CurrentBlock
	epochNext := current + v.tempo - (current % v.tempo)

	interval := v.weightsInterval()
	var weightNext uint64
	if v.blocksSinceWeights >= interval {
		weightNext = current + 1
	} else {
		weightNext = current + (interval - v.blocksSinceWeights)
	}

	if weightNext < epochNext {
		return weightNext, "weights due"
	}
	return epochNext, "epoch boundary"
}

func (v *Validator) weightsInterval() uint64 {
	interval := v.tempo / 2
	if interval == 0 {
		interval = 1
	}
	return interval
}

// resyncMetagraph refreshes the neuron table, resets scores for replaced
// uids, grows the state arrays and hands the new node set to the handshake
// manager.
func (v *Validator) resyncMetagraph(ctx context.Context) error {
	mg, err := v.chain.Metagraph(ctx, v.cfg.Netuid)
	if err != nil {
		return err
	}

	for uid := range mg.Neurons {
		if uid >= len(v.state.Hotkeys) {
			break
		}
		old := v.state.Hotkeys[uid]
		if old != "" && old != mg.Neurons[uid].Hotkey {
			v.log.Info("uid hotkey replaced, resetting scores", "uid", uid, "old", old, "new", mg.Neurons[uid].Hotkey)
			v.state.Scores[uid] = 0
			v.state.MovingAvgScores[uid] = 0
			v.history.ResetHotkey(old)
		}
	}

	v.metagraph = mg
	v.syncStateArrays(mg)
	v.sessions.UpdateNodes(mg.Neurons)

	if uid := mg.UIDByHotkey(v.identity.Hotkey()); uid >= 0 {
		v.uid = uid
	}
	return nil
}

// syncStateArrays resizes every per-uid array to the metagraph length,
// zero-filling new slots, and refreshes the hotkey column.
func (v *Validator) syncStateArrays(mg *chain.Metagraph) {
	n := len(mg.Neurons)
	for len(v.state.Scores) < n {
		v.state.Scores = append(v.state.Scores, 0)
	}
	for len(v.state.MovingAvgScores) < n {
		v.state.MovingAvgScores = append(v.state.MovingAvgScores, 0)
	}
	for len(v.state.Hotkeys) < n {
		v.state.Hotkeys = append(v.state.Hotkeys, "")
	}
	for len(v.state.BlockAtRegistration) < n {
		v.state.BlockAtRegistration = append(v.state.BlockAtRegistration, 0)
	}
	for uid := 0; uid < n; uid++ {
		v.state.Hotkeys[uid] = mg.Neurons[uid].Hotkey
		v.state.BlockAtRegistration[uid] = mg.Neurons[uid].RegisteredAt
	}
}

// maybeSetWeights submits weights when both the chain and the local counter
// say the interval has passed. Only a successful submission rolls the
// scoring cycle over.
func (v *Validator) maybeSetWeights(ctx context.Context) {
	interval := v.weightsInterval()
	if v.blocksSinceWeights < interval {
		return
	}

	if v.cfg.CheckMaxBlocks && v.uid >= 0 {
		since, err := v.chain.BlocksSinceLastUpdate(ctx, v.cfg.Netuid, v.uid)
		if err != nil {
			v.log.Warn("failed to read blocks since last update", "err", err)
		} else if since < interval {
			return
		}
	}

	if err := v.engine.Submit(ctx, v.metagraph, v.ownerHotkey); err != nil {
		v.log.Warn("weight submission failed, keeping cycle open", "err", err)
		return
	}

	v.blocksSinceWeights = 0
	v.applyCycleScores()
	v.history.Rollover()
	v.stats.LogSummary(v.log)
}

// applyCycleScores folds the cycle's per-hotkey means into the per-uid
// score arrays kept in the checkpoint.
func (v *Validator) applyCycleScores() {
	snapshot := v.history.SnapshotCurrent()
	for uid := range v.metagraph.Neurons {
		if uid >= len(v.state.Scores) {
			break
		}
		hotkey := v.metagraph.Neurons[uid].Hotkey
		score, ok := snapshot[hotkey]
		if !ok {
			continue
		}
		v.state.Scores[uid] = score
		prev := v.state.MovingAvgScores[uid]
		if prev == 0 {
			v.state.MovingAvgScores[uid] = score
		} else {
			v.state.MovingAvgScores[uid] = core.HistoryAlpha*score + (1-core.HistoryAlpha)*prev
		}
	}
}

// WaitReady pings dependencies with retries before the loops start.
func WaitReady(ctx context.Context, ping func() error, name string) error {
	const maxRetries = 15
	for i := 0; i < maxRetries; i++ {
		if err := ping(); err == nil {
			return nil
		} else {
			log.Warn("dependency not ready", "name", name, "attempt", i+1, "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return fmt.Errorf("%s not ready after %d attempts", name, maxRetries)
}
