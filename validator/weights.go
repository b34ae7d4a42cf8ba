// Package validator hosts the main control loop and the weight engine that
// turns scoring history into the on-chain weight vector.
package validator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/ethereum/go-ethereum/log"

	"github.com/asiatensor/soulx-validator/cfgclient"
	"github.com/asiatensor/soulx-validator/chain"
	"github.com/asiatensor/soulx-validator/core"
	"github.com/asiatensor/soulx-validator/scoring"
)

// ErrBlacklisted aborts weight submission when the config service has
// blacklisted this validator's hotkey.
var ErrBlacklisted = errors.New("validator hotkey is blacklisted")

// policySource resolves whitelist standing; satisfied by the config client.
type policySource interface {
	ValidatorPolicy(ctx context.Context) cfgclient.ValidatorPolicy
}

// WeightEngine computes and submits the per-UID weight vector.
type WeightEngine struct {
	chain   chain.Client
	policy  policySource
	history *scoring.History
	cfg     *core.Config
	log     log.Logger
}

// NewWeightEngine wires the engine.
func NewWeightEngine(chainClient chain.Client, policy policySource, history *scoring.History, cfg *core.Config) *WeightEngine {
	return &WeightEngine{
		chain:   chainClient,
		policy:  policy,
		history: history,
		cfg:     cfg,
		log:     log.New("module", "weights"),
	}
}

// Submit computes the vector from the current metagraph and scoring history
// and pushes it on-chain, waiting for inclusion. The caller rolls the
// scoring cycle over only when Submit returns nil.
func (we *WeightEngine) Submit(ctx context.Context, mg *chain.Metagraph, ownerHotkey string) error {
	policy := we.policy.ValidatorPolicy(ctx)
	if policy.Blacklisted {
		return ErrBlacklisted
	}

	current := we.history.SnapshotCurrent()
	uids, weights := we.computeWeights(mg, policy, current, ownerHotkey)
	if len(uids) == 0 {
		return fmt.Errorf("no weights to submit")
	}

	err := we.chain.SetWeights(ctx, we.cfg.Netuid, uids, weights, we.cfg.VersionKey, true)
	if err != nil {
		return fmt.Errorf("weight submission failed: %w", err)
	}
	we.log.Info("weights set", "uids", len(uids), "netuid", we.cfg.Netuid)
	return nil
}

// computeWeights runs the scoring blend, policy pass and normalization.
func (we *WeightEngine) computeWeights(mg *chain.Metagraph, policy cfgclient.ValidatorPolicy, current map[string]float64, ownerHotkey string) ([]int, []float64) {
	miners := make([]*chain.Neuron, 0, len(mg.Neurons))
	totalStake := 0.0
	for i := range mg.Neurons {
		n := &mg.Neurons[i]
		if !n.HasAxon() || n.IsValidator() {
			continue
		}
		if we.cfg.CheckNodeActive && !n.Active {
			continue
		}
		miners = append(miners, n)
		totalStake += n.Stake
	}

	var uids []int
	var weights []float64
	for _, n := range miners {
		cur, hasCur := current[n.Hotkey]
		if !hasCur || cur <= 0 {
			continue
		}

		stakeWeight := 0.0
		if totalStake > 0 {
			stakeWeight = n.Stake / totalStake * core.StakeWeightShare
		}
		hist := we.history.HistoricalScore(n.Hotkey)
		if hist == 0 {
			hist = core.DefaultHistoricalScore
		}

		final := stakeWeight + cur*core.CurrentScoreShare + hist*core.HistoricalScoreShare
		if final < core.FinalMinScore || final > 1.0 {
			final = math.Round((core.FinalMinScore+rand.Float64()*(1.0-core.FinalMinScore))*100) / 100
		}

		uids = append(uids, n.UID)
		weights = append(weights, final)
	}

	if !policy.Whitelisted {
		for i := range weights {
			weights[i] *= policy.PenaltyCoefficient
		}
	}

	sum := 0.0
	for i := range weights {
		if weights[i] < core.MinWeightThreshold {
			weights[i] = 0
		}
		sum += weights[i]
	}

	if sum <= 0 {
		ownerUID := mg.UIDByHotkey(ownerHotkey)
		if ownerUID < 0 {
			return nil, nil
		}
		we.log.Warn("weight mass collapsed, falling back to subnet owner", "owner_uid", ownerUID)
		return []int{ownerUID}, []float64{policy.OwnerDefaultScore}
	}

	for i := range weights {
		weights[i] /= sum
	}
	return uids, weights
}
