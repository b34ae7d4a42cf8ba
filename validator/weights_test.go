package validator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asiatensor/soulx-validator/cfgclient"
	"github.com/asiatensor/soulx-validator/chain"
	"github.com/asiatensor/soulx-validator/core"
	"github.com/asiatensor/soulx-validator/scoring"
)

type stubPolicy struct {
	policy cfgclient.ValidatorPolicy
}

func (s *stubPolicy) ValidatorPolicy(ctx context.Context) cfgclient.ValidatorPolicy {
	return s.policy
}

type stubChain struct {
	mg        *chain.Metagraph
	submitted bool
	uids      []int
	weights   []float64
	setErr    error
}

func (s *stubChain) CurrentBlock(ctx context.Context) (uint64, error) { return 1000, nil }
func (s *stubChain) Metagraph(ctx context.Context, netuid int) (*chain.Metagraph, error) {
	return s.mg, nil
}
func (s *stubChain) Tempo(ctx context.Context, netuid int) (uint64, error) { return 360, nil }
func (s *stubChain) BlocksSinceLastUpdate(ctx context.Context, netuid, uid int) (uint64, error) {
	return 500, nil
}
func (s *stubChain) SubnetOwner(ctx context.Context, netuid int) (string, error) {
	return "owner-hotkey", nil
}
func (s *stubChain) WaitForBlock(ctx context.Context, target uint64) (uint64, error) {
	return target, nil
}
func (s *stubChain) SetWeights(ctx context.Context, netuid int, uids []int, weights []float64, versionKey uint64, waitForInclusion bool) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.submitted = true
	s.uids = uids
	s.weights = weights
	return nil
}
func (s *stubChain) Close() {}

func minerNeuron(uid int, hotkey string, stake float64) chain.Neuron {
	return chain.Neuron{
		UID: uid, Hotkey: hotkey, IP: "10.0.0.1", Port: 8000,
		Stake: stake, Active: true,
	}
}

func testMetagraph() *chain.Metagraph {
	owner := chain.Neuron{UID: 3, Hotkey: "owner-hotkey", IP: "10.0.0.9", Port: 8000, Stake: 100, Active: true}
	val := chain.Neuron{UID: 4, Hotkey: "validator-self", IP: "10.0.0.2", Port: 8000, Stake: 5000, Active: true, ValidatorPermit: true}
	return &chain.Metagraph{
		Netuid: 19,
		Block:  1000,
		Neurons: []chain.Neuron{
			minerNeuron(0, "miner-a", 100),
			minerNeuron(1, "miner-b", 100),
			minerNeuron(2, "miner-c", 100),
			owner,
			val,
		},
	}
}

func historyWith(scores map[string]float64) *scoring.History {
	h := scoring.NewHistory()
	for hotkey, score := range scores {
		h.Append(hotkey, core.ScoringResult{QualityScore: score, Timestamp: time.Now(), Success: true, StatusCode: 200})
	}
	return h
}

func newEngine(ch chain.Client, policy cfgclient.ValidatorPolicy, h *scoring.History) *WeightEngine {
	cfg := &core.Config{Netuid: 19, VersionKey: 68200}
	return NewWeightEngine(ch, &stubPolicy{policy: policy}, h, cfg)
}

func permissivePolicy() cfgclient.ValidatorPolicy {
	return cfgclient.ValidatorPolicy{Whitelisted: true, PenaltyCoefficient: 1.0, OwnerDefaultScore: 0.2}
}

func TestSubmitNormalizesWeights(t *testing.T) {
	ch := &stubChain{}
	h := historyWith(map[string]float64{"miner-a": 0.9, "miner-b": 0.6})
	we := newEngine(ch, permissivePolicy(), h)

	require.NoError(t, we.Submit(context.Background(), testMetagraph(), "owner-hotkey"))
	require.True(t, ch.submitted)

	// miner-c has no current score and must be omitted
	assert.ElementsMatch(t, []int{0, 1}, ch.uids)

	sum := 0.0
	for _, w := range ch.weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestSubmitExcludesValidatorsAndZeroScores(t *testing.T) {
	ch := &stubChain{}
	// the validator neuron has a score entry but must never get weight
	h := historyWith(map[string]float64{"miner-a": 0.9, "validator-self": 0.9})
	we := newEngine(ch, permissivePolicy(), h)

	require.NoError(t, we.Submit(context.Background(), testMetagraph(), "owner-hotkey"))
	assert.Equal(t, []int{0}, ch.uids)
}

func TestSubmitBlacklistedAborts(t *testing.T) {
	ch := &stubChain{}
	policy := permissivePolicy()
	policy.Blacklisted = true
	we := newEngine(ch, policy, historyWith(map[string]float64{"miner-a": 0.9}))

	err := we.Submit(context.Background(), testMetagraph(), "owner-hotkey")
	assert.ErrorIs(t, err, ErrBlacklisted)
	assert.False(t, ch.submitted)
}

func TestSubmitPenaltyStillNormalizes(t *testing.T) {
	ch := &stubChain{}
	policy := permissivePolicy()
	policy.Whitelisted = false
	policy.PenaltyCoefficient = 0.5
	h := historyWith(map[string]float64{"miner-a": 0.9, "miner-b": 0.6})
	we := newEngine(ch, policy, h)

	require.NoError(t, we.Submit(context.Background(), testMetagraph(), "owner-hotkey"))
	sum := 0.0
	for _, w := range ch.weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestComputeWeightsSubstitutesOutOfRangeScores(t *testing.T) {
	h := historyWith(map[string]float64{"miner-a": 0.2})
	we := newEngine(&stubChain{}, permissivePolicy(), h)

	uids, weights := we.computeWeights(testMetagraph(), permissivePolicy(), h.SnapshotCurrent(), "owner-hotkey")
	require.Equal(t, []int{0}, uids)
	// a single included miner always normalizes to the full mass
	assert.InDelta(t, 1.0, weights[0], 1e-9)
}

func TestComputeWeightsOwnerFallback(t *testing.T) {
	// fraud-dominated history: current scores are negative, nothing included
	h := historyWith(map[string]float64{"miner-a": core.FraudSentinel})
	we := newEngine(&stubChain{}, permissivePolicy(), h)

	uids, weights := we.computeWeights(testMetagraph(), permissivePolicy(), h.SnapshotCurrent(), "owner-hotkey")
	require.Equal(t, []int{3}, uids)
	assert.InDelta(t, 0.2, weights[0], 1e-9)
}

func TestSubmitFailureKeepsCycle(t *testing.T) {
	ch := &stubChain{setErr: assert.AnError}
	h := historyWith(map[string]float64{"miner-a": 0.9})
	we := newEngine(ch, permissivePolicy(), h)

	err := we.Submit(context.Background(), testMetagraph(), "owner-hotkey")
	assert.Error(t, err)
	// history untouched: the caller only rolls over on success
	assert.InDelta(t, 0.9, h.CurrentScore("miner-a"), 1e-9)
}
