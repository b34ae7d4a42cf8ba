package validator

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asiatensor/soulx-validator/chain"
	"github.com/asiatensor/soulx-validator/core"
	"github.com/asiatensor/soulx-validator/handshake"
	"github.com/asiatensor/soulx-validator/scoring"
)

func newTestValidator(t *testing.T, mg *chain.Metagraph) (*Validator, *stubChain) {
	t.Helper()
	identity, err := core.NewIdentity("", "validator-self")
	require.NoError(t, err)

	ch := &stubChain{mg: mg}
	v := &Validator{
		cfg:       &core.Config{Netuid: 19},
		identity:  identity,
		chain:     ch,
		sessions:  handshake.NewManager(identity, false),
		history:   scoring.NewHistory(),
		log:       log.New("module", "validator"),
		metagraph: mg,
		tempo:     360,
		uid:       4,
	}
	v.syncStateArrays(mg)
	return v, ch
}

func TestResyncResetsReplacedHotkey(t *testing.T) {
	v, ch := newTestValidator(t, testMetagraph())
	v.state.Scores[1] = 0.7
	v.state.MovingAvgScores[1] = 0.6
	v.history.Append("miner-b", core.ScoringResult{QualityScore: 0.9, Timestamp: time.Now(), Success: true, StatusCode: 200})

	next := testMetagraph()
	next.Neurons[1].Hotkey = "miner-b-replacement"
	ch.mg = next

	require.NoError(t, v.resyncMetagraph(context.Background()))

	assert.Zero(t, v.state.Scores[1])
	assert.Zero(t, v.state.MovingAvgScores[1])
	assert.Equal(t, "miner-b-replacement", v.state.Hotkeys[1])
	assert.NotContains(t, v.history.SnapshotCurrent(), "miner-b")
}

func TestResyncKeepsUnchangedScores(t *testing.T) {
	v, ch := newTestValidator(t, testMetagraph())
	v.state.Scores[0] = 0.5
	v.state.MovingAvgScores[0] = 0.4
	ch.mg = testMetagraph()

	require.NoError(t, v.resyncMetagraph(context.Background()))

	assert.InDelta(t, 0.5, v.state.Scores[0], 1e-9)
	assert.InDelta(t, 0.4, v.state.MovingAvgScores[0], 1e-9)
}

func TestResyncGrowsArraysForNewNeurons(t *testing.T) {
	v, ch := newTestValidator(t, testMetagraph())
	next := testMetagraph()
	next.Neurons = append(next.Neurons, minerNeuron(5, "miner-new", 50))
	ch.mg = next

	require.NoError(t, v.resyncMetagraph(context.Background()))

	require.Len(t, v.state.Scores, 6)
	require.Len(t, v.state.Hotkeys, 6)
	assert.Equal(t, "miner-new", v.state.Hotkeys[5])
	assert.Zero(t, v.state.Scores[5])
}

func TestNextSyncBlockPrefersWeightDeadline(t *testing.T) {
	v, _ := newTestValidator(t, testMetagraph())
	v.state.CurrentBlock = 1000

	// Nothing submitted yet: weights come due before the epoch boundary.
	v.blocksSinceWeights = 150
	target, reason := v.nextSyncBlock()
	assert.Equal(t, uint64(1030), target)
	assert.Equal(t, "weights due", reason)

	// Just submitted: the epoch boundary at 1080 is nearer than 1000+180.
	v.blocksSinceWeights = 0
	target, reason = v.nextSyncBlock()
	assert.Equal(t, uint64(1080), target)
	assert.Equal(t, "epoch boundary", reason)

	// Overdue weights trigger on the very next block.
	v.blocksSinceWeights = 500
	target, reason = v.nextSyncBlock()
	assert.Equal(t, uint64(1001), target)
	assert.Equal(t, "weights due", reason)
}

// permitChain serves a fixed sequence of metagraphs and records every block
// wait, sticking on the last metagraph once the sequence runs out.
type permitChain struct {
	*stubChain
	mgs   []*chain.Metagraph
	waits []uint64
}

func (p *permitChain) Metagraph(ctx context.Context, netuid int) (*chain.Metagraph, error) {
	mg := p.mgs[0]
	if len(p.mgs) > 1 {
		p.mgs = p.mgs[1:]
	}
	return mg, nil
}

func (p *permitChain) WaitForBlock(ctx context.Context, target uint64) (uint64, error) {
	p.waits = append(p.waits, target)
	return target, nil
}

func TestEnsureValidatorPermitWaitsUntilGranted(t *testing.T) {
	unpermitted := testMetagraph()
	unpermitted.Neurons[4].ValidatorPermit = false
	granted := testMetagraph()

	v, _ := newTestValidator(t, unpermitted)
	pc := &permitChain{stubChain: &stubChain{}, mgs: []*chain.Metagraph{unpermitted, granted}}
	v.chain = pc

	require.NoError(t, v.ensureValidatorPermit(context.Background()))
	assert.Equal(t, 4, v.uid)
	// one tempo wait from the unpermitted metagraph's block
	assert.Equal(t, []uint64{1360}, pc.waits)
	assert.True(t, v.metagraph.Neurons[4].ValidatorPermit)
}

func TestEnsureValidatorPermitWaitsOnLowStake(t *testing.T) {
	poor := testMetagraph()
	poor.Neurons[4].Stake = 10
	funded := testMetagraph()

	v, _ := newTestValidator(t, poor)
	v.cfg.MinValidatorStakeDTAO = 1000
	pc := &permitChain{stubChain: &stubChain{}, mgs: []*chain.Metagraph{poor, funded}}
	v.chain = pc

	require.NoError(t, v.ensureValidatorPermit(context.Background()))
	assert.Equal(t, []uint64{1360}, pc.waits)
}

func TestEnsureValidatorPermitUnregisteredHotkey(t *testing.T) {
	mg := testMetagraph()
	mg.Neurons = mg.Neurons[:4]
	v, _ := newTestValidator(t, mg)

	err := v.ensureValidatorPermit(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestApplyCycleScores(t *testing.T) {
	v, _ := newTestValidator(t, testMetagraph())
	v.state.MovingAvgScores[0] = 0.4
	v.history.Append("miner-a", core.ScoringResult{QualityScore: 0.8, Timestamp: time.Now(), Success: true, StatusCode: 200})

	v.applyCycleScores()

	assert.InDelta(t, 0.8, v.state.Scores[0], 1e-9)
	assert.InDelta(t, core.HistoryAlpha*0.8+(1-core.HistoryAlpha)*0.4, v.state.MovingAvgScores[0], 1e-9)
	// Miners with no cycle traffic keep their previous entries.
	assert.Zero(t, v.state.Scores[1])
}
