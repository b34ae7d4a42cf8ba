// Package chain provides the read/write view of the subnet chain: the
// metagraph, block progression, and weight submission.
package chain

import "context"

// Neuron is one position on the subnet metagraph.
type Neuron struct {
	UID             int     `json:"uid"`
	Hotkey          string  `json:"hotkey"`
	Coldkey         string  `json:"coldkey"`
	IP              string  `json:"ip"`
	Port            int     `json:"port"`
	Stake           float64 `json:"stake"`
	Trust           float64 `json:"trust"`
	ValidatorTrust  float64 `json:"validator_trust"`
	Active          bool    `json:"active"`
	ValidatorPermit bool    `json:"validator_permit"`
	LastUpdate      uint64  `json:"last_update"`
	RegisteredAt    uint64  `json:"registered_at"`
}

// IsValidator reports whether the neuron participates as a validator.
func (n *Neuron) IsValidator() bool {
	return n.ValidatorPermit || n.ValidatorTrust > 0
}

// HasAxon reports whether the neuron published a reachable endpoint.
func (n *Neuron) HasAxon() bool {
	return n.IP != "" && n.IP != "0.0.0.0" && n.Port > 0
}

// Metagraph is the full subnet table at one block.
type Metagraph struct {
	Netuid  int
	Block   uint64
	Neurons []Neuron
}

// UIDByHotkey returns the uid currently holding hotkey, or -1.
func (m *Metagraph) UIDByHotkey(hotkey string) int {
	for i := range m.Neurons {
		if m.Neurons[i].Hotkey == hotkey {
			return m.Neurons[i].UID
		}
	}
	return -1
}

// Client is the chain surface the validator consumes. WaitForBlock blocks
// until the chain reaches at least the target block or ctx is cancelled.
type Client interface {
	CurrentBlock(ctx context.Context) (uint64, error)
	Metagraph(ctx context.Context, netuid int) (*Metagraph, error)
	Tempo(ctx context.Context, netuid int) (uint64, error)
	BlocksSinceLastUpdate(ctx context.Context, netuid, uid int) (uint64, error)
	SubnetOwner(ctx context.Context, netuid int) (string, error)
	WaitForBlock(ctx context.Context, target uint64) (uint64, error)
	SetWeights(ctx context.Context, netuid int, uids []int, weights []float64, versionKey uint64, waitForInclusion bool) error
	Close()
}
