package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
)

// blockPollInterval paces WaitForBlock. Subtensor produces a block roughly
// every 12 seconds; polling at half that keeps wake latency low without
// hammering the node.
const blockPollInterval = 6 * time.Second

// RPCClient talks JSON-RPC to a subtensor node.
type RPCClient struct {
	rpc *rpc.Client
	log log.Logger
}

// Dial connects to the subtensor node at url.
func Dial(ctx context.Context, url string) (*RPCClient, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain node at %s: %w", url, err)
	}
	return &RPCClient{rpc: c, log: log.New("module", "chain")}, nil
}

// CurrentBlock returns the chain head number.
func (c *RPCClient) CurrentBlock(ctx context.Context) (uint64, error) {
	var block uint64
	if err := c.rpc.CallContext(ctx, &block, "subnet_getCurrentBlock"); err != nil {
		return 0, fmt.Errorf("failed to fetch current block: %w", err)
	}
	return block, nil
}

// Metagraph fetches the full neuron table for a subnet.
func (c *RPCClient) Metagraph(ctx context.Context, netuid int) (*Metagraph, error) {
	var neurons []Neuron
	if err := c.rpc.CallContext(ctx, &neurons, "subnet_getNeurons", netuid); err != nil {
		return nil, fmt.Errorf("failed to fetch neurons for netuid %d: %w", netuid, err)
	}
	block, err := c.CurrentBlock(ctx)
	if err != nil {
		return nil, err
	}
	return &Metagraph{Netuid: netuid, Block: block, Neurons: neurons}, nil
}

// Tempo returns the subnet's epoch length in blocks.
func (c *RPCClient) Tempo(ctx context.Context, netuid int) (uint64, error) {
	var tempo uint64
	if err := c.rpc.CallContext(ctx, &tempo, "subnet_getTempo", netuid); err != nil {
		return 0, fmt.Errorf("failed to fetch tempo: %w", err)
	}
	return tempo, nil
}

// BlocksSinceLastUpdate returns how many blocks have passed since uid last
// set weights.
func (c *RPCClient) BlocksSinceLastUpdate(ctx context.Context, netuid, uid int) (uint64, error) {
	var blocks uint64
	if err := c.rpc.CallContext(ctx, &blocks, "subnet_blocksSinceLastUpdate", netuid, uid); err != nil {
		return 0, fmt.Errorf("failed to fetch blocks since last update: %w", err)
	}
	return blocks, nil
}

// SubnetOwner returns the hotkey of the subnet owner.
func (c *RPCClient) SubnetOwner(ctx context.Context, netuid int) (string, error) {
	var owner string
	if err := c.rpc.CallContext(ctx, &owner, "subnet_getSubnetOwner", netuid); err != nil {
		return "", fmt.Errorf("failed to fetch subnet owner: %w", err)
	}
	return owner, nil
}

// WaitForBlock polls until the chain reaches target. Transient RPC errors
// are logged and retried on the next poll.
func (c *RPCClient) WaitForBlock(ctx context.Context, target uint64) (uint64, error) {
	ticker := time.NewTicker(blockPollInterval)
	defer ticker.Stop()

	for {
		block, err := c.CurrentBlock(ctx)
		if err != nil {
			c.log.Warn("block poll failed", "err", err)
		} else if block >= target {
			return block, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SetWeights submits the weight vector for this validator.
func (c *RPCClient) SetWeights(ctx context.Context, netuid int, uids []int, weights []float64, versionKey uint64, waitForInclusion bool) error {
	var ok bool
	err := c.rpc.CallContext(ctx, &ok, "subnet_setWeights", netuid, uids, weights, versionKey, waitForInclusion)
	if err != nil {
		return fmt.Errorf("failed to set weights: %w", err)
	}
	if !ok {
		return fmt.Errorf("set_weights rejected by chain")
	}
	c.log.Info("weights submitted", "netuid", netuid, "uids", len(uids), "version_key", versionKey)
	return nil
}

// Close releases the underlying RPC connection.
func (c *RPCClient) Close() {
	c.rpc.Close()
}
