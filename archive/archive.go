// Package archive mirrors reward records into Dgraph for offline audit
// queries (per-miner score trails, fraud incidents).
package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/dgo/v210"
	"github.com/dgraph-io/dgo/v210/protos/api"
	"github.com/ethereum/go-ethereum/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/asiatensor/soulx-validator/core"
)

const rewardSchema = `
	id: string @index(exact) .
	task: string @index(exact) .
	node_hotkey: string @index(exact) .
	validator_hotkey: string .
	node_id: int .
	quality_score: float .
	response_time: float .
	volume: float .
	metric: float .
	stream_metric: float .
	synthetic_query: bool .
	created_at: datetime @index(hour) .
	type Reward {
		id
		task
		node_hotkey
		validator_hotkey
		node_id
		quality_score
		response_time
		volume
		metric
		stream_metric
		synthetic_query
		created_at
	}
`

// Archive is the Dgraph-backed reward mirror.
type Archive struct {
	dg   *dgo.Dgraph
	conn *grpc.ClientConn
	log  log.Logger
}

// Connect dials Dgraph and installs the reward schema. Existing data is
// kept; the schema alter is idempotent.
func Connect(ctx context.Context, address string) (*Archive, error) {
	conn, err := grpc.Dial(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to dgraph at %s: %w", address, err)
	}

	dg := dgo.NewDgraphClient(api.NewDgraphClient(conn))
	if err := dg.Alter(ctx, &api.Operation{Schema: rewardSchema}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set dgraph schema: %w", err)
	}

	return &Archive{dg: dg, conn: conn, log: log.New("module", "archive")}, nil
}

type rewardNode struct {
	UID string `json:"uid"`
	Typ string `json:"dgraph.type"`
	core.RewardData
}

// StoreReward writes one reward record as a Reward node.
func (a *Archive) StoreReward(ctx context.Context, reward core.RewardData) error {
	node := rewardNode{UID: "_:reward", Typ: "Reward", RewardData: reward}
	payload, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to encode reward node: %w", err)
	}

	txn := a.dg.NewTxn()
	defer txn.Discard(ctx)
	if _, err := txn.Mutate(ctx, &api.Mutation{SetJson: payload, CommitNow: true}); err != nil {
		return fmt.Errorf("failed to store reward record: %w", err)
	}
	return nil
}

// Close releases the grpc connection.
func (a *Archive) Close() {
	a.conn.Close()
}
