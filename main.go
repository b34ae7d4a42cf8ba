// Validator entry point for the Soulx inference subnet.
//
// Wires the dispatch pipeline together: the Redis task queue, the handshake
// manager holding per-miner session keys, the dispatcher that queries and
// scores miners, and the weight engine that converts accumulated quality
// into the on-chain weight vector.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/exp/slog"

	"github.com/asiatensor/soulx-validator/archive"
	"github.com/asiatensor/soulx-validator/cfgclient"
	"github.com/asiatensor/soulx-validator/chain"
	"github.com/asiatensor/soulx-validator/core"
	"github.com/asiatensor/soulx-validator/dispatch"
	"github.com/asiatensor/soulx-validator/handshake"
	"github.com/asiatensor/soulx-validator/queue"
	"github.com/asiatensor/soulx-validator/scoring"
	"github.com/asiatensor/soulx-validator/storage"
	"github.com/asiatensor/soulx-validator/validator"
)

func logLevel(name string) slog.Level {
	switch name {
	case "trace":
		return log.LevelTrace
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}

func main() {
	cfg, err := core.LoadConfig()
	if err != nil {
		log.Crit("configuration error", "err", err)
	}

	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, logLevel(cfg.LogLevel), true)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	identity, err := core.NewIdentity(cfg.WalletSecretSeed, cfg.ValidatorHotkey)
	if err != nil {
		log.Crit("wallet error", "err", err)
	}
	log.Info("validator identity loaded", "hotkey", identity.Hotkey(), "netuid", cfg.Netuid)

	rdb, err := queue.Connect(cfg.RedisAddr(), cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Crit("redis unreachable", "err", err)
	}
	defer rdb.Close()

	chainClient, err := chain.Dial(ctx, cfg.SubtensorAddress)
	if err != nil {
		log.Crit("chain unreachable", "addr", cfg.SubtensorAddress, "err", err)
	}
	defer chainClient.Close()

	cc, err := cfgclient.New(cfg.ConfigServerURL, cfg.ValidatorToken, identity.Hotkey())
	if err != nil {
		log.Crit("config client error", "err", err)
	}

	if initCfg, err := cc.ValidatorInit(ctx); err != nil {
		log.Warn("validator init bundle unavailable", "err", err)
	} else {
		log.Info("validator init bundle loaded", "keys", len(initCfg))
	}

	var rewardArchive *archive.Archive
	if cfg.DgraphAddr != "" {
		if err := validator.WaitReady(ctx, func() error {
			a, aerr := archive.Connect(ctx, cfg.DgraphAddr)
			if aerr != nil {
				return aerr
			}
			rewardArchive = a
			return nil
		}, "dgraph"); err != nil {
			log.Warn("reward archive unavailable, continuing without it", "err", err)
		} else {
			defer rewardArchive.Close()
		}
	}

	history := scoring.NewHistory()
	stats := &dispatch.RewardStats{}
	sessions := handshake.NewManager(identity, cfg.ReplaceWithLocalhost)
	leases := dispatch.NewLeaseManager(cc, rdb)
	q := queue.NewTaskQueue(rdb)
	store := storage.NewStateStore(rdb, cfg.ValidatorID())

	var sink dispatch.RewardSink
	if rewardArchive != nil {
		sink = rewardArchive
	}
	dispatcher := dispatch.NewDispatcher(cc, leases, sessions, dispatch.NewQuerier(identity.Hotkey()), history, sink, stats, cfg, identity.Hotkey())
	processor := queue.NewProcessor(q, cc, dispatcher.Dispatch, cfg.MaxConcurrentTasks)
	engine := validator.NewWeightEngine(chainClient, cc, history, cfg)

	v := validator.New(cfg, identity, chainClient, sessions, processor, engine, history, store, stats)
	if err := v.Run(ctx); err != nil {
		log.Crit("validator exited with error", "err", err)
	}
	log.Info("validator shut down cleanly")
}
