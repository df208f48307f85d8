package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/futureshock/meeray-core/pkg/aggregator"
	"github.com/futureshock/meeray-core/pkg/amm"
	"github.com/futureshock/meeray-core/pkg/bridge"
	"github.com/futureshock/meeray-core/pkg/chainclient"
	"github.com/futureshock/meeray-core/pkg/config"
	"github.com/futureshock/meeray-core/pkg/events"
	"github.com/futureshock/meeray-core/pkg/executor"
	"github.com/futureshock/meeray-core/pkg/farm"
	"github.com/futureshock/meeray-core/pkg/ledger"
	"github.com/futureshock/meeray-core/pkg/matching"
	"github.com/futureshock/meeray-core/pkg/nft"
	"github.com/futureshock/meeray-core/pkg/router"
	"github.com/futureshock/meeray-core/pkg/store"
	"github.com/futureshock/meeray-core/pkg/util"
	"github.com/futureshock/meeray-core/pkg/vesting"
)

// main wires the transaction execution core (store -> ledger -> matching /
// amm / aggregator / router / farm / vesting / nft -> executor) plus the
// out-of-band bridge worker. Block assembly, consensus, P2P gossip, and
// signature verification are the block-mining layer's job, not this core's;
// this binary only proves the core boots and stays live against a real
// pebble-backed store.
func main() {
	cfg := config.LoadFromEnv("")

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/node.log"
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "data/node.db"
	}
	db, err := store.NewPebbleStore(dbPath)
	if err != nil {
		sugar.Fatalw("store_open_failed", "err", err, "path", dbPath)
	}
	defer db.Close()
	sugar.Infow("store_opened", "path", dbPath)

	sink := events.NewZapSink(logger)

	led := ledger.New(db)
	matchEng := matching.New(db, led, sink)
	if err := matchEng.Warmup(); err != nil {
		sugar.Fatalw("matching_warmup_failed", "err", err)
	}
	ammEng := amm.New(db, led, sink)
	aggEng := aggregator.New(db, ammEng, matchEng)
	rtr := router.New(db, led, ammEng, aggEng, matchEng)
	farmEng := farm.New(db, led, ammEng, sink)
	vestEng := vesting.New(db, led, sink)
	nftEng := nft.New(db, led, sink, cfg.NativeTokenSymbol, cfg.NftCollectionCreationFee)

	ex := executor.New(db, led, matchEng, ammEng, aggEng, rtr, farmEng, vestEng, nftEng, sink)
	_ = ex // the block-mining layer drives Validate/Process against this instance

	sugar.Infow("core_ready",
		"native_token", cfg.NativeTokenSymbol,
		"chain_id", cfg.ChainID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var chain chainclient.Client = chainclient.NewStubClient()
	if cfg.Bridge.SteemBridgeEnabled {
		sugar.Infow("bridge_steem_account", "account", cfg.Bridge.SteemBridgeAccount)
		// A live Steem broadcaster is configured via STEEM_BRIDGE_ACCOUNT /
		// STEEM_BRIDGE_ACTIVE_KEY but its concrete client lives outside this
		// core's scope (spec.md §1); the stub stands in until one is wired.
	}
	worker := bridge.New(db, chain, sink)
	worker.SetTiming(cfg.Bridge.IdleDelay, cfg.Bridge.BusyDelay, cfg.Bridge.StaleAfter)
	go worker.Run(ctx)
	sugar.Infow("bridge_worker_started",
		"idle_delay_ms", cfg.Bridge.IdleDelay.Milliseconds(),
		"busy_delay_ms", cfg.Bridge.BusyDelay.Milliseconds())

	ticker := time.NewTicker(cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			sugar.Info("node_shutting_down")
			return
		case <-ticker.C:
			sugar.Debugw("heartbeat")
		}
	}
}
