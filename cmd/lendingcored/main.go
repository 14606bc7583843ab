// Command lendingcored wires Store, OracleGateway, and Coordinator together
// from a YAML config file and keeps the process alive until a shutdown
// signal arrives. Mirrors the teacher's services/lendingd/main.go shape
// (flag-parsed config path, signal.NotifyContext, graceful shutdown) with
// the RPC/HTTP surface removed (an explicit Non-goal collaborator): the
// engine this binary wires up is driven in-process by whatever caller links
// against it, not by a network listener owned here.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/nitroxgas/utxolend/config"
	"github.com/nitroxgas/utxolend/coordinator"
	"github.com/nitroxgas/utxolend/core/types"
	"github.com/nitroxgas/utxolend/internal/obslog"
	"github.com/nitroxgas/utxolend/oracle"
	"github.com/nitroxgas/utxolend/storekv"
)

// wallClock sources Clock.Now from the real wall clock, the only Clock
// implementation this binary needs; tests use their own manualClock.
type wallClock struct{}

func (wallClock) Now() uint64 { return uint64(time.Now().Unix()) }

// unwiredProvider is a placeholder types.PriceOracle: the price-oracle
// network transport is an explicit Non-goal collaborator (spec.md §1), so
// this binary starts with every oracle-dependent intent failing fast until
// an operator links in a real provider and replaces this value.
type unwiredProvider struct{}

func (unwiredProvider) Fetch(ctx context.Context, asset types.AssetID) (types.ProviderQuote, error) {
	return types.ProviderQuote{}, types.E(types.KindOracleUnavailable, "unwiredProvider.Fetch", nil)
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to lendingcored config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := obslog.Setup(cfg.Log.Component, cfg.Log.Env)

	store, closeStore, err := openStore(cfg.Store)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer closeStore()

	publishers, err := cfg.Oracle.PublisherSet()
	if err != nil {
		log.Fatalf("oracle publishers: %v", err)
	}
	gateway := oracle.New(unwiredProvider{}, oracle.Config{
		Publishers:   publishers,
		MaxStaleness: cfg.Oracle.MaxStaleness(),
	})

	coord := coordinator.New(coordinator.Config{
		Store:         store,
		Clock:         wallClock{},
		Oracle:        gateway,
		Logger:        logger,
		InFlightLimit: cfg.Coordinator.InFlightLimit,
	})

	now := wallClock{}.Now()
	for _, rc := range cfg.Reserves {
		reserve, err := rc.ToReserve(now)
		if err != nil {
			log.Fatalf("reserve %s: %v", rc.AssetID, err)
		}
		if err := coord.PutReserve(context.Background(), reserve); err != nil {
			log.Fatalf("install reserve %s: %v", rc.AssetID, err)
		}
		logger.Info("reserve installed", slog.String("asset_id", reserve.AssetID.String()))
	}

	logger.Info("lendingcored ready", slog.Int("reserves", len(cfg.Reserves)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutdown signal received")
}

func openStore(cfg config.StoreConfig) (types.Store, func(), error) {
	switch cfg.Driver {
	case "bolt":
		s, err := storekv.OpenBoltStore(cfg.Path, nil)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return storekv.NewMemStore(), func() {}, nil
	}
}
