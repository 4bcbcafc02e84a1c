package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/tickex/params"
	"github.com/uhyunpark/tickex/pkg/api"
	"github.com/uhyunpark/tickex/pkg/app/backtest"
	"github.com/uhyunpark/tickex/pkg/app/core/market"
	"github.com/uhyunpark/tickex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tickex/pkg/app/exchange"
	"github.com/uhyunpark/tickex/pkg/publish"
	"github.com/uhyunpark/tickex/pkg/storage"
	"github.com/uhyunpark/tickex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Server.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Server.LogFile, cfg.Server.LogLevel)
	} else {
		logger, err = util.NewLogger(cfg.Server.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Server.LogFile, "level", cfg.Server.LogLevel)

	sessionCfg, err := sessionDefaults(cfg.Sim)
	if err != nil {
		sugar.Fatalw("invalid_sim_config", "err", err)
	}

	// ---- Storage (optional) ----
	var store *storage.PebbleStore
	if cfg.Storage.Enabled {
		store, err = storage.NewPebbleStore(cfg.Storage.PebbleDir())
		if err != nil {
			sugar.Fatalw("store_open_failed", "dir", cfg.Storage.PebbleDir(), "err", err)
		}
		defer store.Close()
		sugar.Infow("store_opened", "dir", cfg.Storage.PebbleDir())
	}

	var journal storage.Journal = storage.NewNopJournal()
	if cfg.Storage.JournalFile != "" {
		fj, err := storage.NewFileJournal(cfg.Storage.JournalFile)
		if err != nil {
			sugar.Fatalw("journal_open_failed", "path", cfg.Storage.JournalFile, "err", err)
		}
		journal = fj
		sugar.Infow("journal_enabled", "path", cfg.Storage.JournalFile)
	}
	defer journal.Close()

	// ---- Publishers: WebSocket hub, plus Kafka and Redis when configured ----
	hub := api.NewHub(sugar)
	publishers := publish.Multi{hub}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := publish.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		publishers = append(publishers, kp)
		sugar.Infow("kafka_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	if cfg.Redis.Addr != "" {
		rp, err := publish.NewRedisPublisher(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			sugar.Fatalw("redis_connect_failed", "addr", cfg.Redis.Addr, "err", err)
		}
		publishers = append(publishers, rp)
		sugar.Infow("redis_enabled", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.Prefix)
	}
	defer publishers.Close()

	mgr := backtest.NewManager(backtest.ManagerConfig{
		Synthetic: syntheticDefaults(cfg.Sim),
		Session:   sessionCfg,
	}, store, backtest.Deps{
		Publisher: publishers,
		Journal:   journal,
		Logger:    sugar,
	})

	server := api.NewServer(mgr, hub, cfg.Server.CORSOrigins, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("server_starting",
		"addr", cfg.Server.Addr,
		"exchange_kind", sessionCfg.Kind,
		"numeric_mode", sessionCfg.Mode.String(),
		"market_policy", sessionCfg.Policy.String(),
		"store_enabled", store != nil,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		return server.Serve(gctx, cfg.Server.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		// archive every live backtest before the store closes
		err := mgr.CloseAll()
		hub.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		sugar.Errorw("shutdown_with_error", "err", err)
		return
	}
	sugar.Info("shutdown_complete")
}

func syntheticDefaults(sim params.Sim) market.SyntheticConfig {
	sc := market.DefaultSyntheticConfig()
	sc.Symbols = sim.Symbols
	sc.Ticks = sim.Ticks
	sc.Seed = sim.Seed
	sc.Start = sim.Start
	sc.Frequency = sim.Frequency
	return sc
}

func sessionDefaults(sim params.Sim) (backtest.Config, error) {
	kind, err := exchange.ParseKind(sim.Kind)
	if err != nil {
		return backtest.Config{}, err
	}
	mode, err := orderbook.ParseNumericMode(sim.NumericMode)
	if err != nil {
		return backtest.Config{}, err
	}
	policy, err := orderbook.ParseMarketPolicy(sim.MarketPolicy)
	if err != nil {
		return backtest.Config{}, err
	}
	return backtest.Config{Kind: kind, Mode: mode, Policy: policy, PlayInterval: sim.PlayInterval}, nil
}
