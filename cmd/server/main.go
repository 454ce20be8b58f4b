package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/audit"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/commission"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/config"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/configstore"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/events"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/events/kafka"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/httpapi"
	interfaces "github.com/sheikh-saqib/referral-commission-ledger/internal/interfaces"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/ledger"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/logger"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/referral"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/retry"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/storage/postgres"
)

// Defaults written on first start into an empty parameter table.
var (
	defaultRecruitmentFee = decimal.NewFromInt(100)
	defaultPercentages    = []decimal.Decimal{
		decimal.NewFromInt(50),
		decimal.NewFromInt(20),
		decimal.NewFromInt(15),
		decimal.NewFromInt(10),
		decimal.NewFromInt(5),
	}
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:], ".env")
	if err != nil {
		return err
	}
	log := logger.New(cfg.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	var publisher interfaces.EventPublisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		p := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix, cfg.PublishTimeout)
		defer p.Close()
		publisher = p
		log.Info("publishing events to kafka", "brokers", cfg.KafkaBrokers, "topic_prefix", cfg.KafkaTopicPrefix)
	}

	clock := clockwork.NewRealClock()
	params := configstore.New(store, clock)
	if err := params.Seed(ctx, defaultRecruitmentFee, defaultPercentages); err != nil {
		return fmt.Errorf("seed parameters: %w", err)
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.RetryMaxAttempts

	graph := referral.NewGraph(store, clock, log)
	l := ledger.NewLedger(store,
		ledger.WithClock(clock),
		ledger.WithLogger(log),
		ledger.WithPublisher(publisher),
		ledger.WithPublishTimeout(cfg.PublishTimeout),
	)
	engine := commission.NewEngine(store, params, graph, l,
		commission.WithClock(clock),
		commission.WithLogger(log),
		commission.WithPublisher(publisher),
		commission.WithPublishTimeout(cfg.PublishTimeout),
		commission.WithRetry(retryCfg),
	)

	srv := httpapi.NewServer(cfg.ListenAddr, httpapi.Services{
		Engine:    engine,
		Lifecycle: commission.NewLifecycle(engine),
		Ledger:    l,
		Graph:     graph,
		Params:    params,
		Audit:     audit.NewLog(store),
	}, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (interfaces.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.RunMigrations {
			if err := postgres.Migrate(db); err != nil {
				_ = db.Close()
				return nil, err
			}
			log.Info("postgres migrations applied")
		}
		return postgres.NewPostgresStore(db, log, cfg.LockTimeout), nil
	default:
		log.Warn("using in-memory store, data is lost on exit")
		return memory.NewMemoryStore(memory.WithLockTimeout(cfg.LockTimeout)), nil
	}
}
