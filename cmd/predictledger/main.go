package main

import (
	"PredictLedger/internal/config"
	"PredictLedger/internal/core"
	"PredictLedger/internal/ingestion"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/oracle"
	"PredictLedger/internal/persistence"
	"PredictLedger/internal/query"
	"PredictLedger/internal/scheduler"
	"PredictLedger/internal/server"
	"PredictLedger/internal/state"
	"PredictLedger/internal/store"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// bootstrapCommandID is fixed so a restart never instantiates twice.
var bootstrapCommandID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("predictledger:bootstrap:instantiate"))

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (default: $PRED_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLoggerWithLevel("predictledger", cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger.Info().Str("store", cfg.Store.Backend).Str("oracle", cfg.Oracle.Backend).Msg("PredictLedger starting")

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	errChan := make(chan error, 16)
	var workers sync.WaitGroup

	// --- Store ---
	var (
		db         *sql.DB
		ledgerData store.Store
		receiptLog *persistence.ReceiptLog
	)
	switch cfg.Store.Backend {
	case "postgres":
		db, err = openPostgres(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres")
		}
		defer db.Close()
		logger.Info().Msg("Postgres connected")

		migrator := persistence.NewMigrator(db, cfg.Store.MigrationsDir, logger)
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}

		ledgerData = persistence.NewLedgerStore(db)
		receiptLog = persistence.NewReceiptLog(db)
	default:
		logger.Warn().Msg("memory store: ledger state and receipts are lost on exit")
		ledgerData = store.NewMemory()
	}

	// --- Oracle ---
	var priceOracle oracle.PriceOracle
	switch cfg.Oracle.Backend {
	case "hermes":
		stream, err := oracle.NewHermesStream(cfg.Oracle.HermesURL, []string{cfg.Bootstrap.PriceFeedID}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("hermes stream")
		}
		go func() {
			if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("hermes stream: %w", err)
			}
		}()
		priceOracle = stream
	default:
		priceOracle = oracle.NewStatic(cfg.Oracle.StaticPrice)
	}

	// --- Engine and executor ---
	engine := core.NewEngine(ledgerData, priceOracle, logger, metrics)
	// without a relay the outbox would grow forever
	engine.SetOutbox(cfg.NATS.Enabled)

	var dbChecker core.DBIdempotencyChecker
	if receiptLog != nil {
		dbChecker = receiptLog
	}
	idempotency := core.NewIdempotencyChecker(cfg.Executor.LRUCapacity, dbChecker, metrics)

	var receiptChan chan *core.Receipt
	if db != nil {
		receiptChan = make(chan *core.Receipt, cfg.Executor.ReceiptChanSize)
	}
	var outboxWake chan struct{}
	if cfg.NATS.Enabled {
		outboxWake = make(chan struct{}, 1)
	}

	executor := core.NewExecutor(engine, core.ExecutorOptions{
		Idempotency: idempotency,
		Receipts:    receiptChan,
		Wake:        outboxWake,
		QueueSize:   cfg.Executor.QueueSize,
		Logger:      logger.With().Str("component", "executor").Logger(),
		Metrics:     metrics,
	})

	// --- Recovery: continue the receipt chain and warm the LRU ---
	if receiptLog != nil {
		last, err := receiptLog.LastReceipt(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("load last receipt")
		}
		executor.Restore(last)

		ids, err := receiptLog.RecentCommandIDs(ctx, cfg.Executor.LRUCapacity)
		if err != nil {
			logger.Warn().Err(err).Msg("warm idempotency LRU")
		} else {
			idempotency.Warm(ids)
		}
		if last != nil {
			logger.Info().Int64("last_sequence", last.Sequence).Int("warmed_ids", len(ids)).Msg("receipt log restored")
		}
	}

	// 1. Receipt worker
	if receiptChan != nil {
		worker := persistence.NewReceiptWorker(db, receiptChan, cfg.Persist.BatchSize, cfg.Persist.FlushTimeout, logger, metrics)
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("receipt worker: %w", err)
			}
		}()
	}

	// 2. Executor
	go func() {
		if err := executor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("executor: %w", err)
		}
	}()

	queryService := query.NewService(ledgerData, db)
	if cfg.Bootstrap.Enabled {
		if err := bootstrap(ctx, queryService, executor, cfg.Bootstrap, logger); err != nil {
			logger.Fatal().Err(err).Msg("bootstrap")
		}
	}

	// 3. NATS intake and outbound publisher
	var (
		nc         *nats.Conn
		subscriber *ingestion.CommandSubscriber
	)
	if cfg.NATS.Enabled {
		var js jetstream.JetStream
		nc, js, err = ingestion.ConnectNATS(cfg.NATS.URL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()

		if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
			logger.Fatal().Err(err).Msg("ensure NATS streams")
		}

		subscriber = ingestion.NewCommandSubscriber(js, executor, logger)
		if err := subscriber.Subscribe(ctx); err != nil {
			logger.Fatal().Err(err).Msg("nats subscribe")
		}

		publisher := ingestion.NewOutboundPublisher(js, ledgerData, outboxWake, cfg.NATS.OutboxPoll, cfg.NATS.OutboxBatch, logger, metrics)
		go func() {
			if err := publisher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("outbound publisher: %w", err)
			}
		}()
	}

	// 4. Tick scheduler
	var ticker *scheduler.TickScheduler
	if cfg.Scheduler.Enabled {
		var lock *scheduler.LeaderLock
		if cfg.Redis.Addr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer rdb.Close()
			if err := rdb.Ping(ctx).Err(); err != nil {
				logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis ping")
			}
			lock = scheduler.NewLeaderLock(rdb, cfg.Scheduler.LockKey, cfg.Scheduler.LockTTL)
		} else {
			logger.Warn().Msg("no redis configured: every replica will tick")
		}

		ticker, err = scheduler.New(cfg.Scheduler.TickConfig(), executor, lock, logger, metrics)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler")
		}
		ticker.Start()
	}

	// 5. gRPC server and HTTP gateway
	grpcServer := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.ServerDeps{
		Submitter:     executor,
		QueryService:  queryService,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        logger,
	})
	go func() {
		errChan <- grpcServer.StartGRPC(ctx)
	}()
	go func() {
		errChan <- grpcServer.StartHTTPGateway(ctx)
	}()

	// 6. Prometheus metrics server
	go func() {
		errChan <- serveMetrics(ctx, cfg.Server.MetricsAddr, logger)
	}()

	healthChecker.SetReady(true)
	logger.Info().
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("PredictLedger ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	healthChecker.SetReady(false)
	if subscriber != nil {
		subscriber.Stop()
	}
	if ticker != nil {
		ticker.Stop()
	}
	cancel()

	// the receipt worker drains and flushes before the database closes
	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Error().Msg("receipt worker did not finish in time")
	}

	logger.Info().Msg("PredictLedger shutdown complete")
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// bootstrap instantiates the ledger from config on first start.
func bootstrap(ctx context.Context, qs *query.Service, submitter server.Submitter, b config.BootstrapConfig, logger zerolog.Logger) error {
	_, err := qs.Config(ctx)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, state.ErrNotInstantiated):
		return fmt.Errorf("read config: %w", err)
	}

	ledgerCfg := b.LedgerConfig()
	res, err := submitter.Submit(ctx, core.Command{
		ID:     bootstrapCommandID,
		Kind:   core.KindInstantiate,
		Sender: b.AdminAddress,
		Config: &ledgerCfg,
	})
	if err != nil {
		return err
	}
	if res.Err != nil {
		return fmt.Errorf("instantiate: %w", res.Err)
	}
	logger.Info().Str("admin", b.AdminAddress).Str("operator", b.OperatorAddress).Msg("ledger instantiated from bootstrap config")
	return nil
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
