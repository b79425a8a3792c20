package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/uhyunpark/hyperflash/params"
	"github.com/uhyunpark/hyperflash/pkg/api"
	"github.com/uhyunpark/hyperflash/pkg/app"
	"github.com/uhyunpark/hyperflash/pkg/bus"
	"github.com/uhyunpark/hyperflash/pkg/dex"
	"github.com/uhyunpark/hyperflash/pkg/metrics"
	"github.com/uhyunpark/hyperflash/pkg/order"
	"github.com/uhyunpark/hyperflash/pkg/queue"
	"github.com/uhyunpark/hyperflash/pkg/router"
	"github.com/uhyunpark/hyperflash/pkg/settlement"
	"github.com/uhyunpark/hyperflash/pkg/storage"
	"github.com/uhyunpark/hyperflash/pkg/util"
	"github.com/uhyunpark/hyperflash/pkg/worker"
)

func main() {
	// "" loads .env from the working directory
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	level := zapcore.InfoLevel
	if os.Getenv("VERBOSE") == "true" {
		level = zapcore.DebugLevel
	}
	logger, err := util.NewLoggerWithFile(cfg.LogFile, level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sugar); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

func run(ctx context.Context, cfg params.Config, sugar *zap.SugaredLogger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ---- Storage + durable queue ----
	var (
		store   storage.OrderStore
		backlog queue.Backlog
	)
	switch cfg.Storage.Backend {
	case params.StorePebble:
		ps, err := storage.NewPebbleStore(filepath.Join(cfg.Storage.DataDir, "pebble"), nil)
		if err != nil {
			return err
		}
		defer ps.Close()
		store = ps
		backlog = queue.NewPebbleBacklog(ps.DB())
	default:
		store = storage.NewInMemoryStore()
		backlog = queue.NewMemoryBacklog()
	}
	sugar.Infow("storage_ready", "backend", cfg.Storage.Backend, "data_dir", cfg.Storage.DataDir)

	jobs, err := queue.New(backlog,
		queue.WithLogger(sugar.Named("queue")),
		queue.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	defer jobs.Close()

	// ---- Event bus ----
	var events bus.EventBus
	switch cfg.Bus.Backend {
	case params.BusP2P:
		pb, err := bus.NewP2PBus(ctx, bus.P2PConfig{
			ListenAddr: cfg.Bus.ListenAddr,
			Bootstrap:  cfg.Bus.Bootstrap,
			Logger:     sugar.Named("p2p"),
			Metrics:    m,
		})
		if err != nil {
			return err
		}
		events = pb
	default:
		events = bus.NewLocalBus(bus.DefaultBuffer, sugar.Named("bus"), m)
	}
	defer events.Close()

	// ---- Quote providers ----
	var providers []router.QuoteProvider
	switch cfg.Quotes.Source {
	case params.QuoteSourceRPC:
		rpcProviders, closeRPC, err := dex.NewRPCProviders(ctx, cfg.Quotes.RPCURL, cfg.Quotes.RPCRateLimit, dex.DevnetVenues, sugar.Named("dex"))
		if err != nil {
			return err
		}
		defer closeRPC()
		providers = rpcProviders
	default:
		providers = dex.DefaultMocks(cfg.Quotes.MockMinDelay, cfg.Quotes.MockMaxDelay)
	}
	for i, p := range providers {
		providers[i] = router.WithBreaker(p, sugar.Named("breaker"))
	}
	quotes := router.New(providers,
		router.WithQuoteTimeout(cfg.Quotes.Timeout),
		router.WithLogger(sugar.Named("router")),
		router.WithMetrics(m),
	)
	sugar.Infow("router_ready", "source", cfg.Quotes.Source, "providers", quotes.Providers())

	// ---- Execution ----
	execution := worker.NewExecution(worker.ExecutionConfig{
		Store:  store,
		Quotes: quotes,
		Executor: settlement.NewSimulator(settlement.Config{
			BuildDelay:   cfg.Settlement.BuildDelay,
			ConfirmDelay: cfg.Settlement.ConfirmDelay,
			FailureRate:  cfg.Settlement.FailureRate,
		}),
		Events:  events,
		Logger:  sugar.Named("worker"),
		Metrics: m,
	})
	pool := worker.NewPool(jobs, execution, cfg.Worker.Concurrency, sugar.Named("pool"), m)

	intake := app.New(app.Config{
		Store:   store,
		Jobs:    jobs,
		Events:  events,
		Policy:  queue.RetryPolicy{Attempts: cfg.Queue.Attempts, Backoff: cfg.Queue.BackoffBase},
		Logger:  sugar.Named("app"),
		Metrics: m,
	})

	// ---- Status gateway + API ----
	gateway := api.NewGateway(sugar.Named("ws"), m)
	sub, err := events.Subscribe(ctx, order.TopicUpdates)
	if err != nil {
		return err
	}
	go gateway.Run(ctx, sub)

	server := api.NewServer(api.ServerConfig{
		Orders:         intake,
		Gateway:        gateway,
		AllowedOrigins: cfg.API.AllowedOrigins,
		Gatherer:       reg,
		Logger:         sugar.Named("api"),
	})
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(cfg.API.Addr) }()

	poolDone := make(chan error, 1)
	go func() { poolDone <- pool.Run(ctx) }()

	sugar.Infow("node_starting",
		"api_addr", cfg.API.Addr,
		"concurrency", pool.Concurrency(),
		"attempts", cfg.Queue.Attempts,
		"backoff_ms", cfg.Queue.BackoffBase.Milliseconds(),
		"bus", cfg.Bus.Backend,
		"recovered_jobs", jobs.Len())

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			sugar.Errorw("api_server_failed", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_failed", "err", err)
	}

	// stop dispatching, let in-flight jobs finish
	jobs.Close()
	<-poolDone
	return nil
}
