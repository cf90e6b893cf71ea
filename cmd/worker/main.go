// Package main is the entry point for the trade worker. It consumes queued
// trade jobs, signs and broadcasts the transactions and publishes progress
// events to the response topic.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/pflag"

	"github.com/sauliuspr-reya/reya-workers/internal/chain"
	"github.com/sauliuspr-reya/reya-workers/internal/queue"
	"github.com/sauliuspr-reya/reya-workers/internal/respond"
	"github.com/sauliuspr-reya/reya-workers/internal/store/postgres"
	"github.com/sauliuspr-reya/reya-workers/internal/worker"
	"github.com/sauliuspr-reya/reya-workers/pkg/config"
	"github.com/sauliuspr-reya/reya-workers/pkg/health"
	"github.com/sauliuspr-reya/reya-workers/pkg/logging"
	"github.com/sauliuspr-reya/reya-workers/pkg/metrics"
	"github.com/sauliuspr-reya/reya-workers/pkg/service"
)

func main() {
	flags := pflag.NewFlagSet("worker", pflag.ExitOnError)
	configFile := flags.String("config", "", "Path to configuration file")
	logLevel := flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Parse(os.Args[1:])

	opts := config.DefaultLoadOptions()
	if *configFile != "" {
		opts.ConfigFile = *configFile
	}

	cfg, err := config.LoadWithOptions(opts)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger := logging.New(logging.Config{
		Level:       logging.LogLevel(cfg.Log.Level),
		Output:      os.Stdout,
		ServiceName: "trade-worker",
		Environment: cfg.Log.Environment,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New(metrics.Config{
		Namespace:   cfg.Metrics.Namespace,
		ServiceName: "trade-worker",
	})

	st, err := postgres.New(cfg.Postgres.DSN)
	if err != nil {
		logger.Error("Failed to open transaction store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Ping(ctx); err != nil {
		logger.Error("Transaction store unreachable", "error", err)
		os.Exit(1)
	}

	q, err := queue.NewRedisQueue(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Worker.MaxAttempts)
	if err != nil {
		logger.Error("Failed to connect to job queue", "error", err)
		os.Exit(1)
	}
	defer q.Close()

	submitter, err := chain.NewEthSubmitter(ctx, cfg.Chain.RPCURL, cfg.Chain.PrivateKey)
	if err != nil {
		logger.Error("Failed to initialize transaction submitter", "error", err)
		os.Exit(1)
	}
	defer submitter.Close()

	emitter, err := respond.NewKafkaEmitter(cfg.Kafka.Brokers, cfg.Kafka.ResponseTopic)
	if err != nil {
		logger.Error("Failed to create response producer", "error", err)
		os.Exit(1)
	}
	defer emitter.Close()

	w := worker.New(q, st, submitter, emitter, cfg.Worker.Concurrency, logger, m)

	healthRegistry := health.NewRegistry(logger)
	healthRegistry.Register("postgres", health.PingChecker("postgres", st.Ping))
	healthRegistry.Register("redis", health.PingChecker("redis", q.Ping))
	healthRegistry.Register("rpc", health.PingChecker("rpc", submitter.Ping))

	opsRouter := chi.NewRouter()
	opsRouter.Get("/health", healthRegistry.Handler().ServeHTTP)
	opsRouter.Get("/metrics", m.Handler().ServeHTTP)
	opsServer := &http.Server{Addr: ":" + cfg.Worker.OpsPort, Handler: opsRouter}
	go func() {
		logger.Info("Starting ops server", "port", cfg.Worker.OpsPort)
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Error starting ops server", "error", err)
		}
	}()

	registry := service.NewRegistry(logger)
	workerService := worker.NewService(w, map[string]worker.Pinger{
		"postgres": st.Ping,
		"redis":    q.Ping,
		"rpc":      submitter.Ping,
	})
	if err := registry.Register(workerService); err != nil {
		logger.Error("Failed to register worker service", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting services")
	if err := registry.StartAll(ctx); err != nil {
		logger.Error("Failed to start services", "error", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	m.RecordUptime(done)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	logger.Info("Shutdown signal received", "signal", sig.String())
	close(done)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer shutdownCancel()

	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during ops server shutdown", "error", err)
	}

	if err := registry.StopAll(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("Shutdown complete")
}
