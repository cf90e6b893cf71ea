// Package main is the entry point for the trade gateway. It wires the
// transaction store, job queue, response consumer and HTTP server together,
// starts them through the service registry and handles graceful shutdown.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/sauliuspr-reya/reya-workers/internal/gateway"
	"github.com/sauliuspr-reya/reya-workers/internal/queue"
	"github.com/sauliuspr-reya/reya-workers/internal/relay"
	"github.com/sauliuspr-reya/reya-workers/internal/respond"
	"github.com/sauliuspr-reya/reya-workers/internal/store/postgres"
	"github.com/sauliuspr-reya/reya-workers/pkg/config"
	"github.com/sauliuspr-reya/reya-workers/pkg/health"
	"github.com/sauliuspr-reya/reya-workers/pkg/logging"
	"github.com/sauliuspr-reya/reya-workers/pkg/metrics"
	"github.com/sauliuspr-reya/reya-workers/pkg/service"
)

func main() {
	flags := pflag.NewFlagSet("api", pflag.ExitOnError)
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
		ServiceName: "trade-gateway",
		Environment: cfg.Log.Environment,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New(metrics.Config{
		Namespace:   cfg.Metrics.Namespace,
		ServiceName: "trade-gateway",
	})

	// Backends are probed at startup. An unreachable store or queue is fatal
	// before the server ever accepts a request.
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

	receiver, err := respond.NewKafkaReceiver(cfg.Kafka.Brokers, cfg.Kafka.ResponseTopic,
		cfg.Kafka.ConsumerGroup, logger)
	if err != nil {
		logger.Error("Failed to create response consumer", "error", err)
		os.Exit(1)
	}

	healthRegistry := health.NewRegistry(logger)
	healthRegistry.Register("postgres", health.PingChecker("postgres", st.Ping))
	healthRegistry.Register("redis", health.PingChecker("redis", q.Ping))

	rly := relay.New(cfg.API.StreamCloseGrace, logger)
	server := gateway.NewServer(cfg, st, q, rly, logger, m, healthRegistry)

	registry := service.NewRegistry(logger)
	apiService := gateway.NewService(server, receiver, rly, map[string]gateway.Pinger{
		"postgres": st.Ping,
		"redis":    q.Ping,
	})
	if err := registry.Register(apiService); err != nil {
		logger.Error("Failed to register gateway service", "error", err)
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

	if err := registry.StopAll(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("Shutdown complete")
}
