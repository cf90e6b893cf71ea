// Package main creates the transactions table. Run once before the gateway
// and worker are started for the first time.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/sauliuspr-reya/reya-workers/internal/store/postgres"
	"github.com/sauliuspr-reya/reya-workers/pkg/config"
)

func main() {
	flags := pflag.NewFlagSet("initdb", pflag.ExitOnError)
	configFile := flags.String("config", "", "Path to configuration file")
	flags.Parse(os.Args[1:])

	opts := config.DefaultLoadOptions()
	if *configFile != "" {
		opts.ConfigFile = *configFile
	}

	cfg, err := config.LoadWithOptions(opts)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	st, err := postgres.New(cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := st.Ping(ctx); err != nil {
		log.Fatalf("Database unreachable: %v", err)
	}

	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to create schema: %v", err)
	}

	log.Println("Database initialized successfully")
}
