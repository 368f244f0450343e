// Command backdrop-server runs the HTTP surface (spec §6): it accepts
// submissions and serves task/health lookups against the shared
// BadgerDB instance, but never touches the Market-Data Cache or
// Sandbox Pool directly — those are only pulled by cmd/backdrop-worker
// once a job is dequeued.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/arcline-labs/backdrop/internal/common"
	"github.com/arcline-labs/backdrop/internal/dispatcher"
	"github.com/arcline-labs/backdrop/internal/queue"
	"github.com/arcline-labs/backdrop/internal/resultstore"
	"github.com/arcline-labs/backdrop/internal/server"
)

func main() {
	configPath := os.Getenv("BACKDROP_CONFIG")
	config, err := common.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := common.NewLogger(config.Logging.Level)

	db, err := badger.Open(badger.DefaultOptions(config.Storage.DataPath).WithLogger(nil))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open badger store")
	}
	defer db.Close()

	results := resultstore.New(db, logger)
	backend, err := queue.NewBadgerQueue(db, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open execution queue")
	}

	// The server never dequeues jobs itself: Submit/Fetch/HealthCheck
	// are the only Dispatcher methods it calls, so the MDC/pool/stager/
	// invoker collaborators are left nil here and wired for real in
	// cmd/backdrop-worker, which alone calls Dispatcher.Run.
	d := dispatcher.New(nil, nil, nil, nil, backend, results, logger)

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	srv := server.New(d, logger, addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	logger.Info().Str("addr", addr).Msg("backdrop-server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}
