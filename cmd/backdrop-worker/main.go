// Command backdrop-worker runs the job-executing half of the pipeline:
// it drains the execution backend and drives MDC, the Sandbox Pool,
// the Scratch Stager and the Sandbox Runtime invoker for each job, per
// spec §4.4's six-step execution job. It shares the same on-disk
// BadgerDB instance as cmd/backdrop-server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v4"

	"github.com/arcline-labs/backdrop/internal/common"
	"github.com/arcline-labs/backdrop/internal/dispatcher"
	"github.com/arcline-labs/backdrop/internal/mdc"
	"github.com/arcline-labs/backdrop/internal/queue"
	"github.com/arcline-labs/backdrop/internal/resultstore"
	"github.com/arcline-labs/backdrop/internal/sandboxpool"
	"github.com/arcline-labs/backdrop/internal/scratchstager"
)

// concurrentConsumers is the number of goroutines calling
// Dispatcher.Run concurrently; the Sandbox Pool's bounded idle-set is
// what actually caps in-flight sandbox executions; this just lets more
// than one job be mid-flight (e.g. staging one while another awaits
// its sandbox exec).
const concurrentConsumers = 4

func main() {
	configPath := os.Getenv("BACKDROP_CONFIG")
	config, err := common.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := common.NewLogger(config.Logging.Level)

	if !config.Queue.RuntimeIsWorker {
		logger.Fatal().Msg("RUNTIME_CELERY must be set for the worker process")
	}

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

	origin := mdc.NewOriginClient(
		config.MDC.BaseURL,
		mdc.WithLogger(logger),
		mdc.WithRateLimit(config.MDC.RateLimit),
		mdc.WithTimeout(config.MDC.GetTimeout()),
	)
	cache := mdc.NewCache(db, origin, config.MDC.GetCacheTTL(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := sandboxpool.New(ctx, config.Pool.Size, config.Pool.Image, config.Pool.HostTmpfsBind, config.Pool.GetAcquireTimeout(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start sandbox pool")
	}

	stager := scratchstager.New()
	invoker := dispatcher.NewContainerInvoker(pool)

	d := dispatcher.New(cache, pool, stager, invoker, backend, results, logger)

	for i := 0; i < concurrentConsumers; i++ {
		go func() {
			if err := d.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("dispatcher consumer exited")
			}
		}()
	}

	logger.Info().Int("consumers", concurrentConsumers).Int("pool_size", config.Pool.Size).Msg("backdrop-worker ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutdown signal received")
	cancel()
	if err := pool.Shutdown(context.Background()); err != nil {
		logger.Error().Err(err).Msg("sandbox pool shutdown failed")
	}
}
