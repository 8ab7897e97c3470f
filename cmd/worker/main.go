// Command worker runs a standalone distributed worker process: it leases
// describe tasks for its assigned partitions from the shared queue,
// resolves image bytes from object storage, and reports results back,
// independent of any HTTP-facing dispatch process.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/visiondispatch/core/internal/config"
	"github.com/visiondispatch/core/internal/describer"
	"github.com/visiondispatch/core/internal/leaseworker"
	"github.com/visiondispatch/core/internal/logger"
	"github.com/visiondispatch/core/internal/objectstore"
	"github.com/visiondispatch/core/internal/queue"
)

func main() {
	log := logger.New("vision-dispatch-worker")

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	partitions, err := cfg.ParsedPartitions()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid PARTITIONS")
	}
	if len(partitions) == 0 {
		log.Fatal().Msg("worker process requires a non-empty PARTITIONS assignment")
	}

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct queue client")
	}
	defer q.Close()

	objStore, err := objectstore.New(objectstore.Config{
		Endpoint:  cfg.MinioEndpoint,
		Port:      cfg.MinioPort,
		UseSSL:    cfg.MinioUseSSL,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct object store client")
	}

	desc := describer.New(cfg.OllamaURL, cfg.OllamaModel)

	fetch := func(ctx context.Context, key string) ([]byte, error) {
		return objStore.GetObject(ctx, objectstore.ImagesBucket, key)
	}
	runner := leaseworker.New(q, fetch, desc.Describe, leaseworker.Config{
		WorkerID:   cfg.WorkerID,
		Partitions: partitions,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Ints("partitions", partitions).Str("worker_id", cfg.WorkerID).Msg("worker process starting")
	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("worker process exited with error")
	}
	log.Info().Msg("worker process exited")
}
