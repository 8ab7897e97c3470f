package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/visiondispatch/core/internal/api/http"
	"github.com/visiondispatch/core/internal/config"
	"github.com/visiondispatch/core/internal/describer"
	"github.com/visiondispatch/core/internal/dispatcher"
	"github.com/visiondispatch/core/internal/health"
	"github.com/visiondispatch/core/internal/ledger"
	"github.com/visiondispatch/core/internal/leaseworker"
	"github.com/visiondispatch/core/internal/logger"
	"github.com/visiondispatch/core/internal/model"
	"github.com/visiondispatch/core/internal/objectstore"
	"github.com/visiondispatch/core/internal/partition"
	"github.com/visiondispatch/core/internal/queue"
	"github.com/visiondispatch/core/internal/shardstore"
)

const defaultDescribePrompt = "Describe this image in detail."

func main() {
	log := logger.New("vision-dispatch")

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	pt, err := partition.New(cfg.NumPartitions, cfg.ReplicationFactor)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct partitioner")
	}
	store := shardstore.New(pt, cfg.MaxPartitionBytes)

	desc := describer.New(cfg.OllamaURL, cfg.OllamaModel)

	ctx := context.Background()
	ldg, err := ledger.New(ctx, cfg.AuditDSN, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct ledger")
	}
	defer func() {
		_ = ldg.Close(context.Background())
	}()

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

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct queue client")
	}
	defer q.Close()

	poolDescribe := func(ctx context.Context, task model.Task) (string, error) {
		return desc.Describe(ctx, defaultDescribePrompt, task.Payload)
	}
	d, err := dispatcher.New(pt, store, cfg.WorkerPoolSize, poolDescribe, ldg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct dispatcher")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = d.Shutdown(shutdownCtx)
	}()

	checks := buildHealthChecks(ctx, q, objStore, log)

	h := &httpapi.Handler{
		Dispatcher:  d,
		ObjectStore: objStore,
		Queue:       q,
		Partitioner: pt,
		Describe:    desc.Describe,
		Cfg:         cfg,
		Checks:      checks,
		Log:         log,
		WorkerCtx:   ctx,
	}
	router := httpapi.NewRouter(h)

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
		// SSE responses on /process and /ingest can run for as long as a
		// batch takes to drain; there is no fixed per-request deadline.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("vision dispatch server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	if cfg.WorkerMode {
		startEmbeddedWorker(ctx, cfg, q, objStore, desc, log)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited")
}

// buildHealthChecks wires the queue, object store, and redis pingers into
// the named checks required by GET /health's response shape.
func buildHealthChecks(ctx context.Context, q *queue.Queue, objStore *objectstore.Client, log zerolog.Logger) map[string]health.HealthChecker {
	const pingInterval = 10 * time.Second

	redisCheck := health.NewPingChecker("redis", health.PingerFunc(q.Ping), log, 2*time.Second)
	queueCheck := health.NewPingChecker("queue", health.PingerFunc(q.Ping), log, 2*time.Second)
	s3Check := health.NewPingChecker("s3", objStore, log, 2*time.Second)

	for _, c := range []*health.PingChecker{redisCheck, queueCheck, s3Check} {
		go c.Start(ctx, pingInterval)
	}

	return map[string]health.HealthChecker{
		"redis": redisCheck,
		"queue": queueCheck,
		"s3":    s3Check,
	}
}

func startEmbeddedWorker(ctx context.Context, cfg *config.Config, q *queue.Queue, objStore *objectstore.Client, desc *describer.Describer, log zerolog.Logger) {
	partitions, err := cfg.ParsedPartitions()
	if err != nil {
		log.Error().Err(err).Msg("invalid PARTITIONS, embedded worker not started")
		return
	}
	fetch := func(ctx context.Context, key string) ([]byte, error) {
		return objStore.GetObject(ctx, objectstore.ImagesBucket, key)
	}
	runner := leaseworker.New(q, fetch, desc.Describe, leaseworker.Config{
		WorkerID:   cfg.WorkerID,
		Partitions: partitions,
	}, log)
	go func() {
		if err := runner.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("embedded lease worker stopped")
		}
	}()
}
