// Package main wires together the keyword engine service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/api"
	archivegcs "github.com/SixpoundertheOriginal/yodel-aso-insight/internal/archive/gcs"
	archivemem "github.com/SixpoundertheOriginal/yodel-aso-insight/internal/archive/memory"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/candidates"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/clock/system"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/cluster"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/config"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/gap"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/id/uuid"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/keyword"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/logging"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/metrics"
	pubmem "github.com/SixpoundertheOriginal/yodel-aso-insight/internal/publisher/memory"
	pubgcp "github.com/SixpoundertheOriginal/yodel-aso-insight/internal/publisher/pubsub"
	queuemem "github.com/SixpoundertheOriginal/yodel-aso-insight/internal/queue/memory"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/ratelimit"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/scheduler"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/serp"
	storemem "github.com/SixpoundertheOriginal/yodel-aso-insight/internal/store/memory"
	storepg "github.com/SixpoundertheOriginal/yodel-aso-insight/internal/store/postgres"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/volume"
)

// stores groups the persistence interfaces the service wires together.
type stores struct {
	keywords    keyword.KeywordStore
	snapshots   keyword.SnapshotStore
	volumes     keyword.VolumeStore
	competitors keyword.CompetitorStore
	jobs        keyword.JobStore
	apps        keyword.AppStore
	close       func()
}

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStores(ctx, cfg)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer st.close()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}
	publisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}

	clock := system.New()
	idGen := uuid.NewUUIDGenerator()
	queue := queuemem.NewQueue(cfg.Scheduler.QueueDepth)
	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerHour: cfg.Limits.RequestsPerHour,
		Burst:           cfg.Limits.Burst,
	}, clock)
	fetcher := serp.New(serp.Config{
		BaseURL:   cfg.Serp.BaseURL,
		UserAgent: cfg.Serp.UserAgent,
		Timeout:   cfg.FetchTimeout(),
		PageSize:  cfg.Serp.PageSize,
	}, clock)
	retry := keyword.NewRetryPolicy(
		cfg.Scheduler.MaxRetries,
		time.Duration(cfg.Scheduler.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.Scheduler.BackoffMaxMs)*time.Millisecond,
	)
	estimator := volume.New(volume.Config{
		AuthorityRatingCount: cfg.Volume.AuthorityRatingCount,
		Staleness:            cfg.VolumeStaleness(),
	}, clock)
	generator := candidates.New(candidates.Config{})
	clusterer := cluster.New(cluster.Config{
		MinClusterSize:      cfg.Cluster.MinClusterSize,
		SimilarityThreshold: cfg.Cluster.SimilarityThreshold,
	})
	cancels := scheduler.NewCancelRegistry()

	workerCfg := scheduler.Config{
		Concurrency:            cfg.Scheduler.Workers,
		JobTimeoutPerCandidate: cfg.JobTimeout(1),
		Cooldown:               cfg.Cooldown(),
		MaxTrackedPosition:     cfg.Scheduler.MaxTrackedPosition,
		Platform:               cfg.Serp.Platform,
		Topic:                  cfg.PubSub.TopicName,
		ContentType:            cfg.Archive.ContentType,
	}
	deps := scheduler.Deps{
		Queue:       queue,
		Jobs:        st.jobs,
		Keywords:    st.keywords,
		Snapshots:   st.snapshots,
		Volumes:     st.volumes,
		Competitors: st.competitors,
		Apps:        st.apps,
		Fetcher:     fetcher,
		Limiter:     limiter,
		Retry:       retry,
		Blobs:       blobs,
		Publisher:   publisher,
		Estimator:   estimator,
		Generator:   generator,
		Clusterer:   clusterer,
		Clock:       clock,
		IDs:         idGen,
		Cancels:     cancels,
	}

	var workers []*scheduler.Worker
	for i := 0; i < cfg.Scheduler.Workers; i++ {
		workers = append(workers, scheduler.NewWorker(
			deps,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	pool := scheduler.NewPool(workers)

	sched := scheduler.New(queue, st.jobs, clock, idGen, cancels, logger.Named("scheduler"))
	analyzer := gap.New(gap.Config{
		DateTolerance: time.Duration(cfg.Gap.DateToleranceDays) * 24 * time.Hour,
	}, clock)
	apiServer := api.NewServer(
		sched,
		st.keywords,
		st.snapshots,
		st.competitors,
		analyzer,
		clock,
		cfg,
		logger.Named("api"),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("worker pool started", zap.Int("workers", cfg.Scheduler.Workers))
		pool.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	logger.Info("shutdown complete")
}

// buildStores picks Postgres when a DSN is configured, in-memory otherwise.
func buildStores(ctx context.Context, cfg config.Config) (stores, error) {
	if cfg.DB.DSN == "" {
		mem := storemem.NewStore(cfg.VolumeStaleness())
		return stores{
			keywords:    mem,
			snapshots:   mem,
			volumes:     mem,
			competitors: mem,
			jobs:        mem,
			apps:        mem,
			close:       func() {},
		}, nil
	}
	pg, err := storepg.NewStore(ctx, storepg.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		VolumeStaleness: cfg.VolumeStaleness(),
	})
	if err != nil {
		return stores{}, err
	}
	return stores{
		keywords:    pg,
		snapshots:   pg,
		volumes:     pg,
		competitors: pg,
		jobs:        pg,
		apps:        pg,
		close:       pg.Close,
	}, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (keyword.BlobStore, error) {
	if cfg.Archive.GCSBucket == "" {
		return archivemem.NewBlobStore(), nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return archivegcs.New(client, archivegcs.Config{
		Bucket: cfg.Archive.GCSBucket,
		Prefix: cfg.Archive.Prefix,
	})
}

func buildPublisher(ctx context.Context, cfg config.Config) (keyword.Publisher, error) {
	if cfg.PubSub.ProjectID == "" {
		return pubmem.New(), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	return pubgcp.New(client.Topic(cfg.PubSub.TopicName)), nil
}
