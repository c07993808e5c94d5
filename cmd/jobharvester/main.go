// Package main wires together the job harvester service.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/reliefworks/jobharvester/internal/api"
	"github.com/reliefworks/jobharvester/internal/clock/system"
	"github.com/reliefworks/jobharvester/internal/config"
	"github.com/reliefworks/jobharvester/internal/dedup"
	"github.com/reliefworks/jobharvester/internal/extract"
	"github.com/reliefworks/jobharvester/internal/fetch"
	"github.com/reliefworks/jobharvester/internal/harvest"
	"github.com/reliefworks/jobharvester/internal/hash/sha256"
	"github.com/reliefworks/jobharvester/internal/id/uuid"
	"github.com/reliefworks/jobharvester/internal/ingest"
	"github.com/reliefworks/jobharvester/internal/logging"
	"github.com/reliefworks/jobharvester/internal/metrics"
	"github.com/reliefworks/jobharvester/internal/monitor"
	"github.com/reliefworks/jobharvester/internal/progress"
	"github.com/reliefworks/jobharvester/internal/progress/sinks"
	publishermemory "github.com/reliefworks/jobharvester/internal/publisher/memory"
	publisherpubsub "github.com/reliefworks/jobharvester/internal/publisher/pubsub"
	queuememory "github.com/reliefworks/jobharvester/internal/queue/memory"
	"github.com/reliefworks/jobharvester/internal/rollout"
	"github.com/reliefworks/jobharvester/internal/schedule"
	"github.com/reliefworks/jobharvester/internal/storage/gcs"
	"github.com/reliefworks/jobharvester/internal/storage/local"
	"github.com/reliefworks/jobharvester/internal/storage/memory"
	"github.com/reliefworks/jobharvester/internal/storage/postgres"
	"github.com/reliefworks/jobharvester/internal/worker"
)

const queueDepth = 128

func main() {
	cfgPath := flag.String("config", ".", "directory containing config.yaml")
	smokeSource := flag.String("smoke", "", "crawl one source id, report a summary, and exit")
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
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *smokeSource); err != nil {
		logger.Fatal("harvester failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, smokeSource string) error {
	clock := system.New()
	ids := uuid.New()
	hasher := sha256.New()

	st, err := buildStores(ctx, cfg, clock, logger)
	if err != nil {
		return err
	}
	defer st.close()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	// Extraction pipeline with its budgeted AI fallback.
	budget := buildBudget(cfg, clock)
	var aiClient extract.AIClient
	if cfg.AI.APIKey != "" {
		client, err := extract.NewGoogleAIClient(ctx, cfg.AI.APIKey, cfg.AI.Model)
		if err != nil {
			return fmt.Errorf("init AI client: %w", err)
		}
		aiClient = client
	}
	pipeline := extract.NewDefaultPipeline(cfg.Extraction.ClassifierThreshold, st.policies, aiClient, budget, clock, logger)
	legacy := extract.NewLegacy(clock)
	router := rollout.NewRouter(rollout.Config{
		UseNewExtractor: cfg.Extraction.UseNewExtractor,
		ShadowMode:      cfg.Extraction.ShadowMode,
		DomainAllowlist: cfg.Extraction.DomainAllowlist,
		RolloutPercent:  cfg.Extraction.RolloutPercent,
	})

	robots := fetch.NewRobotsAgent(st.robots, &http.Client{Timeout: cfg.HTTP.Timeout}, cfg.HTTP.UserAgent, cfg.HTTP.RobotsTTL, clock, logger)
	limiter := fetch.NewHostLimiter(cfg.HTTP.GlobalConcurrency, cfg.HTTP.PerHostConcurrency, cfg.HTTP.PerHostInterval)
	retry := harvest.NewExponentialRetryPolicy(cfg.HTTP.MaxRetries, cfg.HTTP.RetryBaseDelay, cfg.HTTP.RetryMaxDelay)
	fetcher := fetch.NewClient(robots, limiter, retry, st.rawPages, blobs, ids, clock, logger, fetch.Options{
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      cfg.HTTP.Timeout,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		BlobPrefix:   cfg.Storage.Prefix,
		ContentType:  cfg.Storage.ContentType,
	})

	writer := ingest.NewWriter(
		dedup.NewResolver(st.jobs, hasher),
		st.jobs,
		st.extLogs,
		st.failures,
		publisher,
		cfg.PubSub.TopicID,
		ids,
		clock,
		logger,
	)

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register progress metrics: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logger}, sinks.NewLogSink(logger), promSink)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Close(closeCtx)
	}()

	workerOpts := worker.Options{
		MaxLinksPerSource: cfg.Crawler.MaxLinksPerSource,
		AutoPauseFailures: cfg.Crawler.AutoPauseFailures,
		DefaultFrequency:  cfg.Crawler.DefaultFrequency,
		Progress:          hub,
	}
	if smokeSource != "" && cfg.Extraction.SmokeLimit > 0 {
		// Smoke runs bound how many pages get processed; routing itself
		// stays deterministic per URL.
		workerOpts.MaxLinksPerSource = cfg.Extraction.SmokeLimit
	}
	processor := worker.NewProcessor(
		fetcher, router, pipeline, legacy, writer,
		st.sources, st.locks, st.crawlLogs, st.policies,
		ids, clock, logger,
		workerOpts,
	)

	if smokeSource != "" {
		return runSmoke(ctx, processor, st.sources, smokeSource, logger)
	}

	queue := queuememory.NewQueue(queueDepth)
	scheduler := schedule.NewScheduler(st.sources, queue, 0, clock, logger)
	dispatcher := schedule.NewDispatcher(queue, processor, cfg.Crawler.MaxConcurrentSites, logger)

	checker := monitor.NewChecker(
		st.extLogs,
		time.Duration(cfg.Monitor.WindowMinutes)*time.Minute,
		cfg.Monitor.ThresholdPercent,
		cfg.Monitor.MinSample,
		cfg.Monitor.IncidentDir,
		clock,
		logger,
	)
	go checker.Run(ctx, time.Duration(cfg.Monitor.IntervalMinutes)*time.Minute)

	apiServer := api.NewServer(st.jobs, ids, logger, api.Config{SecretKey: cfg.Server.SecretKey})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatcher.Start(ctx)
	if err := scheduler.Start(ctx, cfg.Crawler.CronSpec); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Crawler.ShutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	scheduler.Stop()
	queue.Close()
	dispatcher.Wait()
	logger.Info("shutdown complete")
	return nil
}

// runSmoke crawls one source immediately and reports the counters, leaving
// scheduling state untouched apart from the usual reschedule bookkeeping.
func runSmoke(ctx context.Context, processor *worker.Processor, sources harvest.SourceStore, sourceID string, logger *zap.Logger) error {
	source, err := sources.GetSource(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("load smoke source %q: %w", sourceID, err)
	}
	log, err := processor.ProcessSource(ctx, source)
	if err != nil {
		return fmt.Errorf("smoke crawl: %w", err)
	}
	logger.Info("smoke crawl finished",
		zap.String("source_id", sourceID),
		zap.Int("found", log.Counters.Found),
		zap.Int("inserted", log.Counters.Inserted),
		zap.Int("updated", log.Counters.Updated),
		zap.Int("restored", log.Counters.Restored),
		zap.Int("skipped", log.Counters.Skipped),
		zap.Int("failed", log.Counters.Failed),
		zap.String("message", log.Message),
	)
	return nil
}

// stores bundles every persistence interface the service needs, regardless
// of which provider backs them.
type stores struct {
	jobs      harvest.JobStore
	sources   harvest.SourceStore
	crawlLogs harvest.CrawlLogStore
	extLogs   harvest.ExtractionLogStore
	failures  harvest.FailedInsertStore
	rawPages  harvest.RawPageStore
	robots    harvest.RobotsCacheStore
	policies  harvest.DomainPolicyStore
	locks     harvest.LockManager
	close     func()
}

func buildStores(ctx context.Context, cfg *config.Config, clock harvest.Clock, logger *zap.Logger) (stores, error) {
	holder := cfg.Crawler.LockHolder
	if holder == "" {
		if hostname, err := os.Hostname(); err == nil {
			holder = hostname
		} else {
			holder = "jobharvester"
		}
	}

	if cfg.DB.DSN == "" || !cfg.Extraction.UseStorage {
		if cfg.DB.DSN == "" {
			logger.Warn("no database configured, using in-memory stores")
		} else {
			logger.Warn("storage writes disabled, using in-memory stores")
		}
		return stores{
			jobs:      memory.NewJobStore(),
			sources:   memory.NewSourceStore(),
			crawlLogs: memory.NewCrawlLogStore(),
			extLogs:   memory.NewExtractionLogStore(),
			failures:  memory.NewFailedInsertStore(),
			rawPages:  memory.NewRawPageStore(),
			robots:    memory.NewRobotsCacheStore(),
			policies:  memory.NewDomainPolicyStore(),
			locks:     memory.NewLockManager(holder, clock),
			close:     func() {},
		}, nil
	}

	pool, err := postgres.Connect(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        int32(cfg.DB.MaxConns),
		MaxConnLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		return stores{}, err
	}

	jobs, err := postgres.NewJobStore(pool, cfg.Extraction.JobsTable)
	if err != nil {
		pool.Close()
		return stores{}, err
	}
	sources, err := postgres.NewSourceStore(pool)
	if err != nil {
		pool.Close()
		return stores{}, err
	}
	crawlLogs, err := postgres.NewCrawlLogStore(pool)
	if err != nil {
		pool.Close()
		return stores{}, err
	}
	extLogs, err := postgres.NewExtractionLogStore(pool)
	if err != nil {
		pool.Close()
		return stores{}, err
	}
	failures, err := postgres.NewFailedInsertStore(pool)
	if err != nil {
		pool.Close()
		return stores{}, err
	}
	rawPages, err := postgres.NewRawPageStore(pool)
	if err != nil {
		pool.Close()
		return stores{}, err
	}
	robots, err := postgres.NewRobotsCacheStore(pool)
	if err != nil {
		pool.Close()
		return stores{}, err
	}
	policies, err := postgres.NewDomainPolicyStore(pool)
	if err != nil {
		pool.Close()
		return stores{}, err
	}
	locks, err := postgres.NewLockManager(pool, holder, clock)
	if err != nil {
		pool.Close()
		return stores{}, err
	}

	return stores{
		jobs:      jobs,
		sources:   sources,
		crawlLogs: crawlLogs,
		extLogs:   extLogs,
		failures:  failures,
		rawPages:  rawPages,
		robots:    robots,
		policies:  policies,
		locks:     locks,
		close:     pool.Close,
	}, nil
}

func buildBlobStore(ctx context.Context, cfg *config.Config) (harvest.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		return gcs.Connect(ctx, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	case "local":
		return local.New(local.Config{BaseDir: cfg.Storage.BaseDir})
	default:
		return memory.NewBlobStore(), nil
	}
}

func buildPublisher(ctx context.Context, cfg *config.Config) (harvest.Publisher, func(), error) {
	if cfg.PubSub.Provider == "pubsub" {
		pub, err := publisherpubsub.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		return pub, func() { _ = pub.Close() }, nil
	}
	return publishermemory.New(), func() {}, nil
}

func buildBudget(cfg *config.Config, clock harvest.Clock) extract.Budget {
	if cfg.AI.RedisURL != "" {
		if opts, err := redis.ParseURL(cfg.AI.RedisURL); err == nil {
			return extract.NewRedisBudget(redis.NewClient(opts), cfg.AI.DailyBudget, clock)
		}
		zap.L().Warn("invalid redis url, falling back to in-process AI budget")
	}
	return extract.NewMemoryBudget(cfg.AI.DailyBudget, clock)
}
