package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iago/manga-creator-back/internal/cache"
	"github.com/iago/manga-creator-back/internal/config"
	httpserver "github.com/iago/manga-creator-back/internal/http"
	"github.com/iago/manga-creator-back/internal/http/handlers"
	"github.com/iago/manga-creator-back/internal/jobs"
	"github.com/iago/manga-creator-back/internal/logging"
	"github.com/iago/manga-creator-back/internal/queue"
	"github.com/iago/manga-creator-back/internal/render"
	"github.com/iago/manga-creator-back/internal/repository"
	"github.com/iago/manga-creator-back/internal/service"
	"github.com/iago/manga-creator-back/internal/status"
	"github.com/iago/manga-creator-back/internal/storyboard"
	"github.com/iago/manga-creator-back/internal/worker"
)

type repositories struct {
	scripts repository.ScriptsRepository
	jobs    repository.JobsRepository
}

func main() {
	bootLogger := log.New(os.Stdout, logging.Prefix, log.LstdFlags|log.LUTC|log.Lmicroseconds)
	loaded, err := config.LoadDotEnv(".env", ".env.local")
	if err != nil {
		bootLogger.Printf("failed loading .env files: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		bootLogger.Fatalf("invalid configuration: %v", err)
	}

	logger, closeLog := logging.New(logging.Options{
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	defer closeLog()
	if len(loaded) > 0 {
		logger.Printf("env files loaded files=%v", loaded)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, repoCloser := setupRepositories(ctx, cfg, logger)
	defer repoCloser()

	producer, consumer, queuePinger, queueCloser := setupQueue(ctx, cfg, logger)
	defer queueCloser()

	renderer, rendererPinger, err := setupRenderer(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("renderer setup failed: %v", err)
	}

	manager := jobs.NewManager(repos.jobs, renderer, jobs.Config{
		Workers:       cfg.RenderWorkers,
		RenderTimeout: cfg.RenderTimeout(),
		Logger:        logger,
	})
	scriptsService := service.NewScriptsService(
		repos.scripts,
		storyboard.NewBuilder(storyboard.Options{SplitDialogue: cfg.SplitDialogue, Moods: cfg.Moods}),
		cfg.Limits,
		logger,
	)
	generationService := service.NewGenerationService(service.GenerationDependencies{
		Scripts:        repos.scripts,
		Jobs:           repos.jobs,
		Manager:        manager,
		Producer:       producer,
		Moods:          cfg.Moods,
		SplitDialogue:  cfg.SplitDialogue,
		Limits:         cfg.Limits,
		Renderer:       renderer,
		PreviewTimeout: cfg.RenderTimeout(),
		Logger:         logger,
	})

	api := handlers.NewAPI(handlers.APIDependencies{
		Scripts:    scriptsService,
		Generation: generationService,
		Reporter:   status.NewReporter(cfg.Phases),
		Renderer:   rendererPinger,
		Queue:      queuePinger,
		ActiveJobs: manager.Active,
		Logger:     logger,
	})
	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		ImagesDir:      cfg.ImagesDir,
	})

	workerDone := make(chan struct{})
	if cfg.WorkerEnabled {
		processor := worker.NewProcessor(consumer, manager, logger)
		go func() {
			defer close(workerDone)
			processor.Run(ctx, cfg.QueueConsumers)
		}()
		logger.Printf("worker enabled and started consumers=%d render_workers=%d", cfg.QueueConsumers, cfg.RenderWorkers)

		if resumed, err := generationService.Resume(ctx); err != nil {
			logger.Printf("resume unfinished jobs failed resumed=%d err=%v", resumed, err)
		}
	} else {
		close(workerDone)
		logger.Printf("worker disabled by configuration")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}

	// Jobs interrupted here stay processing and are resumed on the next start.
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Printf("worker did not stop before shutdown deadline")
	}
}

func setupRepositories(ctx context.Context, cfg config.Config, logger *log.Logger) (repositories, func()) {
	memory := func() (repositories, func()) {
		return repositories{
			scripts: repository.NewMemoryScriptsRepository(),
			jobs:    repository.NewMemoryJobsRepository(),
		}, func() {}
	}

	if cfg.DatabaseURL != "" {
		pgRepo, err := repository.NewPostgresRepository(ctx, cfg.DatabaseURL)
		if err == nil {
			logger.Printf("postgres repository initialized")
			return repositories{scripts: pgRepo, jobs: pgRepo}, pgRepo.Close
		}
		logger.Printf("failed to initialize postgres repository: %v", err)
	}

	if cfg.SQLitePath != "" {
		sqliteRepo, err := repository.OpenSQLiteRepository(ctx, cfg.SQLitePath)
		if err == nil {
			logger.Printf("sqlite repository initialized path=%s", cfg.SQLitePath)
			return repositories{scripts: sqliteRepo, jobs: sqliteRepo}, func() {
				if err := sqliteRepo.Close(); err != nil {
					logger.Printf("sqlite close failed: %v", err)
				}
			}
		}
		logger.Printf("failed to initialize sqlite repository: %v", err)
	}

	logger.Printf("no persistent store configured, using in-memory repositories")
	return memory()
}

func setupQueue(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (queue.Producer, queue.Consumer, handlers.Pinger, func()) {
	local := func() (queue.Producer, queue.Consumer, handlers.Pinger, func()) {
		q := queue.NewLocalQueue(cfg.QueueBufferSize, cfg.QueueMaxAttempts, logger)
		return q, q, nil, func() {}
	}

	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using local queue")
		return local()
	}

	streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		Stream:      cfg.RedisStream,
		DLQStream:   cfg.RedisDLQ,
		Group:       cfg.RedisGroup,
		Consumer:    cfg.RedisConsumer,
		MaxAttempts: cfg.QueueMaxAttempts,
		Logger:      logger,
	})
	if err != nil {
		logger.Printf("failed to initialize redis streams queue, fallback to local: %v", err)
		return local()
	}
	logger.Printf("redis streams queue initialized stream=%s group=%s", cfg.RedisStream, cfg.RedisGroup)
	return streams, streams, streams, func() {
		_ = streams.Close()
	}
}

// setupRenderer builds cache -> rate limit -> backend. The placeholder backend
// is used when no Stable Diffusion URL is configured or it does not answer.
func setupRenderer(ctx context.Context, cfg config.Config, logger *log.Logger) (render.Renderer, handlers.Pinger, error) {
	store, err := render.NewImageStore(cfg.ImagesDir, "/images/")
	if err != nil {
		return nil, nil, err
	}

	var (
		backend render.Renderer = render.NewPlaceholderRenderer(store)
		pinger  handlers.Pinger
	)
	if cfg.SDAPIURL != "" {
		sd := render.NewStableDiffusionRenderer(render.StableDiffusionConfig{
			BaseURL:    cfg.SDAPIURL,
			Timeout:    cfg.SDTimeout(),
			MaxRetries: cfg.SDMaxRetries,
			Router: render.NewModelRouter(render.ModelRouterConfig{
				Checkpoints: cfg.StyleCheckpoints(),
				Steps:       cfg.SDSteps,
				CFGScale:    cfg.SDCFGScale,
				Sampler:     cfg.SDSampler,
			}),
			Store: store,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pingErr := sd.Ping(pingCtx)
		cancel()
		if pingErr != nil {
			logger.Printf("stable diffusion not reachable, using placeholder renderer url=%s err=%v", cfg.SDAPIURL, pingErr)
		} else {
			logger.Printf("stable diffusion renderer initialized url=%s", cfg.SDAPIURL)
			backend = sd
			pinger = sd
		}
	} else {
		logger.Printf("SD_API_URL not configured, using placeholder renderer")
	}

	var renderer render.Renderer = render.NewRateLimited(backend, cfg.RenderRPS, cfg.RenderBurst)
	if cfg.RenderCacheTTLSeconds > 0 {
		renderer = render.NewCached(renderer, cache.NewRenderCache(cache.Config{
			TTL:        cfg.RenderCacheTTL(),
			MaxEntries: cfg.RenderCacheMaxEntries,
		}))
	}
	return renderer, pinger, nil
}
