package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"portfolio-pipeline/internal/api"
	"portfolio-pipeline/internal/artifact"
	"portfolio-pipeline/internal/cache"
	"portfolio-pipeline/internal/config"
	"portfolio-pipeline/internal/extract"
	"portfolio-pipeline/internal/generate"
	"portfolio-pipeline/internal/logging"
	"portfolio-pipeline/internal/pipeline"
	"portfolio-pipeline/internal/provider"
	"portfolio-pipeline/internal/quality"
	"portfolio-pipeline/internal/ratelimit"
	"portfolio-pipeline/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	// Job store: Postgres when configured, in-memory otherwise.
	var jobStore store.JobStore
	if cfg.PostgresDSN != "" {
		pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("connect postgres")
		}
		defer pg.Close()
		if err := pg.RunMigrations(ctx); err != nil {
			log.Fatal().Err(err).Msg("run migrations")
		}
		jobStore = pg
	} else {
		log.Warn().Msg("POSTGRES_DSN not set, using in-memory job store")
		jobStore = store.NewMemory()
	}

	// Response cache: Redis when configured, in-memory otherwise.
	var responseCache cache.Cache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		responseCache = cache.NewRedis(client, cfg.CacheTTL)
	} else {
		responseCache = cache.NewMemory(cfg.CacheTTL)
	}

	gemini, err := provider.NewGemini(provider.GeminiOptions{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiBaseURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("configure gemini provider")
	}

	gate := quality.NewGate()
	core := generate.New(
		gemini,
		ratelimit.NewSlidingWindow(cfg.RequestsPerWindow, cfg.WindowDuration),
		responseCache,
		gate,
		generate.Options{
			MaxRetries:  cfg.MaxRetries,
			Timeout:     cfg.GenerationTimeout,
			BackoffBase: cfg.BackoffBase,
			BackoffMax:  cfg.BackoffMax,
			Concurrent:  cfg.ConcurrentFragments,
		},
		log,
	)

	var sink artifact.Sink
	if cfg.ArtifactS3Bucket != "" {
		sink, err = artifact.NewS3(ctx, cfg.ArtifactS3Bucket, cfg.AWSRegion)
		if err != nil {
			log.Fatal().Err(err).Msg("configure s3 artifact sink")
		}
	} else {
		sink = artifact.NewLocal(cfg.ArtifactDir)
	}

	extractor := extract.New(nil, extract.Options{MaxImageDim: cfg.OCRMaxImageDim})
	runner := pipeline.NewRunner(jobStore, extractor, core, gate, sink, pipeline.Options{
		JobTimeout:       cfg.JobTimeout,
		StrictValidation: cfg.StrictValidation,
	}, log)

	server := api.New(cfg, jobStore, runner, log)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Info().Str("port", cfg.HTTPPort).Msg("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
