// Command server runs the screenshot analysis HTTP API.
//
// @title       Screenshot Advisor API
// @version     1.0
// @description Analyzes gameplay screenshots: OCR, cached model advice, daily image quotas.
// @BasePath    /api/v1
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"github.com/tbourn/go-screenshot-advisor/internal/ai"
	"github.com/tbourn/go-screenshot-advisor/internal/cache"
	"github.com/tbourn/go-screenshot-advisor/internal/config"
	httpapi "github.com/tbourn/go-screenshot-advisor/internal/http"
	"github.com/tbourn/go-screenshot-advisor/internal/observability"
	"github.com/tbourn/go-screenshot-advisor/internal/ocr"
	"github.com/tbourn/go-screenshot-advisor/internal/quota"
	"github.com/tbourn/go-screenshot-advisor/internal/repo"
	"github.com/tbourn/go-screenshot-advisor/internal/services"
	"github.com/tbourn/go-screenshot-advisor/internal/storage"
	"github.com/tbourn/go-screenshot-advisor/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.ConfigureLogger(cfg.LogLevel, cfg.LogPretty, os.Stderr)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	appVersion := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, appVersion)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(cfg.DB.Driver, cfg.DB.Path, cfg.DB.URL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// Quota counter and cache: Redis in front when configured, DB otherwise.
	var (
		counter quota.Counter = quota.NewDBCounter(db)
		store   cache.Store   = cache.NewDBStore(db, cfg.Pipeline.CacheTTL)
	)
	if cfg.RedisURL != "" {
		ropts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		rdb := redis.NewClient(ropts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		counter = quota.NewRedisCounter(rdb, "quota")
		store = &cache.Layered{
			Front: cache.NewRedisStore(rdb, "cache", cfg.Pipeline.CacheTTL),
			Back:  store,
		}
		log.Info().Msg("redis enabled for quota and cache")
	}
	guard := quota.NewGuard(counter, cfg.Pipeline.MaxDailyImages, cfg.Pipeline.UnlimitedRoles)

	objects, closeObjects, err := openObjectStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("object storage: %w", err)
	}
	defer closeObjects()

	ocrOpts := []option.ClientOption{}
	if cfg.OCR.APIKey != "" {
		ocrOpts = append(ocrOpts, option.WithAPIKey(cfg.OCR.APIKey))
	}
	if cfg.OCR.Endpoint != "" {
		ocrOpts = append(ocrOpts, option.WithEndpoint(cfg.OCR.Endpoint))
	}
	extractor, err := ocr.NewVisionExtractor(ctx, cfg.OCR.LanguageHints, ocrOpts...)
	if err != nil {
		return fmt.Errorf("ocr client: %w", err)
	}

	model, err := ai.NewGeminiClient(ctx, cfg.AI.APIKey, cfg.AI.Model, ai.Sampling{
		Temperature:     float32(cfg.AI.Temperature),
		TopP:            float32(cfg.AI.TopP),
		MaxOutputTokens: int32(cfg.AI.MaxOutputTokens),
	})
	if err != nil {
		return fmt.Errorf("ai client: %w", err)
	}
	defer model.Close()

	r := gin.New()
	analysis := httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:     db,
		Quota:  guard,
		Cache:  store,
		OCR:    extractor,
		AI:     model,
		Images: storage.NewImageStore(objects),
	}, cfg)

	if cfg.Sweep.Enabled {
		sweeper := &services.OrphanSweeper{DB: db, Store: objects, Grace: cfg.Sweep.Grace}
		go sweeper.Run(ctx, cfg.Sweep.Interval)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", appVersion).
			Str("db", cfg.DB.Driver).
			Str("storage", cfg.Storage.Driver).
			Str("model", model.Model()).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	// Pending cache writes finish before the DB and Redis clients close.
	if err := analysis.Wait(sctx); err != nil {
		log.Warn().Err(err).Msg("background tasks did not finish")
	}
	return nil
}

func openObjectStore(ctx context.Context, sc config.StorageConfig) (storage.ObjectStore, func(), error) {
	switch sc.Driver {
	case "gcs":
		s, err := storage.NewGCSStore(ctx, sc.Bucket, sc.PublicBaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "minio":
		s, err := storage.NewMinIOStore(ctx, sc.MinIOEndpoint, sc.MinIOAccessKey, sc.MinIOSecretKey, sc.Bucket, sc.PublicBaseURL, sc.MinIOUseSSL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	default:
		log.Warn().Msg("using in-memory object storage; images are lost on restart")
		return storage.NewMemoryStore(sc.PublicBaseURL), func() {}, nil
	}
}
