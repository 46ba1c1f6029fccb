// Package httpapi wires the HTTP transport (Gin) to the analysis services,
// middleware and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// authentication, idempotency, rate limiting, CORS and security headers.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-screenshot-advisor/docs"
	"github.com/tbourn/go-screenshot-advisor/internal/ai"
	"github.com/tbourn/go-screenshot-advisor/internal/cache"
	"github.com/tbourn/go-screenshot-advisor/internal/config"
	"github.com/tbourn/go-screenshot-advisor/internal/domain"
	"github.com/tbourn/go-screenshot-advisor/internal/http/handlers"
	"github.com/tbourn/go-screenshot-advisor/internal/http/middleware"
	"github.com/tbourn/go-screenshot-advisor/internal/ocr"
	"github.com/tbourn/go-screenshot-advisor/internal/repo"
	"github.com/tbourn/go-screenshot-advisor/internal/services"
)

// repoShim adapts the repository free functions to the services.AnalysisRepo
// and services.HistoryRepo interfaces.
type repoShim struct{}

func (repoShim) GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	return repo.GetUser(ctx, db, id)
}

func (repoShim) GetCategory(ctx context.Context, db *gorm.DB, id string) (*domain.Category, error) {
	return repo.GetCategory(ctx, db, id)
}

func (repoShim) GetAdvice(ctx context.Context, db *gorm.DB, id, categoryID string) (*domain.Advice, error) {
	return repo.GetAdvice(ctx, db, id, categoryID)
}

func (repoShim) ListPreferenceAnswers(ctx context.Context, db *gorm.DB, userID string) ([]repo.PreferenceAnswer, error) {
	return repo.ListPreferenceAnswers(ctx, db, userID)
}

func (repoShim) CreateRequest(ctx context.Context, db *gorm.DB, rec *domain.RequestRecord) error {
	return repo.CreateRequest(ctx, db, rec)
}

func (repoShim) GetRequest(ctx context.Context, db *gorm.DB, id, userID string) (*domain.RequestRecord, error) {
	return repo.GetRequest(ctx, db, id, userID)
}

func (repoShim) CountRequests(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountRequests(ctx, db, userID)
}

func (repoShim) ListRequestsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.RequestRecord, error) {
	return repo.ListRequestsPage(ctx, db, userID, offset, limit)
}

func (repoShim) RequestsStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	return repo.RequestsStats(ctx, db, userID)
}

func (repoShim) CountImagesSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) (int64, error) {
	return repo.CountImagesSince(ctx, db, userID, since)
}

// Deps are the collaborators built by the caller: storage and vendor
// clients whose construction depends on credentials.
type Deps struct {
	DB     *gorm.DB
	Quota  services.QuotaGuard
	Cache  cache.Store
	OCR    ocr.Extractor
	AI     ai.Completer
	Images services.ImageUploader
}

// RegisterRoutes attaches all middleware and HTTP endpoints to r and returns
// the analysis service so the caller can drain its background work on
// shutdown.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger (debug) or RedactingLogger: structured logs, PII scrubbed outside debug
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS, security headers and gzip
//
// and on the API group:
//  8. Auth
//  9. Idempotency validator (needs the user; before the limiter for bypass)
//  10. Rate limiter (per user, bypass on replay)
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) *services.AnalysisService {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging; unredacted only in gin debug mode
	if cfg.GinMode == gin.DebugMode {
		r.Use(middleware.Logger())
	} else {
		r.Use(middleware.RedactingLogger(middleware.RedactOptions{
			MaskHeaders: []string{"X-API-Key"},
		}))
	}

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit; five base64 screenshots fit comfortably
	r.Use(limitBody(cfg.MaxBodyBytes))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (safe defaults: allow all if none configured)
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey, "If-None-Match"},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After", "Idempotency-Replayed", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "Not found", "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "Method not allowed", "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/vendors
	analysis := services.NewAnalysisService(deps.DB, repoShim{}, deps.Quota, deps.Cache, deps.OCR, deps.AI, deps.Images)
	analysis.MaxImages = cfg.Pipeline.MaxImages
	analysis.MaxImageBytes = cfg.Pipeline.MaxImageBytes
	analysis.Timeout = cfg.Pipeline.Timeout
	analysis.CompensationTimeout = cfg.Pipeline.CompensationTimeout

	history := services.NewHistoryService(deps.DB, repoShim{}, deps.Quota)
	replay := &services.ReplayStore{DB: deps.DB, TTL: cfg.IdempotencyTTL}
	h := handlers.New(analysis, history, replay)

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(
		middleware.Auth(middleware.AuthOptions{Secret: cfg.JWTSecret, Leeway: 30 * time.Second}),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, replay.Exists),
		rl.Handler(),
	)
	{
		api.POST("/analyses", h.PostAnalysis)

		api.GET("/requests", h.ListRequests)
		api.GET("/requests/:id", h.GetRequest)

		api.GET("/usage", h.GetUsage)
	}
	return analysis
}

// limitBody caps the request body at maxBytes using http.MaxBytesReader.
// Reads past the cap fail with *http.MaxBytesError. maxBytes <= 0 disables it.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes <= 0 {
			c.Next()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
