// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, database and Redis connectivity, the analysis pipeline limits,
// OCR/AI vendor credentials, object storage, rate limiting and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "screenshot-advisor")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the SQL backend.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file path
	URL    string // Postgres DSN
}

// PipelineConfig bounds a single analysis request.
type PipelineConfig struct {
	MaxImages           int           // MAX_IMAGES_PER_REQUEST
	MaxImageBytes       int           // MAX_IMAGE_BYTES (decoded)
	MaxDailyImages      int           // MAX_DAILY_IMAGES, default per-user limit
	UnlimitedRoles      []string      // UNLIMITED_ROLES
	CacheTTL            time.Duration // CACHE_TTL
	Timeout             time.Duration // PIPELINE_TIMEOUT, 0 = request context only
	CompensationTimeout time.Duration // COMPENSATION_TIMEOUT
}

// OCRConfig configures the Cloud Vision client.
type OCRConfig struct {
	APIKey        string
	Endpoint      string
	LanguageHints []string
}

// AIConfig configures the Gemini client and its sampling parameters.
type AIConfig struct {
	APIKey          string
	Model           string
	Temperature     float64
	TopP            float64
	MaxOutputTokens int
}

// StorageConfig selects and configures the object store for screenshots.
type StorageConfig struct {
	Driver        string // gcs|minio|memory
	Bucket        string
	PublicBaseURL string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOUseSSL    bool
}

// SweepConfig controls the orphaned-image reconciliation loop.
type SweepConfig struct {
	Enabled  bool
	Interval time.Duration
	Grace    time.Duration
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 90s, AI calls are slow
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	MaxBodyBytes      int64         // request body ceiling
	ShutdownTimeout   time.Duration
	GinMode           string // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Persistence
	DB       DBConfig
	RedisURL string // optional; enables Redis quota counter and cache front

	// Analysis pipeline and its vendors
	Pipeline PipelineConfig
	OCR      OCRConfig
	AI       AIConfig
	Storage  StorageConfig
	Sweep    SweepConfig

	// Auth
	JWTSecret string // HS256; empty trusts X-User-ID (development)

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 90*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      int64(getint("MAX_BODY_BYTES", 8<<20)),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 15*time.Second),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Persistence
		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "app.db"),
			URL:    getenv("DATABASE_URL", ""),
		},
		RedisURL: getenv("REDIS_URL", ""),

		Pipeline: PipelineConfig{
			MaxImages:           getint("MAX_IMAGES_PER_REQUEST", 5),
			MaxImageBytes:       getint("MAX_IMAGE_BYTES", 1<<20),
			MaxDailyImages:      getint("MAX_DAILY_IMAGES", 20),
			UnlimitedRoles:      splitCSV(getenv("UNLIMITED_ROLES", "admin")),
			CacheTTL:            getdur("CACHE_TTL", 7*24*time.Hour),
			Timeout:             getdur("PIPELINE_TIMEOUT", 0),
			CompensationTimeout: getdur("COMPENSATION_TIMEOUT", 15*time.Second),
		},
		OCR: OCRConfig{
			APIKey:        getenv("OCR_API_KEY", ""),
			Endpoint:      getenv("OCR_ENDPOINT", ""),
			LanguageHints: splitCSV(getenv("OCR_LANGUAGE_HINTS", "")),
		},
		AI: AIConfig{
			APIKey:          getenv("AI_API_KEY", ""),
			Model:           getenv("AI_MODEL", "gemini-1.5-flash"),
			Temperature:     getfloat("AI_TEMPERATURE", 0.7),
			TopP:            getfloat("AI_TOP_P", 0.95),
			MaxOutputTokens: getint("AI_MAX_OUTPUT_TOKENS", 2048),
		},
		Storage: StorageConfig{
			Driver:         strings.ToLower(getenv("STORAGE_DRIVER", "memory")),
			Bucket:         getenv("STORAGE_BUCKET", "screenshots"),
			PublicBaseURL:  getenv("STORAGE_PUBLIC_BASE_URL", ""),
			MinIOEndpoint:  getenv("MINIO_ENDPOINT", "localhost:9000"),
			MinIOAccessKey: getenv("MINIO_ACCESS_KEY", ""),
			MinIOSecretKey: getenv("MINIO_SECRET_KEY", ""),
			MinIOUseSSL:    getbool("MINIO_USE_SSL", false),
		},
		Sweep: SweepConfig{
			Enabled:  getbool("SWEEP_ENABLED", false),
			Interval: getdur("SWEEP_INTERVAL", time.Hour),
			Grace:    getdur("SWEEP_GRACE", 6*time.Hour),
		},

		JWTSecret: getenv("AUTH_JWT_SECRET", ""),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 2.0),
		RateBurst: getint("RATE_BURST", 5),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "screenshot-advisor"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = "postgres"
	}
	cfg.Storage.PublicBaseURL = strings.TrimRight(cfg.Storage.PublicBaseURL, "/")

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return cfg, errors.New("MAX_BODY_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.Pipeline.MaxImages < 1 {
		return cfg, errors.New("MAX_IMAGES_PER_REQUEST must be >= 1")
	}
	if cfg.Pipeline.MaxImageBytes <= 0 {
		return cfg, errors.New("MAX_IMAGE_BYTES must be > 0")
	}
	if cfg.Pipeline.MaxDailyImages < 0 {
		return cfg, errors.New("MAX_DAILY_IMAGES must be >= 0")
	}
	if cfg.Pipeline.CacheTTL <= 0 {
		return cfg, errors.New("CACHE_TTL must be > 0")
	}
	if cfg.Pipeline.Timeout < 0 || cfg.Pipeline.CompensationTimeout <= 0 {
		return cfg, errors.New("PIPELINE_TIMEOUT must be >= 0 and COMPENSATION_TIMEOUT > 0")
	}
	if cfg.AI.Temperature < 0 || cfg.AI.Temperature > 2 {
		return cfg, errors.New("AI_TEMPERATURE must be between 0 and 2")
	}
	if cfg.AI.TopP < 0 || cfg.AI.TopP > 1 {
		return cfg, errors.New("AI_TOP_P must be between 0 and 1")
	}
	if cfg.AI.MaxOutputTokens <= 0 {
		return cfg, errors.New("AI_MAX_OUTPUT_TOKENS must be > 0")
	}
	switch cfg.Storage.Driver {
	case "gcs", "memory":
	case "minio":
		if cfg.Storage.MinIOEndpoint == "" {
			return cfg, errors.New("MINIO_ENDPOINT is required when STORAGE_DRIVER=minio")
		}
	default:
		return cfg, errors.New("STORAGE_DRIVER must be one of: gcs, minio, memory")
	}
	if strings.TrimSpace(cfg.Storage.Bucket) == "" {
		return cfg, errors.New("STORAGE_BUCKET must not be empty")
	}
	if cfg.Sweep.Enabled && (cfg.Sweep.Interval <= 0 || cfg.Sweep.Grace <= 0) {
		return cfg, errors.New("SWEEP_INTERVAL and SWEEP_GRACE must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
