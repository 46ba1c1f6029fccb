// Package services – AnalysisService
//
// This file implements the analysis pipeline. A request moves through
// Validating, QuotaChecking, Hashing and CacheLookup, then takes either the
// cache-hit path (no OCR, no model call) or the cache-miss path (OCR fan-out,
// prompt assembly, model call), and finally Persisting. On the miss path the
// result is written to the cache in the background once the record exists.
//
// Durable side effects (quota reservation, uploaded images, the record) are
// registered on a Saga as they happen; any later failure undoes them in
// reverse order. Every stage is a child span of the "Analyze" span.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-screenshot-advisor/internal/ai"
	"github.com/tbourn/go-screenshot-advisor/internal/cache"
	"github.com/tbourn/go-screenshot-advisor/internal/domain"
	"github.com/tbourn/go-screenshot-advisor/internal/hashing"
	"github.com/tbourn/go-screenshot-advisor/internal/ocr"
	"github.com/tbourn/go-screenshot-advisor/internal/prompt"
	"github.com/tbourn/go-screenshot-advisor/internal/quota"
	"github.com/tbourn/go-screenshot-advisor/internal/repo"
	"github.com/tbourn/go-screenshot-advisor/internal/storage"
)

// Pipeline stage names, used for spans, logs and stage metrics.
const (
	stageValidating    = "validating"
	stageQuotaChecking = "quota_checking"
	stageHashing       = "hashing"
	stageCacheLookup   = "cache_lookup"
	stageOCR           = "ocr"
	stagePrompt        = "prompt"
	stageAI            = "ai"
	stageUploading     = "uploading"
	stagePersisting    = "persisting"
	stageCacheWriting  = "cache_writing"
)

// Warning codes reported next to a successful result.
const (
	WarnOCRPartialFailure = "ocr_partial_failure"
	WarnNoTextDetected    = "no_text_detected"
)

// Defaults applied by NewAnalysisService.
const (
	DefaultMaxImages     = 5
	DefaultMaxImageBytes = 1 << 20
)

// AnalysisRepo is the persistence contract of the pipeline.
type AnalysisRepo interface {
	GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error)
	GetCategory(ctx context.Context, db *gorm.DB, id string) (*domain.Category, error)
	GetAdvice(ctx context.Context, db *gorm.DB, id, categoryID string) (*domain.Advice, error)
	ListPreferenceAnswers(ctx context.Context, db *gorm.DB, userID string) ([]repo.PreferenceAnswer, error)
	CreateRequest(ctx context.Context, db *gorm.DB, rec *domain.RequestRecord) error
}

// ImageUploader stores and removes the screenshots of one request.
type ImageUploader interface {
	UploadAll(ctx context.Context, userID, requestID string, images [][]byte) ([]string, error)
	DeleteAll(ctx context.Context, urls []string) []error
}

// QuotaGuard is satisfied by *quota.Guard.
type QuotaGuard interface {
	Check(ctx context.Context, s quota.Subject, requested int) (quota.Decision, error)
	CheckAndReserve(ctx context.Context, s quota.Subject, requested int) (quota.Decision, quota.Reservation, error)
	Status(ctx context.Context, s quota.Subject) (quota.Decision, error)
}

// AnalysisInput is one analysis request. Images are base64 payloads, with or
// without a data-URL prefix. OCRTexts optionally carries text the client
// already extracted, aligned by index with Images.
type AnalysisInput struct {
	UserID     string
	CategoryID string
	AdviceID   string
	Images     []string
	OCRTexts   []string
}

// Warning is a non-fatal condition of a successful analysis.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AnalysisResult is returned on success.
type AnalysisResult struct {
	RequestID  string    `json:"requestId"`
	OCRText    string    `json:"ocrText"`
	AIResponse string    `json:"aiResponse"`
	Cached     bool      `json:"cached"`
	ImageURLs  []string  `json:"imageUrls"`
	Warnings   []Warning `json:"warnings,omitempty"`
}

// AnalysisService runs the analysis pipeline.
type AnalysisService struct {
	DB     *gorm.DB
	Repo   AnalysisRepo
	Quota  QuotaGuard
	Cache  cache.Store
	OCR    ocr.Extractor
	AI     ai.Completer
	Images ImageUploader

	MaxImages     int
	MaxImageBytes int

	// Timeout bounds one pipeline run. Zero leaves it to the caller.
	Timeout time.Duration
	// CompensationTimeout bounds the rollback of a failed run.
	CompensationTimeout time.Duration

	Tasks *Background
}

// NewAnalysisService wires the pipeline with default limits.
func NewAnalysisService(db *gorm.DB, r AnalysisRepo, g QuotaGuard, c cache.Store, ex ocr.Extractor, model ai.Completer, images ImageUploader) *AnalysisService {
	return &AnalysisService{
		DB:                  db,
		Repo:                r,
		Quota:               g,
		Cache:               c,
		OCR:                 ex,
		AI:                  model,
		Images:              images,
		MaxImages:           DefaultMaxImages,
		MaxImageBytes:       DefaultMaxImageBytes,
		CompensationTimeout: 15 * time.Second,
		Tasks:               &Background{Timeout: 10 * time.Second},
	}
}

// Wait blocks until background cache writes have finished or ctx is done.
func (s *AnalysisService) Wait(ctx context.Context) error {
	if s.Tasks == nil {
		return nil
	}
	return s.Tasks.Wait(ctx)
}

// validated is the outcome of the Validating stage.
type validated struct {
	user     *domain.User
	category *domain.Category
	advice   *domain.Advice
	images   [][]byte
	digests  []string
	pre      []string
}

func (v *validated) subject() quota.Subject {
	return quota.Subject{UserID: v.user.ID, Role: v.user.Role, Limit: v.user.MaxDailyImages}
}

// Analyze runs the pipeline for in.
func (s *AnalysisService) Analyze(ctx context.Context, in AnalysisInput) (res *AnalysisResult, err error) {
	ctx, span := otel.Tracer("services/AnalysisService").Start(ctx, "Analyze",
		trace.WithAttributes(
			attribute.String("user.id", in.UserID),
			attribute.Int("images.count", len(in.Images)),
		),
	)
	defer span.End()

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	logger := zerolog.Ctx(ctx).With().Str("user_id", in.UserID).Logger()
	ctx = logger.WithContext(ctx)

	defer func() {
		switch {
		case err == nil && res.Cached:
			analysisRequests.WithLabelValues(outcomeHit).Inc()
		case err == nil:
			analysisRequests.WithLabelValues(outcomeMiss).Inc()
		case isRejection(err):
			analysisRequests.WithLabelValues(outcomeRejected).Inc()
			logger.Info().Err(err).Msg("analysis rejected")
		default:
			analysisRequests.WithLabelValues(outcomeFailed).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error().Err(err).Msg("analysis failed")
		}
	}()

	v, err := s.validate(ctx, in)
	if err != nil {
		return nil, err
	}

	if err := s.checkQuota(ctx, v); err != nil {
		return nil, err
	}

	_, done := s.stage(ctx, stageHashing)
	imagesHash := hashing.HashDigestSet(v.digests)
	textHash := hashing.HashPairedText(v.digests, v.pre)
	key := hashing.CacheKey(hashing.Fingerprint{
		CategoryID: v.category.ID,
		AdviceID:   v.advice.ID,
		TextHash:   textHash,
		ImagesHash: imagesHash,
		Model:      s.AI.Model(),
	})
	done()

	lctx, done := s.stage(ctx, stageCacheLookup)
	entry, lerr := s.Cache.Lookup(lctx, key)
	done()
	switch {
	case lerr == nil:
		cacheLookups.WithLabelValues("hit").Inc()
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return s.hit(ctx, v, entry)
	case errors.Is(lerr, cache.ErrMiss):
		cacheLookups.WithLabelValues("miss").Inc()
	default:
		cacheLookups.WithLabelValues("error").Inc()
		logger.Warn().Err(lerr).Msg("cache lookup failed, treating as miss")
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	return s.miss(ctx, v, key, textHash, imagesHash)
}

// hit serves a previously computed answer. Quota is still reserved and the
// new screenshots are still stored and recorded.
func (s *AnalysisService) hit(ctx context.Context, v *validated, entry *domain.CacheEntry) (*AnalysisResult, error) {
	cached := entry.Result.Data()
	rec, err := s.commit(ctx, v, cached.OCRText, cached.ModelResponse)
	if err != nil {
		return nil, err
	}
	return &AnalysisResult{
		RequestID:  rec.ID,
		OCRText:    rec.OCRText,
		AIResponse: rec.ModelResponse,
		Cached:     true,
		ImageURLs:  rec.ImageURLs,
	}, nil
}

// miss runs OCR and the model, commits the result and schedules the cache
// write.
func (s *AnalysisService) miss(ctx context.Context, v *validated, key, textHash, imagesHash string) (*AnalysisResult, error) {
	logger := zerolog.Ctx(ctx)

	octx, done := s.stage(ctx, stageOCR)
	batch := ocr.ExtractAll(octx, s.OCR, v.images, v.pre)
	done()
	for _, r := range batch.Results {
		switch {
		case r.Skipped:
			ocrImages.WithLabelValues("skipped").Inc()
		case r.Err != nil:
			ocrImages.WithLabelValues("failed").Inc()
			logger.Warn().Err(r.Err).Int("image", r.Index).Msg("ocr failed for image")
		default:
			ocrImages.WithLabelValues("ok").Inc()
		}
	}
	if batch.AllFailed() {
		return nil, fmt.Errorf("%w: all %d images failed", ErrOCRFailed, len(batch.Results))
	}

	var warnings []Warning
	text := batch.Text()
	if failed := batch.Failed(); failed > 0 {
		warnings = append(warnings, Warning{
			Code:    WarnOCRPartialFailure,
			Message: fmt.Sprintf("Text could not be read from %d of %d screenshots; the advice is based on the rest.", failed, len(batch.Results)),
		})
	} else if text == "" {
		warnings = append(warnings, Warning{
			Code:    WarnNoTextDetected,
			Message: "No text was detected in the screenshots; the advice is generic.",
		})
	}

	pctx, done := s.stage(ctx, stagePrompt)
	prefs, err := s.Repo.ListPreferenceAnswers(pctx, s.DB, v.user.ID)
	if err != nil {
		logger.Warn().Err(err).Msg("loading preferences failed, continuing without them")
		prefs = nil
	}
	system := prompt.SystemPrompt(*v.category)
	user := prompt.Build(prompt.Input{
		Category:    *v.category,
		Advice:      *v.advice,
		OCRText:     text,
		Preferences: prefs,
		ImageCount:  len(v.images),
	})
	done()

	actx, done := s.stage(ctx, stageAI)
	answer, err := s.AI.Complete(actx, system, user)
	done()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAIFailed, err)
	}

	rec, err := s.commit(ctx, v, text, answer)
	if err != nil {
		return nil, err
	}

	s.writeCache(ctx, &domain.CacheEntry{
		CacheKey:   key,
		RequestID:  rec.ID,
		CategoryID: v.category.ID,
		AdviceID:   v.advice.ID,
		TextHash:   textHash,
		ImagesKey:  imagesHash,
		Result:     datatypes.NewJSONType(domain.CacheResult{ModelResponse: answer, OCRText: text}),
	})

	return &AnalysisResult{
		RequestID:  rec.ID,
		OCRText:    rec.OCRText,
		AIResponse: rec.ModelResponse,
		ImageURLs:  rec.ImageURLs,
		Warnings:   warnings,
	}, nil
}

// commit performs the durable writes shared by both paths: reserve quota,
// upload the screenshots, insert the record. A failure undoes what this
// call already did.
func (s *AnalysisService) commit(ctx context.Context, v *validated, ocrText, answer string) (*domain.RequestRecord, error) {
	saga := &Saga{Timeout: s.CompensationTimeout, Observe: observeRollback}

	d, reservation, err := s.Quota.CheckAndReserve(ctx, v.subject(), len(v.images))
	if err != nil {
		return nil, fmt.Errorf("reserve quota: %w", err)
	}
	if d.Exceeded {
		return nil, &QuotaExceededError{Decision: d}
	}
	saga.Add("quota_release", reservation.Release)

	requestID := uuid.NewString()
	ctx = zerolog.Ctx(ctx).With().Str("request_id", requestID).Logger().WithContext(ctx)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("request.id", requestID))

	uctx, done := s.stage(ctx, stageUploading)
	urls, err := s.Images.UploadAll(uctx, v.user.ID, requestID, v.images)
	done()
	if err != nil {
		saga.Compensate(ctx)
		return nil, fmt.Errorf("%w: %w", ErrStorageFailed, err)
	}
	saga.Add("image_delete", func(cctx context.Context) error {
		return errors.Join(s.Images.DeleteAll(cctx, urls)...)
	})

	rec := &domain.RequestRecord{
		ID:            requestID,
		UserID:        v.user.ID,
		CategoryID:    v.category.ID,
		AdviceID:      v.advice.ID,
		OCRText:       ocrText,
		ModelResponse: answer,
		ImageURLs:     urls,
	}
	pctx, done := s.stage(ctx, stagePersisting)
	err = s.Repo.CreateRequest(pctx, s.DB, rec)
	done()
	if err != nil {
		saga.Compensate(ctx)
		return nil, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	return rec, nil
}

// writeCache stores the entry off the response path. Failures are counted
// and logged only.
func (s *AnalysisService) writeCache(ctx context.Context, e *domain.CacheEntry) {
	write := func(ctx context.Context) error {
		wctx, done := s.stage(ctx, stageCacheWriting)
		defer done()
		if err := s.Cache.Insert(wctx, e); err != nil {
			cacheWriteFailures.Inc()
			return fmt.Errorf("cache write: %w", err)
		}
		return nil
	}
	if s.Tasks == nil {
		if err := write(context.WithoutCancel(ctx)); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("cache write failed")
		}
		return
	}
	s.Tasks.Go(ctx, stageCacheWriting, write)
}

func (s *AnalysisService) checkQuota(ctx context.Context, v *validated) error {
	qctx, done := s.stage(ctx, stageQuotaChecking)
	defer done()
	d, err := s.Quota.Check(qctx, v.subject(), len(v.images))
	if err != nil {
		return fmt.Errorf("check quota: %w", err)
	}
	if d.Exceeded {
		return &QuotaExceededError{Decision: d}
	}
	return nil
}

// validate checks identity, input shape and catalog references. It has no
// side effects.
func (s *AnalysisService) validate(ctx context.Context, in AnalysisInput) (*validated, error) {
	ctx, done := s.stage(ctx, stageValidating)
	defer done()

	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil, ErrUnauthorized
	}
	user, err := s.Repo.GetUser(ctx, s.DB, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.Approved {
		return nil, ErrNotApproved
	}

	categoryID := strings.TrimSpace(in.CategoryID)
	adviceID := strings.TrimSpace(in.AdviceID)
	if categoryID == "" {
		return nil, invalid("categoryId", "is required")
	}
	if adviceID == "" {
		return nil, invalid("adviceId", "is required")
	}

	maxImages := s.MaxImages
	if maxImages <= 0 {
		maxImages = DefaultMaxImages
	}
	maxBytes := s.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	switch n := len(in.Images); {
	case n == 0:
		return nil, invalid("images", "at least one image is required")
	case n > maxImages:
		return nil, invalid("images", "at most %d images are allowed, got %d", maxImages, n)
	}
	if len(in.OCRTexts) > len(in.Images) {
		return nil, invalid("ocrTexts", "has %d entries for %d images", len(in.OCRTexts), len(in.Images))
	}

	v := &validated{
		user:    user,
		images:  make([][]byte, len(in.Images)),
		digests: make([]string, len(in.Images)),
		pre:     make([]string, len(in.Images)),
	}
	for i, payload := range in.Images {
		field := fmt.Sprintf("images[%d]", i)
		b, err := hashing.DecodeImage(payload)
		if err != nil {
			return nil, invalid(field, "is not valid base64")
		}
		if len(b) == 0 {
			return nil, invalid(field, "is empty")
		}
		if len(b) > maxBytes {
			return nil, invalid(field, "is %d bytes, the limit is %d", len(b), maxBytes)
		}
		if _, _, err := storage.SniffImage(b); err != nil {
			return nil, invalid(field, "is not a PNG, JPEG, WebP or GIF image")
		}
		v.images[i] = b
		v.digests[i] = hashing.HashBytes(b)
	}
	copy(v.pre, in.OCRTexts)

	v.category, err = s.Repo.GetCategory(ctx, s.DB, categoryID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidCategory
		}
		return nil, fmt.Errorf("load category: %w", err)
	}
	v.advice, err = s.Repo.GetAdvice(ctx, s.DB, adviceID, categoryID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidAdvice
		}
		return nil, fmt.Errorf("load advice: %w", err)
	}
	return v, nil
}

// stage opens a child span for name and returns a func that ends it and
// records the stage duration.
func (s *AnalysisService) stage(ctx context.Context, name string) (context.Context, func()) {
	start := time.Now()
	ctx, span := otel.Tracer("services/AnalysisService").Start(ctx, name)
	zerolog.Ctx(ctx).Debug().Str("stage", name).Msg("pipeline stage")
	return ctx, func() {
		stageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		span.End()
	}
}

// isRejection reports errors caused by the caller rather than the system.
func isRejection(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidCategory) ||
		errors.Is(err, ErrInvalidAdvice) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrNotApproved) ||
		errors.Is(err, ErrQuotaExceeded)
}
