// Analysis HTTP handlers.
//
//   - POST /analyses   run the screenshot pipeline (idempotent with a key)
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-screenshot-advisor/internal/domain"
	"github.com/tbourn/go-screenshot-advisor/internal/http/middleware"
	"github.com/tbourn/go-screenshot-advisor/internal/services"
)

//
// Service contracts (context-aware)
//

// AnalysisService runs one analysis end to end.
type AnalysisService interface {
	Analyze(ctx context.Context, in services.AnalysisInput) (*services.AnalysisResult, error)
}

// HistoryService reads stored analyses and today's quota state.
type HistoryService interface {
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.RequestRecord, int64, error)
	Get(ctx context.Context, userID, id string) (*domain.RequestRecord, error)
	// Stats returns the count and latest creation time used for ETags.
	Stats(ctx context.Context, userID string) (int64, *time.Time, error)
	Usage(ctx context.Context, userID string) (*services.Usage, error)
}

// ReplayStore maps Idempotency-Keys to completed analyses. Reserve claims a
// key for the request about to run the pipeline; Release or Remember ends
// the claim.
type ReplayStore interface {
	Lookup(ctx context.Context, userID, key string) (*services.AnalysisResult, bool)
	Reserve(ctx context.Context, userID, key string) (bool, error)
	Release(ctx context.Context, userID, key string)
	Remember(ctx context.Context, userID, key, requestID string, status int)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints. Any dependency may be nil in tests
// that do not exercise it.
type Handlers struct {
	analysis AnalysisService
	history  HistoryService
	replay   ReplayStore
}

// New constructs Handlers bound to the given services.
func New(analysis AnalysisService, history HistoryService, replay ReplayStore) *Handlers {
	return &Handlers{analysis: analysis, history: history, replay: replay}
}

// userID returns the identity set by the auth middleware, or "".
func userID(c *gin.Context) string {
	return middleware.UserID(c)
}

//
// DTOs
//

// AnalyzeRequest is the JSON payload of POST /analyses.
type AnalyzeRequest struct {
	CategoryID string `json:"categoryId" example:"fps"`
	AdviceID   string `json:"adviceId"   example:"aim"`
	// Base64 screenshots, optionally as data URLs. 1 to 5 images, each at most 1 MiB decoded.
	Images []string `json:"images"`
	// Optional text already extracted by the client, aligned with images.
	OCRTexts []string `json:"ocrTexts,omitempty"`
}

//
// Handlers
//

// PostAnalysis godoc
// @ID          postAnalysis
// @Summary     Analyze gameplay screenshots
// @Description Extracts text from 1-5 screenshots, asks the model for advice in the selected category and stores the result.
// @Description Identical inputs within the cache window are answered from cache (`cached: true`) but still count against the daily quota.
// @Description Supports idempotency via the Idempotency-Key header (same key, same result, no second quota charge).
// @Tags        Analyses
// @Accept      json
// @Produce     json
//
// @Param       Authorization    header  string  false "Bearer token"
// @Param       X-User-ID        header  string  false "User ID (development mode only)"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.AnalyzeRequest  true  "Screenshots and selection"
//
// @Success     200  {object}  services.AnalysisResult
// @Header      200  {string}  Idempotency-Replayed  "true when served from a previous request"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid input, category or advice"
// @Failure     401  {object}  handlers.ErrorResponse  "Not authenticated"
// @Failure     403  {object}  handlers.ErrorResponse  "Account not approved"
// @Failure     409  {object}  handlers.ErrorResponse  "A request with this Idempotency-Key is still running"
// @Failure     429  {object}  handlers.ErrorResponse  "Daily quota exceeded or rate limited"
// @Header      429  {integer} Retry-After  "Seconds until the quota resets"
// @Failure     500  {object}  handlers.ErrorResponse  "OCR, AI, storage or persistence failure"
// @Router      /analyses [post]
func (h *Handlers) PostAnalysis(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	if uid == "" {
		failErr(c, services.ErrUnauthorized)
		return
	}

	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusBadRequest, ErrCodeValidation, "Invalid request",
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeValidation, "Invalid request", "invalid JSON body")
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	held := false
	if idemKey != "" && h.replay != nil {
		if middleware.IsReplay(c) {
			if prev, found := h.replay.Lookup(ctx, uid, idemKey); found {
				replayed(c, prev)
				return
			}
		}
		reserved, err := h.replay.Reserve(ctx, uid, idemKey)
		switch {
		case err != nil:
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency reservation failed, running unguarded")
		case !reserved:
			// Completed between the middleware check and the reservation.
			if prev, found := h.replay.Lookup(ctx, uid, idemKey); found {
				replayed(c, prev)
				return
			}
			c.Header("Retry-After", "1")
			fail(c, http.StatusConflict, ErrCodeIdempotencyInProgress, "Request in progress",
				"a request with this Idempotency-Key is still being processed; retry shortly")
			return
		default:
			held = true
		}
	}

	res, err := h.analysis.Analyze(ctx, services.AnalysisInput{
		UserID:     uid,
		CategoryID: strings.TrimSpace(req.CategoryID),
		AdviceID:   strings.TrimSpace(req.AdviceID),
		Images:     req.Images,
		OCRTexts:   req.OCRTexts,
	})
	if err != nil {
		if held {
			h.replay.Release(context.WithoutCancel(ctx), uid, idemKey)
		}
		failErr(c, err)
		return
	}

	if held {
		h.replay.Remember(context.WithoutCancel(ctx), uid, idemKey, res.RequestID, http.StatusOK)
	}
	ok(c, http.StatusOK, res)
}

func replayed(c *gin.Context, prev *services.AnalysisResult) {
	c.Header("Idempotency-Replayed", "true")
	ok(c, http.StatusOK, prev)
}
