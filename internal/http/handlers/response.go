package handlers

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-screenshot-advisor/internal/http/middleware"
	"github.com/tbourn/go-screenshot-advisor/internal/services"
)

// ErrorResponse is the error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"requestId,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go)
	Error string `json:"error" example:"validation_error"`
	// Short heading for display
	Title string `json:"title" example:"Invalid request"`
	// Human-readable message, safe to show to users
	Message string `json:"message" example:"images: at most 5 screenshots per request"`
	// Structured extras, e.g. quota figures
	Details map[string]any `json:"details,omitempty" swaggertype:"object"`
}

// fail aborts with an ErrorResponse. 5xx responses are logged with the
// request-scoped logger.
func fail(c *gin.Context, status int, code, title, msg string) {
	failWith(c, status, ErrorResponse{Error: code, Title: title, Message: msg})
}

func failWith(c *gin.Context, status int, resp ErrorResponse) {
	resp.RequestID = middleware.RequestIDFrom(c)
	if resp.RequestID == "" {
		resp.RequestID = c.Writer.Header().Get("X-Request-ID")
	}
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", resp.Error).
			Str("message", resp.Message).
			Msg("api error")
	}
	middleware.SetErrorCode(c, resp.Error)
	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail for the router's NoRoute/NoMethod.
func Fail(c *gin.Context, status int, code, title, msg string) { fail(c, status, code, title, msg) }

// failErr maps a service error onto status, code and a user-safe message.
// The underlying error is logged, never echoed.
func failErr(c *gin.Context, err error) {
	var (
		verr  *services.ValidationError
		qerr  *services.QuotaExceededError
		lg    = middleware.LoggerFrom(c)
		fault = func(code, title, msg string) {
			lg.Error().Err(err).Str("code", code).Msg("analysis failed")
			fail(c, http.StatusInternalServerError, code, title, msg)
		}
	)

	switch {
	case errors.As(err, &verr):
		fail(c, http.StatusBadRequest, ErrCodeValidation, "Invalid request", verr.Error())
	case errors.Is(err, services.ErrInvalidCategory):
		fail(c, http.StatusBadRequest, ErrCodeInvalidCategory, "Unknown category", "the selected category does not exist")
	case errors.Is(err, services.ErrInvalidAdvice):
		fail(c, http.StatusBadRequest, ErrCodeInvalidAdvice, "Unknown advice", "the selected advice does not belong to this category")
	case errors.Is(err, services.ErrUnauthorized):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "Not signed in", "sign in to analyze screenshots")
	case errors.Is(err, services.ErrNotApproved):
		fail(c, http.StatusForbidden, ErrCodeNotApproved, "Account pending", "your account has not been approved yet")
	case errors.As(err, &qerr):
		quotaExceeded(c, qerr)
	case errors.Is(err, services.ErrRequestNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "Not found", "analysis not found")
	case errors.Is(err, services.ErrOCRFailed):
		fault(ErrCodeOCRFailed, "Could not read screenshots", "no text could be extracted from the screenshots; try clearer images")
	case errors.Is(err, services.ErrAIFailed):
		fault(ErrCodeAIFailed, "Advice unavailable", "the advice service did not respond; please try again")
	case errors.Is(err, services.ErrStorageFailed):
		fault(ErrCodeStorageFailed, "Upload failed", "the screenshots could not be stored; please try again")
	case errors.Is(err, services.ErrPersistFailed):
		fault(ErrCodePersistFailed, "Save failed", "the analysis could not be saved; please try again")
	default:
		fault(ErrCodeInternal, "Server error", "internal server error")
	}
}

// quotaExceeded writes a 429 with the quota figures and a Retry-After that
// points at the next UTC midnight.
func quotaExceeded(c *gin.Context, qerr *services.QuotaExceededError) {
	d := qerr.Decision
	retry := int(math.Ceil(time.Until(d.ResetAt).Seconds()))
	if retry < 1 {
		retry = 1
	}
	c.Header("Retry-After", strconv.Itoa(retry))

	msg := "you have used all of today's screenshot analyses"
	if d.RemainingImages > 0 {
		msg = fmt.Sprintf("only %d more screenshot(s) can be analyzed today", d.RemainingImages)
	}
	failWith(c, http.StatusTooManyRequests, ErrorResponse{
		Error:   ErrCodeQuotaExceeded,
		Title:   "Daily limit reached",
		Message: msg,
		Details: map[string]any{
			"limit":           d.Limit,
			"used":            d.Used,
			"remainingImages": d.RemainingImages,
			"resetAt":         d.ResetAt.UTC().Format(time.RFC3339),
		},
	})
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
