// Package services implements the analysis pipeline and the read side of
// stored analyses. This file centralizes service-level error values so they
// can be returned consistently by service methods and checked by callers.
//
// Translation into user-facing messages and HTTP status codes is performed
// at the handler layer.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-screenshot-advisor/internal/quota"
)

var (
	// ErrValidation marks bad, missing or oversized input. No side effects
	// have happened when it is returned.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidCategory is returned when the category does not exist.
	ErrInvalidCategory = errors.New("category not found")

	// ErrInvalidAdvice is returned when the advice does not exist or does
	// not belong to the selected category.
	ErrInvalidAdvice = errors.New("advice not found for category")

	// ErrUnauthorized is returned when the caller is not a known user.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotApproved is returned for users whose account is not approved yet.
	ErrNotApproved = errors.New("user not approved")

	// ErrQuotaExceeded is matched by *QuotaExceededError.
	ErrQuotaExceeded = errors.New("daily image quota exceeded")

	// ErrOCRFailed is returned when text extraction failed for every image.
	ErrOCRFailed = errors.New("text extraction failed")

	// ErrAIFailed is returned when the model call fails or returns nothing usable.
	ErrAIFailed = errors.New("advice generation failed")

	// ErrStorageFailed is returned when the screenshots could not be stored.
	ErrStorageFailed = errors.New("image upload failed")

	// ErrPersistFailed is returned when the analysis record could not be written.
	ErrPersistFailed = errors.New("saving the analysis failed")

	// ErrRequestNotFound indicates that the analysis does not exist or is
	// not owned by the current user.
	ErrRequestNotFound = errors.New("analysis not found")
)

// ValidationError describes which input was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// QuotaExceededError carries the decision that denied the request so the
// caller can report remaining images and the reset time.
type QuotaExceededError struct {
	Decision quota.Decision
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily image quota exceeded: %d of %d used, %d requested",
		e.Decision.Used, e.Decision.Limit, e.Decision.Requested)
}

// Is makes errors.Is(err, ErrQuotaExceeded) hold.
func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }
