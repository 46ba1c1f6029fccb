// Package handlers defines the HTTP endpoints of the screenshot advisor and
// the error taxonomy they share.
//
// Every failure is written as an ErrorResponse whose `error` field is one of
// the codes below. Clients branch on the code; `title` and `message` are for
// display.
//
//	{
//	  "requestId": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "error": "quota_exceeded",
//	  "title": "Daily limit reached",
//	  "message": "You can analyze 2 more screenshots today."
//	}
package handlers

const (
	ErrCodeValidation       = "validation_error"
	ErrCodeInvalidCategory  = "invalid_category"
	ErrCodeInvalidAdvice    = "invalid_advice"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotApproved      = "not_approved"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeQuotaExceeded    = "quota_exceeded"
	ErrCodeInternal         = "internal_error"

	// Another request with the same Idempotency-Key is still running.
	ErrCodeIdempotencyInProgress = "idempotency_in_progress"

	// Pipeline stages that talk to a vendor or to storage.
	ErrCodeOCRFailed     = "ocr_failed"
	ErrCodeAIFailed      = "ai_failed"
	ErrCodeStorageFailed = "storage_failed"
	ErrCodePersistFailed = "persist_failed"
)
