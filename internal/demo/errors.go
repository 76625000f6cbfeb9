package demo

import (
	"errors"
	"fmt"

	"legaldemo/internal/session"
)

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrPayloadTooLarge      = errors.New("payload too large")
	ErrExtractionFailed     = errors.New("text extraction failed")
	ErrNoDocument           = errors.New("session has no document")
	ErrLimitExceeded        = errors.New("question limit reached")
	ErrGenerationFailed     = errors.New("answer generation failed")
	ErrStorage              = errors.New("document storage failed")
)

// Stable error codes exposed to clients.
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
	CodePayloadTooLarge      = "PAYLOAD_TOO_LARGE"
	CodeExtractionFailed     = "EXTRACTION_FAILED"
	CodeAlreadyBound         = "ALREADY_BOUND"
	CodeNotFound             = "NOT_FOUND"
	CodeNoDocument           = "NO_DOCUMENT"
	CodeLimitExceeded        = "LIMIT_EXCEEDED"
	CodeGenerationFailed     = "GENERATION_FAILED"
	CodeAllocationFailed     = "ALLOCATION_FAILED"
	CodeStorageFailed        = "STORAGE_FAILED"
	CodeRateLimited          = "RATE_LIMITED"
	CodeInternal             = "INTERNAL"
)

// QuestionError is returned by Ask once the counter has been evaluated, so
// callers can still report how many questions are left.
type QuestionError struct {
	Err       error
	Remaining int
}

func (e *QuestionError) Error() string {
	return fmt.Sprintf("%v (questions remaining: %d)", e.Err, e.Remaining)
}

func (e *QuestionError) Unwrap() error { return e.Err }

// Remaining extracts the remaining question count carried by err, if any.
func Remaining(err error) (int, bool) {
	var qe *QuestionError
	if errors.As(err, &qe) {
		return qe.Remaining, true
	}
	return 0, false
}

// Code maps err to its stable code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrUnsupportedMediaType):
		return CodeUnsupportedMediaType
	case errors.Is(err, ErrPayloadTooLarge):
		return CodePayloadTooLarge
	case errors.Is(err, ErrExtractionFailed):
		return CodeExtractionFailed
	case errors.Is(err, session.ErrAlreadyBound):
		return CodeAlreadyBound
	case errors.Is(err, session.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrNoDocument):
		return CodeNoDocument
	case errors.Is(err, ErrLimitExceeded):
		return CodeLimitExceeded
	case errors.Is(err, ErrGenerationFailed):
		return CodeGenerationFailed
	case errors.Is(err, session.ErrAllocation):
		return CodeAllocationFailed
	case errors.Is(err, ErrStorage):
		return CodeStorageFailed
	default:
		return CodeInternal
	}
}
