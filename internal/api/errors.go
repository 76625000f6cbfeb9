package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"legaldemo/internal/demo"
)

var statusByCode = map[string]int{
	demo.CodeInvalidRequest:       http.StatusBadRequest,
	demo.CodeUnsupportedMediaType: http.StatusUnsupportedMediaType,
	demo.CodePayloadTooLarge:      http.StatusRequestEntityTooLarge,
	demo.CodeExtractionFailed:     http.StatusUnprocessableEntity,
	demo.CodeAlreadyBound:         http.StatusConflict,
	demo.CodeNotFound:             http.StatusNotFound,
	demo.CodeNoDocument:           http.StatusConflict,
	demo.CodeLimitExceeded:        http.StatusTooManyRequests,
	demo.CodeGenerationFailed:     http.StatusBadGateway,
	demo.CodeAllocationFailed:     http.StatusServiceUnavailable,
	demo.CodeStorageFailed:        http.StatusInternalServerError,
	demo.CodeRateLimited:          http.StatusTooManyRequests,
	demo.CodeInternal:             http.StatusInternalServerError,
}

var publicMessages = map[string]string{
	demo.CodeUnsupportedMediaType: "Unsupported file type. Upload a PDF, DOCX, Markdown or plain text document.",
	demo.CodePayloadTooLarge:      "File is too large.",
	demo.CodeExtractionFailed:     "Could not read any text from this document.",
	demo.CodeAlreadyBound:         "This demo session already has a document. Reset it to upload another.",
	demo.CodeNotFound:             "Demo session not found or expired.",
	demo.CodeNoDocument:           "Upload a document before asking questions.",
	demo.CodeLimitExceeded:        "You have reached the question limit for the demo. Please sign up for unlimited access.",
	demo.CodeGenerationFailed:     "Sorry, I encountered an error processing your question.",
	demo.CodeAllocationFailed:     "Could not start a demo session, please retry.",
	demo.CodeStorageFailed:        "Document storage is unavailable, please retry.",
	demo.CodeRateLimited:          "Too many requests, please slow down.",
	demo.CodeInternal:             "Internal server error.",
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type errorEnvelope struct {
	Error              errorBody `json:"error"`
	QuestionsRemaining *int      `json:"questions_remaining,omitempty"`
}

type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func (e *requestError) Unwrap() error { return demo.ErrInvalidRequest }

func invalidRequest(msg string) error {
	return &requestError{msg: msg}
}

func statusFor(code string) int {
	if st, ok := statusByCode[code]; ok {
		return st
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(c *gin.Context, err error) {
	code := demo.Code(err)
	status := statusFor(code)
	msg := publicMessages[code]
	if code == demo.CodeInvalidRequest {
		msg = err.Error()
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "path", c.FullPath(), "code", code, "error", err)
	}
	abortWithError(c, status, code, msg, err)
}

func abortWithError(c *gin.Context, status int, code, msg string, err error) {
	body := errorEnvelope{Error: errorBody{
		Code:      code,
		Message:   msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}}
	if remaining, ok := demo.Remaining(err); ok {
		body.QuestionsRemaining = &remaining
	}
	if err != nil {
		_ = c.Error(fmt.Errorf("%s: %w", code, err))
	}
	c.AbortWithStatusJSON(status, body)
}
