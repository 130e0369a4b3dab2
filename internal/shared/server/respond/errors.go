package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"resume-tailor/internal/shared/telemetry"
)

// Machine-readable error codes returned in the envelope.
const (
	CodeValidation          = "validation_error"
	CodeUnauthorized        = "unauthorized"
	CodeNotFound            = "not_found"
	CodeInsufficientCredits = "insufficient_credits"
	CodeIdempotencyConflict = "idempotency_conflict"
	CodeRateLimited         = "rate_limited"
	CodeLedgerBusy          = "ledger_busy"
	CodeLLMUnavailable      = "llm_unavailable"
	CodeTimeout             = "timeout"
	CodeInternal            = "internal_error"
)

// ErrorBody is the payload under the "error" key.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse is the envelope every failed request returns.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error aborts the request with the envelope and logs it. Server faults log
// at error level; client faults at warn.
func Error(c *gin.Context, status int, code, message string, details any) {
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"route":      c.FullPath(),
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	}
	for key, field := range map[string]string{"userId": "user_id", "projectId": "project_id"} {
		if v := c.GetString(key); v != "" {
			fields[field] = v
		}
	}
	if status >= http.StatusInternalServerError {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.error", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{Error: ErrorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// Canceled reports a request whose context ended before the work finished.
func Canceled(c *gin.Context) {
	Error(c, http.StatusRequestTimeout, CodeTimeout, "request canceled", nil)
}

// Internal reports an unexpected failure without leaking its cause.
func Internal(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, CodeInternal, message, nil)
}
