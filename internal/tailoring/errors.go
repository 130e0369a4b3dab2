package tailoring

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrLLMUnavailable wraps any failure of the tailoring provider.
	ErrLLMUnavailable = errors.New("llm unavailable")
	// ErrIdempotencyConflict means the key was already used for a different
	// operation or project.
	ErrIdempotencyConflict = errors.New("idempotency key reused for a different request")
)
