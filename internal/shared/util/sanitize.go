package util

import (
	"errors"
	"strings"
	"unicode"
)

// MaxIdempotencyKeyLen bounds client-supplied Idempotency-Key values.
const MaxIdempotencyKeyLen = 200

var ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")

// IdempotencyKey trims a client-supplied key and rejects overlong values or
// ones containing control characters. An empty key is valid and means the
// request is not deduplicated.
func IdempotencyKey(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if len(s) > MaxIdempotencyKeyLen {
		return "", ErrInvalidIdempotencyKey
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return "", ErrInvalidIdempotencyKey
		}
	}
	return s, nil
}
