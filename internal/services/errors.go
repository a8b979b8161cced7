package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransport marks network and download failures. Retryable.
	ErrTransport = errors.New("transport error")
	// ErrTranscode marks external encoder failures. Retryable up to the attempt budget.
	ErrTranscode = errors.New("transcode error")
	// ErrCredentialExpired marks a refresh token that is invalid or revoked.
	// Requires user re-authorization; never retried.
	ErrCredentialExpired = errors.New("credential expired")
	// ErrAuthRejected marks a credential the platform refused for an upload. Not retryable.
	ErrAuthRejected = errors.New("auth rejected")
	// ErrQuotaExceeded marks a platform rate or quota limit. Retryable with backoff.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrInvalidMedia marks media the platform permanently rejects. Not retryable.
	ErrInvalidMedia = errors.New("invalid media")
	// ErrValidation marks rejected input. Not retryable.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks missing or malformed configuration. Not retryable.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks a missing record. Not retryable.
	ErrNotFound = errors.New("not found")
	// ErrTimeout marks an exceeded per-call deadline. Treated as transient.
	ErrTimeout = errors.New("timeout")
	// ErrInternal marks unexpected failures. Retryable up to the attempt budget.
	ErrInternal = errors.New("internal error")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrInternal
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a failure may succeed on a later attempt. The
// workflow manager reschedules retryable failures under the backoff policy
// and fails everything else terminally.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrCredentialExpired),
		errors.Is(err, ErrAuthRejected),
		errors.Is(err, ErrInvalidMedia),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrNotFound):
		return false
	default:
		return true
	}
}

// Kind returns the stable name of the error's classification for persistence
// in per-platform results and structured logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTransport):
		return "transient_network"
	case errors.Is(err, ErrTranscode):
		return "transcode"
	case errors.Is(err, ErrCredentialExpired):
		return "credential_expired"
	case errors.Is(err, ErrAuthRejected):
		return "auth_rejected"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrInvalidMedia):
		return "invalid_media"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "internal"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
