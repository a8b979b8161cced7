package uploader

import (
	"fmt"
	"net/http"

	"crosspost/internal/services"
)

// classifyStatus maps an HTTP status from a platform API to the error
// taxonomy so the pipeline can decide between retry and permanent failure.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return services.ErrAuthRejected
	case status == http.StatusTooManyRequests:
		return services.ErrQuotaExceeded
	case status >= 400 && status < 500:
		return services.ErrInvalidMedia
	default:
		return services.ErrTransport
	}
}

func statusError(platform, operation string, status int, body string) error {
	message := fmt.Sprintf("%s returned %d", platform, status)
	if body != "" {
		message = fmt.Sprintf("%s: %s", message, body)
	}
	return services.Wrap(classifyStatus(status), platform, operation, message, nil)
}
