package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"crosspost/internal/services"
)

func TestWrapKeepsMarkerMatchable(t *testing.T) {
	cause := errors.New("connection reset")
	err := services.Wrap(services.ErrTransport, "fetch", "download", "source media", cause)
	if !errors.Is(err, services.ErrTransport) {
		t.Fatalf("expected wrapped error to match ErrTransport, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped error to match cause, got %v", err)
	}
	if !strings.Contains(err.Error(), "fetch: download: source media") {
		t.Fatalf("expected detail in message, got %q", err.Error())
	}
}

func TestWrapDefaultsToInternal(t *testing.T) {
	err := services.Wrap(nil, "fanout", "", "", nil)
	if !errors.Is(err, services.ErrInternal) {
		t.Fatalf("expected nil marker to default to ErrInternal, got %v", err)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{services.ErrTransport, true},
		{services.ErrTranscode, true},
		{services.ErrQuotaExceeded, true},
		{services.ErrTimeout, true},
		{services.ErrInternal, true},
		{errors.New("unclassified"), true},
		{services.ErrCredentialExpired, false},
		{services.ErrAuthRejected, false},
		{services.ErrInvalidMedia, false},
		{services.ErrValidation, false},
		{services.ErrConfiguration, false},
		{services.ErrNotFound, false},
		{fmt.Errorf("upload youtube: %w", services.ErrAuthRejected), false},
	}
	for _, tc := range cases {
		if got := services.Retryable(tc.err); got != tc.want {
			t.Errorf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{services.ErrTransport, "transient_network"},
		{services.ErrQuotaExceeded, "quota_exceeded"},
		{services.ErrAuthRejected, "auth_rejected"},
		{services.ErrInvalidMedia, "invalid_media"},
		{services.ErrCredentialExpired, "credential_expired"},
		{errors.New("surprise"), "internal"},
		{services.Wrap(services.ErrTranscode, "transcode", "ffmpeg", "exit 1", nil), "transcode"},
	}
	for _, tc := range cases {
		if got := services.Kind(tc.err); got != tc.want {
			t.Errorf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
