// Package services defines the error taxonomy shared by the publish pipeline
// and the context annotations used for structured logging.
//
// Stage and uploader code wraps failures with one of the sentinel markers so
// the workflow manager can decide between rescheduling with backoff and
// failing a job terminally, and so per-platform results record a stable error
// kind. Use Wrap to attach stage context while keeping the marker matchable
// with errors.Is.
package services
