package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"crosspost/internal/config"
	"crosspost/internal/queue"
)

const userAgent = "Crosspost-Go/0.1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyJobQueued(ctx context.Context, job *queue.Job) error
	NotifyJobPublished(ctx context.Context, job *queue.Job) error
	NotifyJobPartial(ctx context.Context, job *queue.Job) error
	NotifyJobFailed(ctx context.Context, job *queue.Job, message string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:      topic,
		client:        &http.Client{Timeout: timeout},
		sendQueued:    cfg.Notifications.Queued,
		sendPublished: cfg.Notifications.Published,
		sendErrors:    cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint      string
	client        *http.Client
	sendQueued    bool
	sendPublished bool
	sendErrors    bool
}

func (n *ntfyService) NotifyJobQueued(ctx context.Context, job *queue.Job) error {
	if !n.sendQueued {
		return nil
	}
	data := payload{
		title: "Crosspost - Queued",
		message: fmt.Sprintf("Queued %q for %s", strings.TrimSpace(job.Metadata.Title),
			strings.Join(job.Platforms, ", ")),
		tags: []string{"crosspost", "queued"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobPublished(ctx context.Context, job *queue.Job) error {
	if !n.sendPublished {
		return nil
	}
	data := payload{
		title: "Crosspost - Published",
		message: fmt.Sprintf("Published %q to %s", strings.TrimSpace(job.Metadata.Title),
			strings.Join(job.Platforms, ", ")),
		tags:     []string{"crosspost", "published"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobPartial(ctx context.Context, job *queue.Job) error {
	if !n.sendErrors {
		return nil
	}
	failed := job.FailedPlatforms()
	data := payload{
		title: "Crosspost - Partial Publish",
		message: fmt.Sprintf("%q published, but failed on: %s", strings.TrimSpace(job.Metadata.Title),
			strings.Join(failed, ", ")),
		tags:     []string{"crosspost", "partial", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, job *queue.Job, message string) error {
	if !n.sendErrors {
		return nil
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "Failed to publish %q", strings.TrimSpace(job.Metadata.Title))
	if message = strings.TrimSpace(message); message != "" {
		builder.WriteString(": ")
		builder.WriteString(message)
	}
	data := payload{
		title:    "Crosspost - Failed",
		message:  builder.String(),
		tags:     []string{"crosspost", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Crosspost - Test",
		message:  "Notification system test",
		tags:     []string{"crosspost", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobQueued(context.Context, *queue.Job) error         { return nil }
func (noopService) NotifyJobPublished(context.Context, *queue.Job) error      { return nil }
func (noopService) NotifyJobPartial(context.Context, *queue.Job) error        { return nil }
func (noopService) NotifyJobFailed(context.Context, *queue.Job, string) error { return nil }
func (noopService) TestNotification(context.Context) error                    { return nil }
