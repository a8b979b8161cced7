package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"crosspost/internal/config"
	"crosspost/internal/credentials"
	"crosspost/internal/logging"
	"crosspost/internal/queue"
	"crosspost/internal/services"
)

// InstagramUploader publishes reels through the Instagram Graph API's
// two-step container flow: create a media container, then publish it.
type InstagramUploader struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	// containerPollInterval paces the readiness poll between the upload
	// and publish steps. Tests shrink it.
	containerPollInterval time.Duration
}

// NewInstagramUploader builds the Instagram uploader from config.
func NewInstagramUploader(cfg *config.Config, logger *slog.Logger) *InstagramUploader {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &InstagramUploader{
		baseURL:               strings.TrimRight(cfg.Instagram.GraphBaseURL, "/"),
		client:                httpClientFor(cfg.Instagram.TimeoutSeconds),
		logger:                logging.NewComponentLogger(logger, "instagram"),
		containerPollInterval: 2 * time.Second,
	}
}

func (u *InstagramUploader) Platform() string { return "instagram" }

// Upload creates a media container from the file, waits for Instagram to
// finish processing it, then publishes it and returns the media id.
func (u *InstagramUploader) Upload(ctx context.Context, filePath string, meta queue.Metadata, cred *credentials.Credential) (string, error) {
	containerID, err := u.createContainer(ctx, filePath, meta, cred)
	if err != nil {
		return "", err
	}
	if err := u.waitForContainer(ctx, containerID, cred); err != nil {
		return "", err
	}
	mediaID, err := u.publishContainer(ctx, containerID, cred)
	if err != nil {
		return "", err
	}
	u.logger.InfoContext(ctx, "reel published", logging.String("media_id", mediaID))
	return mediaID, nil
}

func (u *InstagramUploader) createContainer(ctx context.Context, filePath string, meta queue.Metadata, cred *credentials.Credential) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", services.Wrap(services.ErrInvalidMedia, "instagram", "create_container", "open media file", err)
	}
	defer file.Close()

	body := &strings.Builder{}
	writer := multipart.NewWriter(body)
	_ = writer.WriteField("media_type", "REELS")
	_ = writer.WriteField("caption", instagramCaption(meta))
	_ = writer.WriteField("access_token", cred.AccessToken)
	part, err := writer.CreateFormFile("video_file", filepath.Base(filePath))
	if err != nil {
		return "", services.Wrap(services.ErrInternal, "instagram", "create_container", "build multipart body", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", services.Wrap(services.ErrInvalidMedia, "instagram", "create_container", "read media file", err)
	}
	if err := writer.Close(); err != nil {
		return "", services.Wrap(services.ErrInternal, "instagram", "create_container", "finalize multipart body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/me/media", strings.NewReader(body.String()))
	if err != nil {
		return "", services.Wrap(services.ErrInternal, "instagram", "create_container", "build request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result struct {
		ID string `json:"id"`
	}
	if err := u.do(req, "create_container", &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", services.Wrap(services.ErrTransport, "instagram", "create_container", "response missing container id", nil)
	}
	return result.ID, nil
}

func (u *InstagramUploader) waitForContainer(ctx context.Context, containerID string, cred *credentials.Credential) error {
	const maxPolls = 30
	for poll := 0; poll < maxPolls; poll++ {
		statusURL := fmt.Sprintf("%s/%s?fields=status_code&access_token=%s", u.baseURL, containerID, url.QueryEscape(cred.AccessToken))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return services.Wrap(services.ErrInternal, "instagram", "container_status", "build request", err)
		}

		var result struct {
			StatusCode string `json:"status_code"`
		}
		if err := u.do(req, "container_status", &result); err != nil {
			return err
		}
		switch result.StatusCode {
		case "FINISHED", "":
			return nil
		case "ERROR":
			return services.Wrap(services.ErrInvalidMedia, "instagram", "container_status", "instagram rejected the media container", nil)
		}

		select {
		case <-ctx.Done():
			return services.Wrap(services.ErrTimeout, "instagram", "container_status", "canceled while waiting for container", ctx.Err())
		case <-time.After(u.containerPollInterval):
		}
	}
	return services.Wrap(services.ErrTimeout, "instagram", "container_status", "container never finished processing", nil)
}

func (u *InstagramUploader) publishContainer(ctx context.Context, containerID string, cred *credentials.Credential) (string, error) {
	form := url.Values{}
	form.Set("creation_id", containerID)
	form.Set("access_token", cred.AccessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/me/media_publish", strings.NewReader(form.Encode()))
	if err != nil {
		return "", services.Wrap(services.ErrInternal, "instagram", "publish", "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var result struct {
		ID string `json:"id"`
	}
	if err := u.do(req, "publish", &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", services.Wrap(services.ErrTransport, "instagram", "publish", "response missing media id", nil)
	}
	return result.ID, nil
}

func (u *InstagramUploader) do(req *http.Request, operation string, out any) error {
	resp, err := u.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return services.Wrap(services.ErrTimeout, "instagram", operation, "request canceled", err)
		}
		return services.Wrap(services.ErrTransport, "instagram", operation, "graph api unreachable", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return services.Wrap(services.ErrTransport, "instagram", operation, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError("instagram", operation, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return services.Wrap(services.ErrTransport, "instagram", operation, "decode response", err)
		}
	}
	return nil
}

func instagramCaption(meta queue.Metadata) string {
	caption := meta.Title
	if meta.Description != "" {
		if caption != "" {
			caption += "\n\n"
		}
		caption += meta.Description
	}
	if len(meta.Tags) > 0 {
		tags := make([]string, 0, len(meta.Tags))
		for _, tag := range meta.Tags {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			tags = append(tags, "#"+strings.TrimPrefix(tag, "#"))
		}
		if len(tags) > 0 {
			if caption != "" {
				caption += "\n\n"
			}
			caption += strings.Join(tags, " ")
		}
	}
	return caption
}
