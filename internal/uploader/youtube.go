package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"crosspost/internal/config"
	"crosspost/internal/credentials"
	"crosspost/internal/logging"
	"crosspost/internal/queue"
	"crosspost/internal/services"
)

// YouTubeUploader publishes videos through the YouTube Data API v3.
type YouTubeUploader struct {
	timeout time.Duration
	logger  *slog.Logger

	// newService is swapped by tests to avoid the live API.
	newService func(ctx context.Context, client *http.Client) (*youtube.Service, error)
}

// NewYouTubeUploader builds the YouTube uploader from config.
func NewYouTubeUploader(cfg *config.Config, logger *slog.Logger) *YouTubeUploader {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := time.Duration(cfg.YouTube.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &YouTubeUploader{
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, "youtube"),
		newService: func(ctx context.Context, client *http.Client) (*youtube.Service, error) {
			return youtube.NewService(ctx, option.WithHTTPClient(client))
		},
	}
}

func (u *YouTubeUploader) Platform() string { return "youtube" }

// Upload inserts the video with snippet and status parts and returns the
// YouTube video id.
func (u *YouTubeUploader) Upload(ctx context.Context, filePath string, meta queue.Metadata, cred *credentials.Credential) (string, error) {
	uploadCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	file, err := os.Open(filePath)
	if err != nil {
		return "", services.Wrap(services.ErrInvalidMedia, "youtube", "upload", "open media file", err)
	}
	defer file.Close()

	client := oauth2.NewClient(uploadCtx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken}))
	service, err := u.newService(uploadCtx, client)
	if err != nil {
		return "", services.Wrap(services.ErrInternal, "youtube", "upload", "initialize youtube client", err)
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       meta.Title,
			Description: meta.Description,
			Tags:        meta.Tags,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: privacyStatus(meta.Privacy),
		},
	}

	call := service.Videos.Insert([]string{"snippet", "status"}, video)
	inserted, err := call.Media(file).Context(uploadCtx).Do()
	if err != nil {
		return "", u.classify(err)
	}

	u.logger.InfoContext(ctx, "video published", logging.String("video_id", inserted.Id))
	return inserted.Id, nil
}

func (u *YouTubeUploader) classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return services.Wrap(services.ErrAuthRejected, "youtube", "upload", "access token rejected", err)
		case apiErr.Code == http.StatusForbidden && isQuotaReason(apiErr):
			return services.Wrap(services.ErrQuotaExceeded, "youtube", "upload", "daily upload quota exhausted", err)
		case apiErr.Code == http.StatusForbidden:
			return services.Wrap(services.ErrAuthRejected, "youtube", "upload", "insufficient permissions", err)
		case apiErr.Code == http.StatusBadRequest:
			return services.Wrap(services.ErrInvalidMedia, "youtube", "upload", "video rejected", err)
		case apiErr.Code >= 500:
			return services.Wrap(services.ErrTransport, "youtube", "upload",
				fmt.Sprintf("youtube returned %d", apiErr.Code), err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "youtube", "upload", "upload timed out", err)
	}
	return services.Wrap(services.ErrTransport, "youtube", "upload", "upload failed", err)
}

func isQuotaReason(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		reason := strings.ToLower(item.Reason)
		if strings.Contains(reason, "quota") || reason == "uploadlimitexceeded" || reason == "ratelimitexceeded" {
			return true
		}
	}
	return false
}

func privacyStatus(privacy string) string {
	switch strings.ToLower(strings.TrimSpace(privacy)) {
	case "public":
		return "public"
	case "unlisted":
		return "unlisted"
	default:
		return "private"
	}
}
