package uploader

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"crosspost/internal/config"
	"crosspost/internal/credentials"
	"crosspost/internal/queue"
)

// Uploader publishes one transcoded media file to a single platform and
// returns the platform's identifier for the created post.
type Uploader interface {
	Platform() string
	Upload(ctx context.Context, filePath string, meta queue.Metadata, cred *credentials.Credential) (string, error)
}

// FromConfig builds an uploader for each enabled platform.
func FromConfig(cfg *config.Config, logger *slog.Logger) map[string]Uploader {
	uploaders := make(map[string]Uploader)
	if cfg.YouTube.Enabled {
		uploaders["youtube"] = NewYouTubeUploader(cfg, logger)
	}
	if cfg.Instagram.Enabled {
		uploaders["instagram"] = NewInstagramUploader(cfg, logger)
	}
	if cfg.TikTok.Enabled {
		uploaders["tiktok"] = NewTikTokUploader(cfg, logger)
	}
	return uploaders
}

func httpClientFor(timeoutSeconds int) *http.Client {
	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &http.Client{Timeout: timeout}
}
