package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"crosspost/internal/config"
	"crosspost/internal/credentials"
	"crosspost/internal/logging"
	"crosspost/internal/queue"
	"crosspost/internal/services"
)

// TikTokUploader publishes videos through the TikTok Content Posting API:
// initialize the post to obtain an upload URL, send the bytes, and return
// the publish id TikTok assigned.
type TikTokUploader struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewTikTokUploader builds the TikTok uploader from config.
func NewTikTokUploader(cfg *config.Config, logger *slog.Logger) *TikTokUploader {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &TikTokUploader{
		baseURL: strings.TrimRight(cfg.TikTok.BaseURL, "/"),
		client:  httpClientFor(cfg.TikTok.TimeoutSeconds),
		logger:  logging.NewComponentLogger(logger, "tiktok"),
	}
}

func (u *TikTokUploader) Platform() string { return "tiktok" }

type tiktokInitRequest struct {
	PostInfo struct {
		Title        string `json:"title"`
		PrivacyLevel string `json:"privacy_level"`
	} `json:"post_info"`
	SourceInfo struct {
		Source          string `json:"source"`
		VideoSize       int64  `json:"video_size"`
		ChunkSize       int64  `json:"chunk_size"`
		TotalChunkCount int    `json:"total_chunk_count"`
	} `json:"source_info"`
}

type tiktokInitResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
		UploadURL string `json:"upload_url"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Upload runs the init and upload steps and returns TikTok's publish id.
func (u *TikTokUploader) Upload(ctx context.Context, filePath string, meta queue.Metadata, cred *credentials.Credential) (string, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return "", services.Wrap(services.ErrInvalidMedia, "tiktok", "init", "stat media file", err)
	}

	initResp, err := u.initPost(ctx, meta, info.Size(), cred)
	if err != nil {
		return "", err
	}
	if err := u.uploadBytes(ctx, initResp.Data.UploadURL, filePath, info.Size()); err != nil {
		return "", err
	}

	u.logger.InfoContext(ctx, "video published", logging.String("publish_id", initResp.Data.PublishID))
	return initResp.Data.PublishID, nil
}

func (u *TikTokUploader) initPost(ctx context.Context, meta queue.Metadata, size int64, cred *credentials.Credential) (*tiktokInitResponse, error) {
	var payload tiktokInitRequest
	payload.PostInfo.Title = meta.Title
	payload.PostInfo.PrivacyLevel = tiktokPrivacy(meta.Privacy)
	payload.SourceInfo.Source = "FILE_UPLOAD"
	payload.SourceInfo.VideoSize = size
	payload.SourceInfo.ChunkSize = size
	payload.SourceInfo.TotalChunkCount = 1

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, services.Wrap(services.ErrInternal, "tiktok", "init", "encode init request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/post/publish/video/init/", bytes.NewReader(body))
	if err != nil {
		return nil, services.Wrap(services.ErrInternal, "tiktok", "init", "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := u.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, services.Wrap(services.ErrTimeout, "tiktok", "init", "request canceled", err)
		}
		return nil, services.Wrap(services.ErrTransport, "tiktok", "init", "tiktok api unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, services.Wrap(services.ErrTransport, "tiktok", "init", "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError("tiktok", "init", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded tiktokInitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, services.Wrap(services.ErrTransport, "tiktok", "init", "decode response", err)
	}
	if decoded.Error.Code != "" && decoded.Error.Code != "ok" {
		return nil, services.Wrap(services.ErrInvalidMedia, "tiktok", "init",
			fmt.Sprintf("init rejected: %s: %s", decoded.Error.Code, decoded.Error.Message), nil)
	}
	if decoded.Data.PublishID == "" || decoded.Data.UploadURL == "" {
		return nil, services.Wrap(services.ErrTransport, "tiktok", "init", "response missing publish id or upload url", nil)
	}
	return &decoded, nil
}

func (u *TikTokUploader) uploadBytes(ctx context.Context, uploadURL, filePath string, size int64) error {
	file, err := os.Open(filePath)
	if err != nil {
		return services.Wrap(services.ErrInvalidMedia, "tiktok", "upload", "open media file", err)
	}
	defer file.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, file)
	if err != nil {
		return services.Wrap(services.ErrInternal, "tiktok", "upload", "build request", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "video/mp4")
	req.Header.Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", size-1, size))

	resp, err := u.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return services.Wrap(services.ErrTimeout, "tiktok", "upload", "request canceled", err)
		}
		return services.Wrap(services.ErrTransport, "tiktok", "upload", "upload endpoint unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return statusError("tiktok", "upload", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

func tiktokPrivacy(privacy string) string {
	switch strings.ToLower(strings.TrimSpace(privacy)) {
	case "public":
		return "PUBLIC_TO_EVERYONE"
	case "unlisted":
		return "MUTUAL_FOLLOW_FRIENDS"
	default:
		return "SELF_ONLY"
	}
}
