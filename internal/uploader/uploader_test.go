package uploader

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"crosspost/internal/credentials"
	"crosspost/internal/queue"
	"crosspost/internal/services"
	"crosspost/internal/testsupport"
)

func testCredential() *credentials.Credential {
	return &credentials.Credential{
		UserID:      1,
		Provider:    "test",
		AccessToken: "access-token",
		Expiry:      time.Now().Add(time.Hour),
	}
}

func writeMedia(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.mp4")
	if err := os.WriteFile(path, []byte("transcoded video bytes"), 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}
	return path
}

func TestFromConfigRespectsEnabledPlatforms(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	uploaders := FromConfig(cfg, nil)
	if len(uploaders) != 1 {
		t.Fatalf("expected only youtube, got %d uploaders", len(uploaders))
	}
	if _, ok := uploaders["youtube"]; !ok {
		t.Fatal("youtube uploader missing")
	}

	cfg = testsupport.NewConfig(t, testsupport.WithAllPlatforms())
	uploaders = FromConfig(cfg, nil)
	for _, platform := range []string{"youtube", "instagram", "tiktok"} {
		up, ok := uploaders[platform]
		if !ok {
			t.Fatalf("%s uploader missing", platform)
		}
		if up.Platform() != platform {
			t.Fatalf("uploader reports platform %q, want %q", up.Platform(), platform)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		marker error
	}{
		{http.StatusUnauthorized, services.ErrAuthRejected},
		{http.StatusForbidden, services.ErrAuthRejected},
		{http.StatusTooManyRequests, services.ErrQuotaExceeded},
		{http.StatusBadRequest, services.ErrInvalidMedia},
		{http.StatusUnprocessableEntity, services.ErrInvalidMedia},
		{http.StatusInternalServerError, services.ErrTransport},
		{http.StatusBadGateway, services.ErrTransport},
	}
	for _, tc := range cases {
		if err := statusError("test", "op", tc.status, ""); !errors.Is(err, tc.marker) {
			t.Errorf("status %d classified as %v, want %v", tc.status, err, tc.marker)
		}
	}
}

func TestYouTubeUploadReturnsVideoID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer access-token" {
			t.Errorf("unexpected authorization header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "vid-123"})
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	up := NewYouTubeUploader(cfg, nil)
	up.newService = func(ctx context.Context, client *http.Client) (*youtube.Service, error) {
		return youtube.NewService(ctx, option.WithHTTPClient(client), option.WithEndpoint(server.URL))
	}

	postID, err := up.Upload(context.Background(), writeMedia(t), queue.Metadata{Title: "Clip", Privacy: "public"}, testCredential())
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if postID != "vid-123" {
		t.Fatalf("unexpected video id %q", postID)
	}
}

func TestYouTubeUploadQuotaExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"quota","errors":[{"reason":"quotaExceeded"}]}}`))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	up := NewYouTubeUploader(cfg, nil)
	up.newService = func(ctx context.Context, client *http.Client) (*youtube.Service, error) {
		return youtube.NewService(ctx, option.WithHTTPClient(client), option.WithEndpoint(server.URL))
	}

	_, err := up.Upload(context.Background(), writeMedia(t), queue.Metadata{Title: "Clip"}, testCredential())
	if !errors.Is(err, services.ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
}

func TestInstagramUploadTwoStepFlow(t *testing.T) {
	var sawContainer, sawStatus, sawPublish bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/me/media":
			sawContainer = true
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
			if got := r.FormValue("media_type"); got != "REELS" {
				t.Errorf("media_type %q", got)
			}
			if got := r.FormValue("access_token"); got != "access-token" {
				t.Errorf("access_token %q", got)
			}
			_, _ = w.Write([]byte(`{"id":"container-9"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/container-9":
			sawStatus = true
			_, _ = w.Write([]byte(`{"status_code":"FINISHED"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/me/media_publish":
			sawPublish = true
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
			}
			if got := r.FormValue("creation_id"); got != "container-9" {
				t.Errorf("creation_id %q", got)
			}
			_, _ = w.Write([]byte(`{"id":"media-42"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithAllPlatforms())
	cfg.Instagram.GraphBaseURL = server.URL
	up := NewInstagramUploader(cfg, nil)
	up.containerPollInterval = time.Millisecond

	postID, err := up.Upload(context.Background(), writeMedia(t), queue.Metadata{Title: "Clip", Tags: []string{"golang"}}, testCredential())
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if postID != "media-42" {
		t.Fatalf("unexpected media id %q", postID)
	}
	if !sawContainer || !sawStatus || !sawPublish {
		t.Fatalf("flow incomplete: container=%v status=%v publish=%v", sawContainer, sawStatus, sawPublish)
	}
}

func TestInstagramUploadAuthRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"expired token"}}`))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithAllPlatforms())
	cfg.Instagram.GraphBaseURL = server.URL
	up := NewInstagramUploader(cfg, nil)

	_, err := up.Upload(context.Background(), writeMedia(t), queue.Metadata{Title: "Clip"}, testCredential())
	if !errors.Is(err, services.ErrAuthRejected) {
		t.Fatalf("expected auth rejected, got %v", err)
	}
}

func TestInstagramContainerRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/me/media":
			_, _ = w.Write([]byte(`{"id":"container-1"}`))
		case r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"status_code":"ERROR"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithAllPlatforms())
	cfg.Instagram.GraphBaseURL = server.URL
	up := NewInstagramUploader(cfg, nil)
	up.containerPollInterval = time.Millisecond

	_, err := up.Upload(context.Background(), writeMedia(t), queue.Metadata{Title: "Clip"}, testCredential())
	if !errors.Is(err, services.ErrInvalidMedia) {
		t.Fatalf("expected invalid media, got %v", err)
	}
}

func TestTikTokUploadInitAndPut(t *testing.T) {
	var uploadURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/post/publish/video/init/":
			if got := r.Header.Get("Authorization"); got != "Bearer access-token" {
				t.Errorf("authorization %q", got)
			}
			var payload struct {
				SourceInfo struct {
					Source    string `json:"source"`
					VideoSize int64  `json:"video_size"`
				} `json:"source_info"`
			}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("decode init payload: %v", err)
			}
			if payload.SourceInfo.Source != "FILE_UPLOAD" {
				t.Errorf("source %q", payload.SourceInfo.Source)
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{
					"publish_id": "publish-7",
					"upload_url": uploadURL,
				},
				"error": map[string]any{"code": "ok"},
			})
		case r.Method == http.MethodPut && r.URL.Path == "/upload":
			if got := r.Header.Get("Content-Range"); got == "" {
				t.Error("missing Content-Range header")
			}
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()
	uploadURL = server.URL + "/upload"

	cfg := testsupport.NewConfig(t, testsupport.WithAllPlatforms())
	cfg.TikTok.BaseURL = server.URL
	up := NewTikTokUploader(cfg, nil)

	postID, err := up.Upload(context.Background(), writeMedia(t), queue.Metadata{Title: "Clip", Privacy: "public"}, testCredential())
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if postID != "publish-7" {
		t.Fatalf("unexpected publish id %q", postID)
	}
}

func TestTikTokInitErrorCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{},"error":{"code":"invalid_params","message":"bad title"}}`))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithAllPlatforms())
	cfg.TikTok.BaseURL = server.URL
	up := NewTikTokUploader(cfg, nil)

	_, err := up.Upload(context.Background(), writeMedia(t), queue.Metadata{Title: "Clip"}, testCredential())
	if !errors.Is(err, services.ErrInvalidMedia) {
		t.Fatalf("expected invalid media, got %v", err)
	}
}
