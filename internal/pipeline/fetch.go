package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"crosspost/internal/fileutil"
	"crosspost/internal/services"
)

// fetcher downloads a job's source media into the job workspace.
type fetcher struct {
	client  *http.Client
	timeout time.Duration
}

func newFetcher(timeoutSeconds int) *fetcher {
	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &fetcher{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// fetch materializes the source reference at dest. HTTP sources are
// downloaded; file sources are copied so cleanup never touches the original.
func (f *fetcher) fetch(ctx context.Context, sourceRef, dest string) error {
	parsed, err := url.ParseRequestURI(sourceRef)
	if err != nil {
		return services.Wrap(services.ErrValidation, "fetch", "parse", "source media ref is not a valid URL", err)
	}
	switch parsed.Scheme {
	case "http", "https":
		return f.download(ctx, sourceRef, dest)
	case "file":
		return copyLocal(parsed.Path, dest)
	default:
		return services.Wrap(services.ErrValidation, "fetch", "parse",
			fmt.Sprintf("unsupported source scheme %q", parsed.Scheme), nil)
	}
}

func (f *fetcher) download(ctx context.Context, sourceURL, dest string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return services.Wrap(services.ErrInternal, "fetch", "download", "build request", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if fetchCtx.Err() != nil {
			return services.Wrap(services.ErrTimeout, "fetch", "download", "source download timed out", err)
		}
		return services.Wrap(services.ErrTransport, "fetch", "download", "source unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		marker := services.ErrTransport
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			marker = services.ErrInvalidMedia
		}
		return services.Wrap(marker, "fetch", "download",
			fmt.Sprintf("source returned %d", resp.StatusCode), nil)
	}

	out, err := os.Create(dest)
	if err != nil {
		return services.Wrap(services.ErrInternal, "fetch", "download", "create workspace file", err)
	}
	defer out.Close()

	written, err := io.Copy(out, resp.Body)
	if err != nil {
		return services.Wrap(services.ErrTransport, "fetch", "download", "source transfer interrupted", err)
	}
	if written == 0 {
		return services.Wrap(services.ErrInvalidMedia, "fetch", "download", "source is empty", nil)
	}
	return nil
}

func copyLocal(sourcePath, dest string) error {
	if strings.TrimSpace(sourcePath) == "" {
		return services.Wrap(services.ErrValidation, "fetch", "copy", "file source has no path", nil)
	}
	if _, err := os.Stat(sourcePath); err != nil {
		return services.Wrap(services.ErrInvalidMedia, "fetch", "copy", "open source file", err)
	}
	if _, err := fileutil.CopyVerified(sourcePath, dest); err != nil {
		return services.Wrap(services.ErrInternal, "fetch", "copy", "copy source file", err)
	}
	return nil
}
