package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"crosspost/internal/config"
	"crosspost/internal/logging"
	"crosspost/internal/services"
)

var commandContext = exec.CommandContext

// Transcoder normalizes fetched media into the upload profile shared by all
// platforms by shelling out to ffmpeg.
type Transcoder struct {
	binary       string
	videoCodec   string
	preset       string
	crf          int
	audioCodec   string
	audioBitrate string
	timeout      time.Duration
	logger       *slog.Logger
}

// New builds a transcoder from the configured ffmpeg profile.
func New(cfg *config.Config, logger *slog.Logger) *Transcoder {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := time.Duration(cfg.Transcode.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Transcoder{
		binary:       cfg.FFmpegBinary(),
		videoCodec:   cfg.Transcode.VideoCodec,
		preset:       cfg.Transcode.Preset,
		crf:          cfg.Transcode.CRF,
		audioCodec:   cfg.Transcode.AudioCodec,
		audioBitrate: cfg.Transcode.AudioBitrate,
		timeout:      timeout,
		logger:       logging.NewComponentLogger(logger, "transcode"),
	}
}

// Run transcodes source into dest. The output container is MP4 with the
// moov atom up front so platforms can start processing before the full
// upload lands.
func (t *Transcoder) Run(ctx context.Context, source, dest string) error {
	if _, err := os.Stat(source); err != nil {
		return services.Wrap(services.ErrInvalidMedia, "transcode", "run", "source file unavailable", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	args := t.arguments(source, dest)
	t.logger.InfoContext(ctx, "starting transcode",
		logging.String("source", source),
		logging.String("dest", dest),
		logging.String("video_codec", t.videoCodec),
	)

	started := time.Now()
	cmd := commandContext(runCtx, t.binary, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "transcode", "run",
				fmt.Sprintf("ffmpeg exceeded %s", t.timeout), runCtx.Err())
		}
		detail := strings.TrimSpace(string(output))
		if detail == "" {
			detail = err.Error()
		}
		return services.Wrap(services.ErrTranscode, "transcode", "run",
			fmt.Sprintf("ffmpeg failed: %s", detail), err)
	}

	info, err := os.Stat(dest)
	if err != nil || info.Size() == 0 {
		return services.Wrap(services.ErrTranscode, "transcode", "run", "ffmpeg produced no output", err)
	}

	t.logger.InfoContext(ctx, "transcode complete",
		logging.String("dest", dest),
		logging.Int64("output_bytes", info.Size()),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func (t *Transcoder) arguments(source, dest string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-c:v", t.videoCodec,
		"-preset", t.preset,
		"-crf", strconv.Itoa(t.crf),
		"-c:a", t.audioCodec,
		"-b:a", t.audioBitrate,
		"-movflags", "+faststart",
		dest,
	}
}
