package transcode_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"crosspost/internal/services"
	"crosspost/internal/testsupport"
	"crosspost/internal/transcode"
)

func writeFFmpegStub(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write ffmpeg stub: %v", err)
	}
	return path
}

func TestRunProducesOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	// Stub that writes a payload to its final argument, the destination path.
	cfg.Transcode.FFmpegBinary = writeFFmpegStub(t, "#!/bin/sh\nfor last; do :; done\nprintf 'encoded' > \"$last\"\n")

	source := filepath.Join(t.TempDir(), "source.mov")
	testsupport.WriteFile(t, source, []byte("raw media"))
	dest := filepath.Join(t.TempDir(), "out.mp4")

	tr := transcode.New(cfg, nil)
	if err := tr.Run(context.Background(), source, dest); err != nil {
		t.Fatalf("run: %v", err)
	}

	contents, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(contents) != "encoded" {
		t.Fatalf("unexpected output %q", contents)
	}
}

func TestRunMissingSource(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())

	tr := transcode.New(cfg, nil)
	err := tr.Run(context.Background(), filepath.Join(t.TempDir(), "missing.mov"), filepath.Join(t.TempDir(), "out.mp4"))
	if !errors.Is(err, services.ErrInvalidMedia) {
		t.Fatalf("expected invalid media, got %v", err)
	}
}

func TestRunFFmpegFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Transcode.FFmpegBinary = writeFFmpegStub(t, "#!/bin/sh\necho 'codec not found' >&2\nexit 1\n")

	source := filepath.Join(t.TempDir(), "source.mov")
	testsupport.WriteFile(t, source, []byte("raw media"))

	tr := transcode.New(cfg, nil)
	err := tr.Run(context.Background(), source, filepath.Join(t.TempDir(), "out.mp4"))
	if !errors.Is(err, services.ErrTranscode) {
		t.Fatalf("expected transcode error, got %v", err)
	}
}

func TestRunEmptyOutputRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	// Exits cleanly but never writes the destination file.
	cfg.Transcode.FFmpegBinary = writeFFmpegStub(t, "#!/bin/sh\nexit 0\n")

	source := filepath.Join(t.TempDir(), "source.mov")
	testsupport.WriteFile(t, source, []byte("raw media"))

	tr := transcode.New(cfg, nil)
	err := tr.Run(context.Background(), source, filepath.Join(t.TempDir(), "out.mp4"))
	if !errors.Is(err, services.ErrTranscode) {
		t.Fatalf("expected transcode error for missing output, got %v", err)
	}
}
