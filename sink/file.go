package sink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileSink writes one identifier per line to a file, replacing it
// atomically so readers never see a half-written listing.
type FileSink struct {
	Path string
}

// NewFileSink creates a FileSink for path.
func NewFileSink(path string) *FileSink {
	return &FileSink{Path: path}
}

func (f *FileSink) Write(ctx context.Context, _ string, contracts []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("sink: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".*")
	if err != nil {
		return fmt.Errorf("sink: create temp file: %w", err)
	}
	// Cleanup is a no-op after a successful rename.
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, c := range contracts {
		if _, err := w.WriteString(c + "\n"); err != nil {
			tmp.Close()
			return fmt.Errorf("sink: write: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("sink: flush: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sink: close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("sink: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("sink: replace %s: %w", f.Path, err)
	}
	return nil
}

func (f *FileSink) Close() error { return nil }

func (f *FileSink) String() string { return f.Path }
