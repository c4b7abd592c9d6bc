package cache

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Filesystem is the filesystem-backed Store. Logical paths are sanitized
// against root by dropping any ".." or other non-normal components
// before joining, so a crafted path can't escape the root.
type Filesystem struct {
	root string
}

// NewFilesystem creates a filesystem-backed store rooted at root.
func NewFilesystem(root string) *Filesystem {
	return &Filesystem{root: root}
}

// Init ensures the root directory exists.
func (f *Filesystem) Init(_ context.Context) error {
	return os.MkdirAll(f.root, 0o755)
}

func (f *Filesystem) fullPath(logical string) string {
	clean := filepath.FromSlash(sanitizeLogicalPath(logical))
	return filepath.Join(f.root, clean)
}

// sanitizeLogicalPath strips ".." and other escaping components from a
// slash-separated logical path, keeping only normal segments.
func sanitizeLogicalPath(logical string) string {
	parts := strings.Split(logical, "/")
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "/")
}

func (f *Filesystem) Read(_ context.Context, logicalPath string, maxAge time.Duration) (*ReadStream, error) {
	full := f.fullPath(logicalPath)

	info, err := os.Stat(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errNotFound(logicalPath, err)
	}
	if err != nil {
		return nil, errStorage("statting "+logicalPath, err)
	}
	if time.Since(info.ModTime()) > maxAge {
		return nil, errTooOld(logicalPath)
	}

	file, err := os.Open(full)
	if err != nil {
		return nil, errStorage("opening "+logicalPath, err)
	}

	return &ReadStream{
		Length: info.Size(),
		Body:   &bufferedReadCloser{r: bufio.NewReaderSize(file, 16*1024), f: file},
	}, nil
}

type bufferedReadCloser struct {
	r *bufio.Reader
	f *os.File
}

func (b *bufferedReadCloser) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *bufferedReadCloser) Close() error               { return b.f.Close() }

func (f *Filesystem) Write(_ context.Context, logicalPath string, body io.Reader, _ int64) error {
	full := f.fullPath(logicalPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errStorage("creating parent directory for "+logicalPath, err)
	}

	file, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errStorage("opening "+logicalPath+" for write", err)
	}

	w := bufio.NewWriterSize(file, 16*1024)
	if _, copyErr := io.Copy(w, body); copyErr != nil {
		file.Close()
		os.Remove(full)
		return errStorage("writing "+logicalPath, copyErr)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(full)
		return errStorage("flushing "+logicalPath, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(full)
		return errStorage("closing "+logicalPath, err)
	}
	return nil
}

func (f *Filesystem) Delete(_ context.Context, logicalPath string) error {
	full := f.fullPath(logicalPath)
	if err := os.Remove(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errNotFound(logicalPath, err)
		}
		return errStorage("deleting "+logicalPath, err)
	}
	return nil
}

func (f *Filesystem) DeleteOld(_ context.Context, prefix string, olderThan time.Time) (int, error) {
	root := f.fullPath(prefix)

	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, errStorage("listing "+prefix, err)
	}

	count := 0
	for _, e := range entries {
		full := filepath.Join(root, e.Name())
		if e.IsDir() {
			logger().Debug("descending into cache subdirectory", "path", full)
			n, err := f.deleteOldRecursive(full, olderThan)
			if err != nil {
				logger().Warn("sweep error", "path", full, "error", err)
			}
			count += n
			continue
		}
		info, err := e.Info()
		if err != nil {
			logger().Warn("sweep stat error", "path", full, "error", err)
			continue
		}
		if info.ModTime().Before(olderThan) {
			if err := os.Remove(full); err != nil {
				logger().Warn("sweep delete error", "path", full, "error", err)
				continue
			}
			count++
		}
	}
	return count, nil
}

func (f *Filesystem) deleteOldRecursive(dir string, olderThan time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		if e.IsDir() {
			n, err := f.deleteOldRecursive(full, olderThan)
			if err != nil {
				logger().Warn("sweep error", "path", full, "error", err)
			}
			count += n
			continue
		}
		info, err := e.Info()
		if err != nil {
			logger().Warn("sweep stat error", "path", full, "error", err)
			continue
		}
		if info.ModTime().Before(olderThan) {
			if err := os.Remove(full); err != nil {
				logger().Warn("sweep delete error", "path", full, "error", err)
				continue
			}
			count++
		}
	}
	return count, nil
}
