package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// RotationConfig holds configuration for log rotation.
type RotationConfig struct {
	// MaxSizeMB is the maximum size of a log file in megabytes before rotation.
	// A value of 0 disables rotation.
	MaxSizeMB int
	// MaxBackups is the number of old log files to keep.
	MaxBackups int
	// Compress gzips rotated files.
	Compress bool
}

// DefaultRotationConfig returns the rotation used for worker logs.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSizeMB:  10,
		MaxBackups: 3,
	}
}

// RotatingWriter is an io.WriteCloser over a file that is rotated once it
// would exceed the configured size. Backups are named path.1 (newest) to
// path.N (oldest), with a .gz suffix when compressed. It is safe for
// concurrent use.
type RotatingWriter struct {
	mu sync.Mutex

	fs         afero.Fs
	path       string
	maxBytes   int64
	maxBackups int
	compress   bool

	file afero.File
	size int64
}

// NewRotatingWriter opens (appending) or creates path on fs. A nil fs means
// the OS filesystem.
func NewRotatingWriter(fs afero.Fs, path string, config RotationConfig) (*RotatingWriter, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	rw := &RotatingWriter{
		fs:         fs,
		path:       path,
		maxBytes:   int64(config.MaxSizeMB) * 1024 * 1024,
		maxBackups: config.MaxBackups,
		compress:   config.Compress,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

// open must be called with mu held (or before the writer is shared).
func (rw *RotatingWriter) open() error {
	if err := rw.fs.MkdirAll(filepath.Dir(rw.path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := rw.fs.OpenFile(rw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	rw.file = f
	rw.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would push the file past its limit.
// A failed rotation is reported on stderr and the write goes to the current
// file.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, fmt.Errorf("log file is closed")
	}
	if rw.maxBytes > 0 && rw.size > 0 && rw.size+int64(len(p)) > rw.maxBytes {
		if err := rw.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: log rotation failed: %v\n", err)
		}
	}
	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	rw.file = nil

	rw.shiftBackups()

	newest := rw.BackupPath(1)
	if rw.maxBackups <= 0 {
		_ = rw.fs.Remove(rw.path)
	} else if err := rw.fs.Rename(rw.path, newest); err != nil {
		if openErr := rw.open(); openErr != nil {
			return fmt.Errorf("failed to rename log file and reopen: %w", openErr)
		}
		return fmt.Errorf("failed to rename log file: %w", err)
	} else if rw.compress {
		if err := rw.gzip(newest); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to compress %s: %v\n", newest, err)
		}
	}
	return rw.open()
}

// shiftBackups drops the oldest backup and renames .i to .i+1.
func (rw *RotatingWriter) shiftBackups() {
	if rw.maxBackups <= 0 {
		return
	}
	oldest := rw.BackupPath(rw.maxBackups)
	_ = rw.fs.Remove(oldest)
	_ = rw.fs.Remove(oldest + ".gz")

	for i := rw.maxBackups - 1; i >= 1; i-- {
		from, to := rw.BackupPath(i), rw.BackupPath(i+1)
		if ok, _ := afero.Exists(rw.fs, from+".gz"); ok {
			_ = rw.fs.Rename(from+".gz", to+".gz")
		} else if ok, _ := afero.Exists(rw.fs, from); ok {
			_ = rw.fs.Rename(from, to)
		}
	}
}

// gzip replaces path with path.gz. The original is kept if compression fails.
func (rw *RotatingWriter) gzip(path string) error {
	src, err := rw.fs.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := rw.fs.Create(path + ".gz")
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(dst)
	_, copyErr := io.Copy(zw, src)
	closeErr := zw.Close()
	fileErr := dst.Close()
	for _, err := range []error{copyErr, closeErr, fileErr} {
		if err != nil {
			_ = rw.fs.Remove(path + ".gz")
			return err
		}
	}
	_ = src.Close()
	return rw.fs.Remove(path)
}

// BackupPath returns the path of the n-th backup (uncompressed name).
func (rw *RotatingWriter) BackupPath(n int) string {
	return fmt.Sprintf("%s.%d", rw.path, n)
}

// Sync flushes the current file.
func (rw *RotatingWriter) Sync() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	return rw.file.Sync()
}

// Close syncs and closes the current file. Further writes fail.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	f := rw.file
	rw.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

// CurrentSize returns the size of the current file in bytes.
func (rw *RotatingWriter) CurrentSize() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.size
}

// FilePath returns the path of the current file.
func (rw *RotatingWriter) FilePath() string {
	return rw.path
}
