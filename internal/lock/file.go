package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// FileName is the lock file created in each namespace directory.
const FileName = ".lock"

const filePollInterval = 10 * time.Millisecond

// File locks a namespace with an advisory flock on <dir>/.lock. It excludes
// every process on the host that shares the storage root.
type File struct {
	dir    func(key string) (string, error)
	wait   time.Duration
	logger *zap.Logger
}

// NewFile creates a file locker. dir maps a key to the directory holding
// its lock file.
func NewFile(dir func(key string) (string, error), wait time.Duration, logger *zap.Logger) *File {
	if wait <= 0 {
		wait = 10 * time.Second
	}
	return &File{dir: dir, wait: wait, logger: logger}
}

// Acquire polls for the lock until it is taken, the wait elapses or ctx ends.
func (f *File) Acquire(ctx context.Context, key string) (Release, error) {
	dir, err := f.dir(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lock dir %s: %w", dir, err)
	}

	fl := flock.New(filepath.Join(dir, FileName))
	waitCtx, cancel := context.WithTimeout(ctx, f.wait)
	defer cancel()

	ok, err := fl.TryLockContext(waitCtx, filePollInterval)
	switch {
	case err != nil && waitCtx.Err() != nil:
		return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, err)
	case err != nil:
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	case !ok:
		return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
	}

	return func(context.Context) error {
		if err := fl.Unlock(); err != nil {
			return fmt.Errorf("release %s: %w", key, err)
		}
		return nil
	}, nil
}

// Close is a no-op; each Acquire owns its file handle.
func (f *File) Close() error { return nil }
