package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func dirUnder(root string) func(string) (string, error) {
	return func(key string) (string, error) {
		if key == "bad" {
			return "", errors.New("invalid key")
		}
		return filepath.Join(root, key), nil
	}
}

func TestFileLockExcludesSecondHolder(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	first := NewFile(dirUnder(root), time.Second, zap.NewNop())
	second := NewFile(dirUnder(root), 100*time.Millisecond, zap.NewNop())

	release, err := first.Acquire(ctx, "scout")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "scout", FileName)); err != nil {
		t.Errorf("lock file not created: %v", err)
	}

	if _, err := second.Acquire(ctx, "scout"); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired while held, got %v", err)
	}
	// Other namespaces do not contend.
	otherRelease, err := second.Acquire(ctx, "default")
	if err != nil {
		t.Fatalf("other namespace: %v", err)
	}
	_ = otherRelease(ctx)

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	again, err := second.Acquire(ctx, "scout")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	_ = again(ctx)
}

func TestFileLockWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	l := NewFile(dirUnder(root), 5*time.Second, zap.NewNop())
	other := NewFile(dirUnder(root), 5*time.Second, zap.NewNop())

	release, err := l.Acquire(ctx, "default")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = release(ctx)
	}()

	start := time.Now()
	r2, err := other.Acquire(ctx, "default")
	if err != nil {
		t.Fatalf("waiting acquire: %v", err)
	}
	_ = r2(ctx)
	if time.Since(start) < 40*time.Millisecond {
		t.Error("second acquire did not wait for the first holder")
	}
}

func TestFileLockCancelled(t *testing.T) {
	root := t.TempDir()
	l := NewFile(dirUnder(root), 5*time.Second, zap.NewNop())
	release, err := l.Acquire(context.Background(), "default")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := NewFile(dirUnder(root), 5*time.Second, zap.NewNop()).Acquire(ctx, "default"); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("expected ErrNotAcquired on cancel, got %v", err)
	}
}

func TestFileLockBadKey(t *testing.T) {
	l := NewFile(dirUnder(t.TempDir()), time.Second, zap.NewNop())
	if _, err := l.Acquire(context.Background(), "bad"); err == nil {
		t.Error("expected error from directory mapping")
	}
}

func TestNewRedisBadURL(t *testing.T) {
	if _, err := NewRedis(Config{RedisURL: "not a url"}, zap.NewNop()); err == nil {
		t.Error("expected parse error")
	}
}
