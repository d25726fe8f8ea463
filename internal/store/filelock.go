package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockRetryInterval = 250 * time.Millisecond
	lockMaxRetries    = 8
)

// FileLock guards the data directory so only one daemon writes the database.
// CLI one-shots share the sqlite busy timeout instead; the flock is for the
// long-lived process.
type FileLock struct {
	fileLock *flock.Flock
	path     string
}

// AcquireLock takes the lock file or fails after a bounded retry loop.
func AcquireLock(path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	fl := flock.New(path)
	for i := 0; i < lockMaxRetries; i++ {
		locked, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", path, err)
		}
		if locked {
			return &FileLock{fileLock: fl, path: path}, nil
		}
		time.Sleep(lockRetryInterval)
	}
	return nil, fmt.Errorf("lock %s is held by another process", path)
}

func (l *FileLock) Path() string { return l.path }

func (l *FileLock) Release() error {
	if err := l.fileLock.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}
