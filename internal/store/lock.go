package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

// LockFileName is created inside the data directory while a store is open.
const LockFileName = ".pagesearch.lock"

// DirLock is a cross-process exclusive lock on a data directory, so two
// processes never write the same store.
type DirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDirLock creates an unlocked lock for dir.
func NewDirLock(dir string) *DirLock {
	lockPath := filepath.Join(dir, LockFileName)
	return &DirLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// TryLock acquires the lock without blocking. A lock held by another
// process returns ERR_304_STORE_LOCKED.
func (l *DirLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return apperr.StoreError("create lock directory", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return apperr.StoreError("acquire data directory lock", err)
	}
	if !acquired {
		return apperr.New(apperr.ErrCodeStoreLocked,
			fmt.Sprintf("data directory %s is in use by another process", filepath.Dir(l.path)), nil).
			WithSuggestion("stop the other pagesearch process or use --data-dir")
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call when not locked.
func (l *DirLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DirLock) Path() string { return l.path }

// IsLocked reports whether this process holds the lock.
func (l *DirLock) IsLocked() bool { return l.locked }
