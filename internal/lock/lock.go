package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"go.trai.ch/zerr"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = zerr.New("package database is locked")

// LockedError names the lock file held by another process.
type LockedError struct {
	Path string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("package database is locked by another nbpm process (%s)", e.Path)
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// Lock is an exclusive advisory lock on a file.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the lock at path without waiting. A lock held elsewhere
// fails with a *LockedError.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "creating lock directory"), "path", path)
	}

	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "acquiring lock"), "path", path)
	}
	if !ok {
		return nil, &LockedError{Path: path}
	}
	return &Lock{fl: fl}, nil
}

// Release gives the lock up.
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return zerr.With(zerr.Wrap(err, "releasing lock"), "path", l.fl.Path())
	}
	return nil
}
