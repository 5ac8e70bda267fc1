// Package lockfile provides cross-process advisory locking through
// exclusive lock files. A lock file holds the holder's pid and creation
// time so crashed holders can be detected and cleared instead of blocking
// new acquirers forever.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// ErrTimeout is returned when a lock cannot be acquired within the
// caller's budget. Callers treat the protected operation as skipped, not
// failed.
var ErrTimeout = errors.New("lock acquisition timed out")

const retryInterval = 10 * time.Millisecond

// Lock represents an acquired lock file.
type Lock struct {
	path string
}

type lockInfo struct {
	PID       int       `json:"pid"`
	CreatedAt time.Time `json:"created_at"`
}

// Acquire obtains the lock at path, polling until timeout. A lock file
// older than staleAge is treated as abandoned and broken; staleAge <= 0
// disables stale detection.
func Acquire(path string, timeout, staleAge time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)
	for {
		created, err := tryCreate(path)
		if err != nil {
			return nil, fmt.Errorf("create lock file %s: %w", path, err)
		}
		if created {
			return &Lock{path: path}, nil
		}
		if staleAge > 0 && isStale(path, staleAge) {
			breakStale(path)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%s: %w", path, ErrTimeout)
		}
		time.Sleep(retryInterval)
	}
}

// Release removes the lock file. Releasing an already-released lock is
// not an error.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}

// WithLock runs fn while holding the lock at path.
func WithLock(path string, timeout, staleAge time.Duration, fn func() error) error {
	lock, err := Acquire(path, timeout, staleAge)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()
	return fn()
}

// tryCreate attempts a single exclusive creation of the lock file.
// Returns false without error when another holder already has it.
func tryCreate(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	info := lockInfo{PID: os.Getpid(), CreatedAt: time.Now().UTC()}
	data, err := json.Marshal(info)
	if err == nil {
		_, err = f.Write(data)
	}
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return false, err
	}
	return true, nil
}

// isStale reports whether the lock at path is older than staleAge,
// preferring the created_at recorded inside the file and falling back to
// the file mtime when the content is foreign or corrupt.
func isStale(path string, staleAge time.Duration) bool {
	data, err := os.ReadFile(path)
	if err == nil {
		var info lockInfo
		if json.Unmarshal(data, &info) == nil && !info.CreatedAt.IsZero() {
			return time.Since(info.CreatedAt) > staleAge
		}
	}
	fi, err := os.Stat(path)
	if err != nil {
		// Holder released between our create attempt and now.
		return false
	}
	return time.Since(fi.ModTime()) > staleAge
}

// breakStale clears an abandoned lock. Rename-then-remove so that a
// concurrent breaker can never delete a lock a newcomer just created
// under the original name.
func breakStale(path string) {
	stale := path + ".stale"
	if err := os.Rename(path, stale); err != nil {
		return
	}
	os.Remove(stale)
}
