// Package cache implements the cross-process session cache: a JSON map in
// a per-user, owner-only directory, shared by concurrent short-lived hook
// processes and guarded by an advisory lock file. Entries expire after a
// TTL; expired entries read as absent and are pruned on write.
package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fakeyudi/tasktrail/internal/lockfile"
)

var (
	// ErrAbsent is returned by Get when no entry exists under the key.
	ErrAbsent = errors.New("cache entry absent")
	// ErrExpired is returned by Get when the entry exists but is older
	// than the TTL. Callers treat it the same as ErrAbsent.
	ErrExpired = errors.New("cache entry expired")
)

// lockTimeout keeps cache lock waits well under the hook process's own
// external time budget.
const lockTimeout = 5 * time.Second

const (
	storeName = "sessions.json"
	lockName  = "sessions.lock"
)

// Entry is the metadata cached when a subagent invocation starts.
type Entry struct {
	StartTS     time.Time `json:"start_ts"`
	Subagent    string    `json:"subagent"`
	Date        string    `json:"date"`
	Description string    `json:"description"`
	Prompt      string    `json:"prompt"`
	Model       string    `json:"model,omitempty"`
	WorkDir     string    `json:"cwd"`
}

// Key builds the store key for one invocation within a session.
func Key(sessionID, invocationID string) string {
	return sessionID + "_" + invocationID
}

// Options configure a Store.
type Options struct {
	// Dir overrides the per-user cache directory.
	Dir string
	// TTL is the entry time-to-live; defaults to 24h.
	TTL time.Duration
	// StaleAge is the lock-file staleness bound passed to the lock.
	StaleAge time.Duration
	// Logger receives soft-failure warnings; defaults to slog.Default().
	Logger *slog.Logger
}

// Store is a handle on the shared session cache.
type Store struct {
	path     string
	lockPath string
	ttl      time.Duration
	staleAge time.Duration
	logger   *slog.Logger
}

// Open ensures the cache directory exists with owner-only permissions and
// returns a Store. The store file itself appears on first Put.
func Open(opts Options) (*Store, error) {
	dir := opts.Dir
	if dir == "" {
		d, err := UserDir()
		if err != nil {
			return nil, fmt.Errorf("resolve cache directory: %w", err)
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:     filepath.Join(dir, storeName),
		lockPath: filepath.Join(dir, lockName),
		ttl:      ttl,
		staleAge: opts.StaleAge,
		logger:   logger,
	}, nil
}

// UserDir returns the per-user cache location: %LOCALAPPDATA%\tasktrail on
// Windows, $XDG_CACHE_HOME/tasktrail or ~/.cache/tasktrail elsewhere.
func UserDir() (string, error) {
	if runtime.GOOS == "windows" {
		if base := os.Getenv("LOCALAPPDATA"); base != "" {
			return filepath.Join(base, "tasktrail"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "AppData", "Local", "tasktrail"), nil
	}
	if base := os.Getenv("XDG_CACHE_HOME"); base != "" {
		return filepath.Join(base, "tasktrail"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", "tasktrail"), nil
}

// Put stores e under key. The whole read-modify-write cycle runs under the
// store lock, with expired entries pruned in the same cycle. Concurrent
// writers to the same key resolve as last-writer-wins.
func (s *Store) Put(key string, e Entry) error {
	return lockfile.WithLock(s.lockPath, lockTimeout, s.staleAge, func() error {
		entries := s.load()
		s.prune(entries)
		entries[key] = e
		return s.save(entries)
	})
}

// Get returns the entry stored under key. ErrAbsent when no entry exists,
// ErrExpired when it exists but its age exceeds the TTL.
func (s *Store) Get(key string) (Entry, error) {
	var entry Entry
	err := lockfile.WithLock(s.lockPath, lockTimeout, s.staleAge, func() error {
		e, ok := s.load()[key]
		if !ok {
			return ErrAbsent
		}
		if s.expired(e) {
			return ErrExpired
		}
		entry = e
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Session returns all live entries belonging to sessionID, keyed by
// invocation id (the session prefix is stripped).
func (s *Store) Session(sessionID string) (map[string]Entry, error) {
	prefix := sessionID + "_"
	out := make(map[string]Entry)
	err := lockfile.WithLock(s.lockPath, lockTimeout, s.staleAge, func() error {
		for key, e := range s.load() {
			if !strings.HasPrefix(key, prefix) || s.expired(e) {
				continue
			}
			out[strings.TrimPrefix(key, prefix)] = e
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Snapshot returns every live entry in the store.
func (s *Store) Snapshot() (map[string]Entry, error) {
	out := make(map[string]Entry)
	err := lockfile.WithLock(s.lockPath, lockTimeout, s.staleAge, func() error {
		for key, e := range s.load() {
			if s.expired(e) {
				continue
			}
			out[key] = e
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) expired(e Entry) bool {
	return time.Since(e.StartTS) > s.ttl
}

// load reads the backing file. A missing, empty, or corrupt store reads as
// empty rather than failing: the cache is best-effort state, and a broken
// file must not block hook processing.
func (s *Store) load() map[string]Entry {
	entries := make(map[string]Entry)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("session cache unreadable, treating as empty", "path", s.path, "error", err)
		}
		return entries
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return entries
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("session cache corrupt, treating as empty", "path", s.path, "error", err)
		return make(map[string]Entry)
	}
	return entries
}

// prune drops expired entries from the map in place.
func (s *Store) prune(entries map[string]Entry) {
	for key, e := range entries {
		if s.expired(e) {
			delete(entries, key)
		}
	}
}

// save writes the store atomically: temp file in the same directory, then
// rename, so readers never observe a partial write.
func (s *Store) save(entries map[string]Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session cache: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "sessions-*.json.tmp")
	if err != nil {
		return fmt.Errorf("stage session cache: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("stage session cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("stage session cache: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit session cache: %w", err)
	}
	return nil
}
