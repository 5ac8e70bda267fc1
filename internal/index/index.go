// Package index maintains the append-only invocation index and the user
// prompt history, both JSONL files under the agents log directory. Appends
// are staged to a temporary file and renamed into place under an advisory
// lock, so a crash mid-write leaves either the previous index or the
// previous index plus one complete line, never a torn line.
package index

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fakeyudi/tasktrail/internal/lockfile"
)

const (
	indexName   = "index.jsonl"
	promptsName = "user_prompts.jsonl"
	lockSuffix  = ".lock"
)

// Lock waits stay well under the producing process's external time budget.
const (
	appendLockTimeout = 10 * time.Second
	readLockTimeout   = 5 * time.Second
)

// StatusSuccess is the status recorded for a completed invocation log.
const StatusSuccess = "success"

// Record is one line of the invocation index.
type Record struct {
	Date       string `json:"date"`
	Session    string `json:"session"`
	Invocation string `json:"invocation"`
	Subagent   string `json:"subagent"`
	Branch     string `json:"branch"`
	Start      string `json:"start"`
	End        string `json:"end"`
	DurationMS int64  `json:"duration_ms"`
	Status     string `json:"status"`
	// LogFile is relative to the agents log directory.
	LogFile string `json:"log_file"`
}

// PromptRecord is one line of the user prompt history.
type PromptRecord struct {
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
	Date      string `json:"date"`
}

// Store is a handle on one agents log directory.
type Store struct {
	dir      string
	staleAge time.Duration
}

// Open returns a Store rooted at the agents log directory. Nothing is
// created until the first append.
func Open(dir string, staleAge time.Duration) *Store {
	return &Store{dir: dir, staleAge: staleAge}
}

// Dir returns the agents log directory the store is rooted at.
func (s *Store) Dir() string {
	return s.dir
}

// Append adds one record to the index under lock.
func (s *Store) Append(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode index record: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}
	path := filepath.Join(s.dir, indexName)
	return lockfile.WithLock(path+lockSuffix, appendLockTimeout, s.staleAge, func() error {
		return appendLine(path, line)
	})
}

// AppendPrompt adds one record to the prompt history under lock.
func (s *Store) AppendPrompt(rec PromptRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode prompt record: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}
	path := filepath.Join(s.dir, promptsName)
	return lockfile.WithLock(path+lockSuffix, readLockTimeout, s.staleAge, func() error {
		return appendLine(path, line)
	})
}

// Session returns the index records for one session, in append order. The
// read shares the writers' lock so it never observes an in-flight append.
func (s *Store) Session(sessionID string) ([]Record, error) {
	path := filepath.Join(s.dir, indexName)
	var records []Record
	err := lockfile.WithLock(path+lockSuffix, readLockTimeout, s.staleAge, func() error {
		all, err := readRecords(path)
		if err != nil {
			return err
		}
		for _, rec := range all {
			if rec.Session == sessionID {
				records = append(records, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// All returns every index record in append order. Renamed-in appends make
// the file consistent at any instant, so no lock is taken.
func (s *Store) All() ([]Record, error) {
	return readRecords(filepath.Join(s.dir, indexName))
}

// Latest returns the most recently appended record, false on an empty or
// missing index.
func (s *Store) Latest() (Record, bool, error) {
	records, err := s.All()
	if err != nil {
		return Record{}, false, err
	}
	if len(records) == 0 {
		return Record{}, false, nil
	}
	return records[len(records)-1], true, nil
}

// Prompts returns the prompt history for one session in append order. An
// empty sessionID returns every prompt.
func (s *Store) Prompts(sessionID string) ([]PromptRecord, error) {
	path := filepath.Join(s.dir, promptsName)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open prompt history: %w", err)
	}
	defer f.Close()

	var prompts []PromptRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec PromptRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if sessionID == "" || rec.SessionID == sessionID {
			prompts = append(prompts, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return prompts, fmt.Errorf("scan prompt history: %w", err)
	}
	return prompts, nil
}

// AwaitChange blocks until the index file changes or the wait elapses,
// reporting whether a change was seen. Detached producers land their
// appends at unpredictable times; a settle loop uses this instead of a
// blind sleep. Falls back to sleeping out the wait when no watcher can be
// established.
func (s *Store) AwaitChange(wait time.Duration) bool {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		time.Sleep(wait)
		return false
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		time.Sleep(wait)
		return false
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return false
			}
			// Staged appends surface as a rename onto the index name.
			if filepath.Base(ev.Name) == indexName {
				return true
			}
		case <-watcher.Errors:
		case <-deadline.C:
			return false
		}
	}
}

func readRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("scan index: %w", err)
	}
	return records, nil
}

// appendLine stages the current file content plus one line to a temp file
// in the same directory, fsyncs it, and renames it over the original.
func appendLine(path string, line []byte) error {
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read index: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("stage append: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if len(existing) > 0 {
		if _, err := tmp.Write(existing); err != nil {
			cleanup()
			return fmt.Errorf("stage append: %w", err)
		}
	}
	if _, err := tmp.Write(append(line, '\n')); err != nil {
		cleanup()
		return fmt.Errorf("stage append: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync staged append: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close staged append: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit append: %w", err)
	}
	return syncDir(filepath.Dir(path))
}

// syncDir flushes the directory entry so the rename survives a crash.
func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	d.Sync()
	return nil
}
