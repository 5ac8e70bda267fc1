package cache

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Dir: t.TempDir(), TTL: time.Hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestPutGetRoundtrip(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	want := Entry{
		StartTS:     time.Now().UTC().Truncate(time.Second),
		Subagent:    "code-reviewer",
		Date:        "2026-08-23",
		Description: "Review the parser changes",
		Prompt:      "Please review internal/parser for correctness.",
		Model:       "sonnet",
		WorkDir:     "/work/repo",
	}
	key := Key("sess-1", "toolu_01")
	if err := s.Put(key, want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.StartTS.Equal(want.StartTS) {
		t.Errorf("StartTS = %v, want %v", got.StartTS, want.StartTS)
	}
	got.StartTS = want.StartTS
	if got != want {
		t.Errorf("entry = %+v, want %+v", got, want)
	}
}

func TestGetAbsent(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	if _, err := s.Get(Key("sess-1", "missing")); !errors.Is(err, ErrAbsent) {
		t.Errorf("err = %v, want ErrAbsent", err)
	}
}

func TestGetExpired(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	key := Key("sess-1", "toolu_01")
	old := Entry{StartTS: time.Now().Add(-2 * time.Hour), Subagent: "tester"}
	if err := s.Put(key, old); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := s.Get(key); !errors.Is(err, ErrExpired) {
		t.Errorf("err = %v, want ErrExpired", err)
	}
}

func TestPutPrunesExpiredEntries(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	stale := Key("sess-1", "old")
	if err := s.Put(stale, Entry{StartTS: time.Now().Add(-2 * time.Hour)}); err != nil {
		t.Fatalf("Put stale: %v", err)
	}
	fresh := Key("sess-1", "new")
	if err := s.Put(fresh, Entry{StartTS: time.Now(), Subagent: "debugger"}); err != nil {
		t.Fatalf("Put fresh: %v", err)
	}

	all, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("snapshot has %d entries, want 1: %v", len(all), all)
	}
	if _, ok := all[fresh]; !ok {
		t.Errorf("fresh entry missing from snapshot")
	}

	// The stale entry must be gone from the backing file too, not just
	// filtered on read.
	data, err := os.ReadFile(s.path)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if bytes.Contains(data, []byte(`"old"`)) {
		t.Errorf("backing file still contains pruned key")
	}
}

func TestConcurrentPutsSameKey(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	const writers = 50
	key := Key("sess-1", "toolu_01")
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := Entry{
				StartTS:     time.Now(),
				Description: fmt.Sprintf("attempt-%d", i),
			}
			if err := s.Put(key, e); err != nil {
				t.Errorf("Put %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	valid := make(map[string]bool, writers)
	for i := 0; i < writers; i++ {
		valid[fmt.Sprintf("attempt-%d", i)] = true
	}
	if !valid[got.Description] {
		t.Errorf("final value %q is not one of the attempted writes", got.Description)
	}
}

func TestCorruptStoreTreatedAsEmpty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := Open(Options{Dir: dir, TTL: time.Hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, storeName), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write corrupt store: %v", err)
	}

	if _, err := s.Get(Key("s", "t")); !errors.Is(err, ErrAbsent) {
		t.Errorf("Get on corrupt store: err = %v, want ErrAbsent", err)
	}

	// A write recovers the store.
	key := Key("s", "t")
	if err := s.Put(key, Entry{StartTS: time.Now(), Subagent: "fixer"}); err != nil {
		t.Fatalf("Put after corruption: %v", err)
	}
	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get after recovery: %v", err)
	}
	if got.Subagent != "fixer" {
		t.Errorf("Subagent = %q, want %q", got.Subagent, "fixer")
	}
}

func TestSessionFiltersByPrefix(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	now := time.Now()
	puts := map[string]Entry{
		Key("sess-a", "t1"): {StartTS: now, Subagent: "one"},
		Key("sess-a", "t2"): {StartTS: now, Subagent: "two"},
		Key("sess-b", "t1"): {StartTS: now, Subagent: "other"},
	}
	for k, e := range puts {
		if err := s.Put(k, e); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}

	got, err := s.Session("sess-a")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Session returned %d entries, want 2: %v", len(got), got)
	}
	if got["t1"].Subagent != "one" || got["t2"].Subagent != "two" {
		t.Errorf("Session entries = %v, want invocation ids t1/t2", got)
	}
}

func TestOpenCreatesOwnerOnlyDir(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits not meaningful on windows")
	}
	dir := filepath.Join(t.TempDir(), "cache")
	if _, err := Open(Options{Dir: dir, TTL: time.Hour}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("cache dir mode = %o, want 700", perm)
	}
}
