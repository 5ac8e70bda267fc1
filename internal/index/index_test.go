package index

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return Open(filepath.Join(t.TempDir(), "logs", "agents"), time.Minute)
}

func record(session, invocation string) Record {
	return Record{
		Date:       "2026-08-23",
		Session:    session,
		Invocation: invocation,
		Subagent:   "reviewer",
		Branch:     "main",
		Start:      "2026-08-23T10:00:00Z",
		End:        "2026-08-23T10:00:30Z",
		DurationMS: 30000,
		Status:     StatusSuccess,
		LogFile:    "2026-08-23/main/100030_reviewer_abcd1234.md",
	}
}

func TestAppendProducesParseableLines(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	const k = 5
	for i := 0; i < k; i++ {
		if err := s.Append(record("sess-1", fmt.Sprintf("t%d", i))); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	f, err := os.Open(filepath.Join(s.Dir(), indexName))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Errorf("line %d not parseable: %v", lines, err)
		}
		lines++
	}
	if lines != k {
		t.Errorf("index has %d lines after %d appends", lines, k)
	}
}

func TestAppendConcurrent(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Append(record("sess-1", fmt.Sprintf("t%d", i))); err != nil {
				t.Errorf("Append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	records, err := s.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(records) != writers {
		t.Fatalf("got %d records, want %d", len(records), writers)
	}
	seen := make(map[string]bool)
	for _, rec := range records {
		if seen[rec.Invocation] {
			t.Errorf("invocation %s recorded twice", rec.Invocation)
		}
		seen[rec.Invocation] = true
	}
}

func TestAppendLeavesNoStagingFiles(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	for i := 0; i < 3; i++ {
		if err := s.Append(record("sess-1", fmt.Sprintf("t%d", i))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	leftovers, err := filepath.Glob(filepath.Join(s.Dir(), "*.tmp"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(leftovers) != 0 {
		t.Errorf("staging files left behind: %v", leftovers)
	}
}

func TestSessionFilters(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	for _, pair := range [][2]string{{"sess-a", "t1"}, {"sess-b", "t1"}, {"sess-a", "t2"}} {
		if err := s.Append(record(pair[0], pair[1])); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Session("sess-a")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if len(got) != 2 || got[0].Invocation != "t1" || got[1].Invocation != "t2" {
		t.Errorf("Session = %+v, want t1 then t2", got)
	}
}

func TestSessionMissingIndex(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	got, err := s.Session("sess-a")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got != nil {
		t.Errorf("Session on missing index = %+v, want nil", got)
	}
}

func TestSessionSkipsMalformedLines(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	if err := s.Append(record("sess-a", "t1")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	path := filepath.Join(s.Dir(), indexName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("{torn line\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()
	if err := s.Append(record("sess-a", "t2")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.Session("sess-a")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d records, want 2 with the torn line skipped", len(got))
	}
}

func TestLatest(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	if _, ok, err := s.Latest(); err != nil || ok {
		t.Fatalf("Latest on empty index = ok=%v err=%v", ok, err)
	}

	for _, inv := range []string{"t1", "t2"} {
		if err := s.Append(record("sess-a", inv)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	rec, ok, err := s.Latest()
	if err != nil || !ok {
		t.Fatalf("Latest: ok=%v err=%v", ok, err)
	}
	if rec.Invocation != "t2" {
		t.Errorf("Latest = %+v, want t2", rec)
	}
}

func TestPrompts(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	prompts := []PromptRecord{
		{Timestamp: "2026-08-23T10:00:00Z", SessionID: "sess-a", Prompt: "first", Date: "2026-08-23"},
		{Timestamp: "2026-08-23T10:01:00Z", SessionID: "sess-b", Prompt: "other", Date: "2026-08-23"},
		{Timestamp: "2026-08-23T10:02:00Z", SessionID: "sess-a", Prompt: "second", Date: "2026-08-23"},
	}
	for _, rec := range prompts {
		if err := s.AppendPrompt(rec); err != nil {
			t.Fatalf("AppendPrompt: %v", err)
		}
	}

	got, err := s.Prompts("sess-a")
	if err != nil {
		t.Fatalf("Prompts: %v", err)
	}
	if len(got) != 2 || got[0].Prompt != "first" || got[1].Prompt != "second" {
		t.Errorf("Prompts = %+v", got)
	}

	all, err := s.Prompts("")
	if err != nil {
		t.Fatalf("Prompts(all): %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all prompts = %d, want 3", len(all))
	}
}

func TestAwaitChange(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	if err := s.Append(record("sess-a", "t0")); err != nil {
		t.Fatalf("seed append: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(50 * time.Millisecond)
		if err := s.Append(record("sess-a", "t1")); err != nil {
			t.Errorf("background append: %v", err)
		}
	}()

	if !s.AwaitChange(2 * time.Second) {
		t.Error("AwaitChange missed an append")
	}
	<-done

	if s.AwaitChange(50 * time.Millisecond) {
		t.Error("AwaitChange reported a change on a quiet index")
	}
}

func TestAppendCreatesDirectories(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "deep", "logs", "agents")
	s := Open(dir, time.Minute)

	if err := s.Append(record("sess-a", "t1")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, indexName)); err != nil {
		t.Errorf("index not created: %v", err)
	}
}

func TestRecordRoundtrip(t *testing.T) {
	t.Parallel()
	rec := record("sess-a", "t1")
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range []string{`"date"`, `"session"`, `"invocation"`, `"subagent"`, `"branch"`, `"start"`, `"end"`, `"duration_ms"`, `"status"`, `"log_file"`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("serialized record missing %s: %s", field, data)
		}
	}
}
