package transcript

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fakeyudi/tasktrail/internal/safepath"
)

const (
	promptLine = `{"type":"user","timestamp":"2026-08-23T10:00:00Z","gitBranch":"feature/login","sessionStartTimestamp":"2026-08-23T09:58:00Z","message":{"content":"Fix the login flow"}}`
	callLine   = `{"type":"assistant","timestamp":"2026-08-23T10:00:05Z","message":{"model":"sonnet","content":[{"type":"text","text":"Let me check."},{"type":"tool_use","id":"toolu_01","name":"Read","input":{"file_path":"auth.go"}}]}}`
	resultLine = `{"type":"user","timestamp":"2026-08-23T10:00:06Z","message":{"content":[{"type":"tool_result","tool_use_id":"toolu_01","content":"package auth"}]}}`
	finalLine  = `{"type":"assistant","timestamp":"2026-08-23T10:00:10Z","message":{"model":"sonnet","content":[{"type":"text","text":"The null check was missing."}]}}`
)

func writeTrace(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, "trace.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write trace: %v", err)
	}
	return path
}

func TestReadFlattensEvents(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeTrace(t, dir, promptLine, callLine, resultLine, finalLine)

	tr, err := Read(path, []string{dir}, Limits{MaxBytes: 1 << 20, MaxLines: 100})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if tr.Branch != "feature/login" {
		t.Errorf("Branch = %q, want %q", tr.Branch, "feature/login")
	}
	if tr.Truncated {
		t.Error("Truncated = true for a trace within caps")
	}
	if tr.ParseErrors != 0 {
		t.Errorf("ParseErrors = %d, want 0", tr.ParseErrors)
	}

	wantKinds := []Kind{KindPrompt, KindModelMessage, KindToolCall, KindToolResult, KindModelMessage}
	if len(tr.Events) != len(wantKinds) {
		t.Fatalf("got %d events, want %d: %+v", len(tr.Events), len(wantKinds), tr.Events)
	}
	for i, want := range wantKinds {
		if tr.Events[i].Kind != want {
			t.Errorf("event %d kind = %q, want %q", i, tr.Events[i].Kind, want)
		}
	}

	call := tr.Events[2]
	if call.Tool != "Read" || call.ToolID != "toolu_01" {
		t.Errorf("tool call = %+v, want Read/toolu_01", call)
	}
	if !strings.Contains(string(call.Input), "auth.go") {
		t.Errorf("tool input %s lost its payload", call.Input)
	}
	result := tr.Events[3]
	if result.ToolID != "toolu_01" || result.Text != "package auth" {
		t.Errorf("tool result = %+v", result)
	}
	if got := tr.Events[4]; got.Text != "The null check was missing." || got.Model != "sonnet" {
		t.Errorf("final message = %+v", got)
	}
}

func TestReadSkipsMalformedLines(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeTrace(t, dir, promptLine, `{"type":"assistant","message":`, finalLine)

	tr, err := Read(path, []string{dir}, Limits{MaxBytes: 1 << 20, MaxLines: 100})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if tr.ParseErrors != 1 {
		t.Errorf("ParseErrors = %d, want 1", tr.ParseErrors)
	}
	if len(tr.Events) != 2 {
		t.Fatalf("got %d events, want 2 (prompt and final message)", len(tr.Events))
	}
}

func TestReadStopsAtLineCap(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeTrace(t, dir, promptLine, callLine, resultLine, finalLine)

	tr, err := Read(path, []string{dir}, Limits{MaxBytes: 1 << 20, MaxLines: 2})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !tr.Truncated {
		t.Error("Truncated = false after dropping lines past the cap")
	}
	// Lines one and two yield prompt, intermediate text, and the call.
	if len(tr.Events) != 3 {
		t.Errorf("got %d events, want 3: %+v", len(tr.Events), tr.Events)
	}
	for _, ev := range tr.Events {
		if ev.Kind == KindToolResult {
			t.Errorf("event from a dropped line leaked through: %+v", ev)
		}
	}
}

func TestReadStopsAtByteCap(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeTrace(t, dir, promptLine, callLine, resultLine, finalLine)

	limit := int64(len(promptLine) + 10)
	tr, err := Read(path, []string{dir}, Limits{MaxBytes: limit, MaxLines: 100})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !tr.Truncated {
		t.Error("Truncated = false for an over-cap source")
	}
	if len(tr.Events) == 0 || tr.Events[0].Kind != KindPrompt {
		t.Fatalf("events before the cap were lost: %+v", tr.Events)
	}
}

func TestReadRejectsPathOutsideRoots(t *testing.T) {
	t.Parallel()
	outside := t.TempDir()
	path := writeTrace(t, outside, promptLine)

	_, err := Read(path, []string{t.TempDir()}, Limits{})
	if !errors.Is(err, safepath.ErrOutsideRoot) {
		t.Errorf("err = %v, want ErrOutsideRoot", err)
	}
}

func TestReadMissingSource(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := Read(filepath.Join(dir, "absent.jsonl"), []string{dir}, Limits{})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestReadHead(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeTrace(t, dir, promptLine, callLine)

	head, err := ReadHead(path, []string{dir})
	if err != nil {
		t.Fatalf("ReadHead: %v", err)
	}
	if head.Branch != "feature/login" {
		t.Errorf("Branch = %q", head.Branch)
	}
	if head.SessionStart != "2026-08-23T09:58:00Z" {
		t.Errorf("SessionStart = %q", head.SessionStart)
	}
	if head.Timestamp != "2026-08-23T10:00:00Z" {
		t.Errorf("Timestamp = %q", head.Timestamp)
	}
}

func TestReadLegacyFlatEvents(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeTrace(t, dir,
		`{"type":"tool_use","id":"t1","tool":"Bash","input":{"command":"ls"}}`,
		`{"type":"tool_result","toolUseId":"t1","content":"ok"}`,
	)

	tr, err := Read(path, []string{dir}, Limits{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(tr.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(tr.Events))
	}
	if tr.Events[0].Kind != KindToolCall || tr.Events[0].Tool != "Bash" || tr.Events[0].ToolID != "t1" {
		t.Errorf("legacy call = %+v", tr.Events[0])
	}
	if tr.Events[1].Kind != KindToolResult || tr.Events[1].Text != "ok" {
		t.Errorf("legacy result = %+v", tr.Events[1])
	}
}

func TestReadJoinsResultBlocks(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeTrace(t, dir,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t9","content":[{"type":"text","text":"line one"},"line two"]}]}}`,
	)

	tr, err := Read(path, []string{dir}, Limits{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(tr.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(tr.Events))
	}
	if got, want := tr.Events[0].Text, "line one\nline two"; got != want {
		t.Errorf("result text = %q, want %q", got, want)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	if got, want := ExpandHome("~/traces/a.jsonl"), filepath.Join(home, "traces", "a.jsonl"); got != want {
		t.Errorf("ExpandHome = %q, want %q", got, want)
	}
	if got := ExpandHome("/abs/path.jsonl"); got != "/abs/path.jsonl" {
		t.Errorf("ExpandHome rewrote an absolute path: %q", got)
	}
}
