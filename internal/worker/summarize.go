package worker

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/fakeyudi/tasktrail/internal/cache"
	"github.com/fakeyudi/tasktrail/internal/config"
	"github.com/fakeyudi/tasktrail/internal/index"
	"github.com/fakeyudi/tasktrail/internal/redact"
	"github.com/fakeyudi/tasktrail/internal/render"
	"github.com/fakeyudi/tasktrail/internal/safepath"
	"github.com/fakeyudi/tasktrail/internal/transcript"
)

// Detached analyze workers land their index appends at unpredictable
// times, so the aggregator rereads until the session's record count stops
// growing.
const (
	settleAttempts = 4
	settleWait     = 500 * time.Millisecond
)

const (
	finalResultHeading = "## Final Result"
	excerptMax         = 500
)

var nextSection = regexp.MustCompile(`\n(## |---\n)`)

// Summarize aggregates one finished session: index records, still-pending
// cache entries, and the prompt history, rendered into a summary document
// at a deterministic path so a repeated session-stop overwrites rather
// than duplicates. Returns the written path; empty with nil error means
// the session had no subagent activity to summarize.
func Summarize(job SummarizeJob, cfg config.Config, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	root, err := ResolveProjectRoot(job.ProjectRoot)
	if err != nil {
		return "", err
	}

	agentsDir := cfg.AgentsDir(root)
	idx := index.Open(agentsDir, cfg.StaleLockAge())
	records := settleSession(idx, job.SessionID, logger)
	pending := pendingEntries(records, job.SessionID, cfg, logger)

	if len(records) == 0 && len(pending) == 0 {
		logger.Info("no subagent calls in session, skipping summary", "session", job.SessionID)
		return "", nil
	}

	invocations := make([]render.InvocationEntry, 0, len(records)+len(pending))
	for _, rec := range records {
		invocations = append(invocations, render.InvocationEntry{
			Subagent:   rec.Subagent,
			Branch:     rec.Branch,
			Start:      rec.Start,
			DurationMS: rec.DurationMS,
			LogFile:    rec.LogFile,
			Excerpt:    finalResultExcerpt(root, agentsDir, rec.LogFile),
		})
	}
	invocations = append(invocations, pending...)

	prompts, err := idx.Prompts(job.SessionID)
	if err != nil {
		logger.Warn("prompt history unreadable", "session", job.SessionID, "error", err)
	}
	promptEntries := make([]render.PromptEntry, 0, len(prompts))
	for _, p := range prompts {
		promptEntries = append(promptEntries, render.PromptEntry{Timestamp: p.Timestamp, Text: p.Prompt})
	}

	date := sessionDate(job.StartTS)
	doc := render.Session(&render.SessionSummary{
		SessionID:   job.SessionID,
		Date:        date,
		Start:       job.StartTS,
		End:         job.EndTS,
		Invocations: invocations,
		Prompts:     promptEntries,
		GeneratedAt: time.Now().Format(time.RFC3339),
	}, path.Join(cfg.LogsRoot, "agents"))

	target := summaryPath(cfg.SessionsDir(root), date, job.Branch, job.SessionID, job.StartTS)
	resolved, err := safepath.Resolve(target, []string{root})
	if err != nil {
		return "", fmt.Errorf("validate summary path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("create summary directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(doc), 0o644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	return resolved, nil
}

// settleSession rereads the session's index records until the count stops
// growing, waking early on index change notifications.
func settleSession(idx *index.Store, sessionID string, logger *slog.Logger) []index.Record {
	var records []index.Record
	last := -1
	for attempt := 0; attempt < settleAttempts; attempt++ {
		if attempt > 0 {
			idx.AwaitChange(settleWait)
		}
		got, err := idx.Session(sessionID)
		if err != nil {
			logger.Warn("index read failed", "attempt", attempt+1, "error", err)
			continue
		}
		records = got
		if len(records) == last && len(records) > 0 {
			break
		}
		last = len(records)
	}
	return records
}

// pendingEntries surfaces cached invocations that never made it into the
// index, so a summary racing a slow analyze worker still lists them.
func pendingEntries(records []index.Record, sessionID string, cfg config.Config, logger *slog.Logger) []render.InvocationEntry {
	store, err := cache.Open(cache.Options{
		TTL:      cfg.CacheTTL(),
		StaleAge: cfg.StaleLockAge(),
		Logger:   logger,
	})
	if err != nil {
		logger.Warn("session cache unavailable", "error", err)
		return nil
	}
	entries, err := store.Session(sessionID)
	if err != nil {
		logger.Warn("session cache read failed", "error", err)
		return nil
	}

	indexed := make(map[string]bool, len(records))
	for _, rec := range records {
		indexed[rec.Invocation] = true
	}
	var pending []render.InvocationEntry
	for invocationID, entry := range entries {
		if indexed[invocationID] {
			continue
		}
		pending = append(pending, render.InvocationEntry{
			Subagent: entry.Subagent,
			Start:    entry.StartTS.Format(time.RFC3339),
		})
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Start != pending[j].Start {
			return pending[i].Start < pending[j].Start
		}
		return pending[i].Subagent < pending[j].Subagent
	})
	return pending
}

// finalResultExcerpt pulls the final-result section out of a rendered log,
// re-masked and capped for quoting.
func finalResultExcerpt(root, agentsDir, rel string) string {
	if rel == "" {
		return ""
	}
	resolved, err := safepath.Resolve(filepath.Join(agentsDir, filepath.FromSlash(rel)), []string{root})
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ""
	}
	_, after, found := strings.Cut(string(data), finalResultHeading)
	if !found {
		return ""
	}
	if loc := nextSection.FindStringIndex(after); loc != nil {
		after = after[:loc[0]]
	}
	result := redact.Mask(strings.TrimSpace(after))
	if len(result) > excerptMax {
		result = transcript.Clip(result, excerptMax-3) + "..."
	}
	return result
}

func sessionDate(startTS string) string {
	if t, ok := transcript.ParseStamp(startTS); ok {
		return t.Format(dateLayout)
	}
	return time.Now().Format(dateLayout)
}

// summaryPath derives the summary location from the session's own start
// time so the name is stable across re-runs.
func summaryPath(sessionsDir, date, branch, sessionID, startTS string) string {
	dir := filepath.Join(sessionsDir, date)
	if branch != "" {
		dir = filepath.Join(dir, safepath.SanitizeBranch(branch))
	}
	stamp := "000000"
	if t, ok := transcript.ParseStamp(startTS); ok {
		stamp = t.Format(timeLayout)
	}
	short := sessionID
	if len(short) > 16 {
		short = short[:16]
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s.md", stamp, short))
}
