package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/fakeyudi/tasktrail/internal/config"
	"github.com/fakeyudi/tasktrail/internal/index"
	"github.com/fakeyudi/tasktrail/internal/lockfile"
	"github.com/fakeyudi/tasktrail/internal/render"
	"github.com/fakeyudi/tasktrail/internal/safepath"
	"github.com/fakeyudi/tasktrail/internal/transcript"
)

// Analyze reads the invocation's transcript, correlates it into a record,
// renders the log document, writes it under the agents log tree, and
// appends one index record. Returns the written log path; an empty path
// with nil error means the transcript held nothing worth logging. Index
// failures are soft: the log survives, the warning goes to the logger.
func Analyze(job AnalyzeJob, cfg config.Config, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	root, err := ResolveProjectRoot(job.ProjectRoot)
	if err != nil {
		return "", err
	}

	tr, err := transcript.Read(job.TranscriptPath, AllowedRoots(root), transcript.Limits{
		MaxBytes: cfg.MaxTranscriptBytes(),
		MaxLines: cfg.MaxEvents,
	})
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	if len(tr.Events) == 0 {
		logger.Warn("empty or unreadable transcript, skipping log generation", "path", job.TranscriptPath)
		return "", nil
	}
	if tr.Truncated {
		logger.Warn("transcript truncated at read caps", "path", job.TranscriptPath)
	}
	if tr.ParseErrors > 0 {
		logger.Warn("skipped malformed transcript lines", "path", job.TranscriptPath, "count", tr.ParseErrors)
	}

	rec := transcript.Correlate(tr, transcript.Meta{
		Subagent:     fallback(job.Info.Subagent, "unknown"),
		InvocationID: job.InvocationID,
		Description:  job.Info.Description,
		Prompt:       job.Info.Prompt,
		Model:        job.Info.Model,
		Start:        job.Info.StartTS,
		End:          job.EndTS,
	}, transcript.Caps{
		ToolInput:  cfg.MaxToolInputLength,
		ToolResult: cfg.MaxToolResultLength,
		Response:   cfg.MaxContentLength,
		Prompt:     cfg.MaxPromptLength,
	})

	doc := render.Invocation(rec, job.TranscriptPath)

	agentsDir := cfg.AgentsDir(root)
	date := fallback(job.Info.Date, time.Now().Format(dateLayout))
	logPath, err := writeInvocationLog(agentsDir, root, date, rec.Branch, rec.Subagent, doc)
	if err != nil {
		return "", err
	}

	relPath, err := filepath.Rel(agentsDir, logPath)
	if err != nil {
		relPath = filepath.Base(logPath)
	}
	relPath = filepath.ToSlash(relPath)

	durationMS, _ := rec.ElapsedMS()
	idx := index.Open(agentsDir, cfg.StaleLockAge())
	err = idx.Append(index.Record{
		Date:       date,
		Session:    job.SessionID,
		Invocation: job.InvocationID,
		Subagent:   rec.Subagent,
		Branch:     fallback(rec.Branch, "unknown"),
		Start:      job.Info.StartTS,
		End:        job.EndTS,
		DurationMS: durationMS,
		Status:     index.StatusSuccess,
		LogFile:    relPath,
	})
	if err != nil {
		if errors.Is(err, lockfile.ErrTimeout) {
			logger.Warn("index lock timed out, entry skipped", "session", job.SessionID)
		} else {
			logger.Warn("index append failed", "session", job.SessionID, "error", err)
		}
	}
	return logPath, nil
}

// writeInvocationLog places the rendered document at
// {agents}/{date}/{branch}/{time}_{subagent}_{id}.md. The branch level is
// omitted when the trace carried no branch. The target is validated
// against the project root before anything is created.
func writeInvocationLog(agentsDir, root, date, branch, subagent, doc string) (string, error) {
	dir := filepath.Join(agentsDir, date)
	if branch != "" {
		dir = filepath.Join(dir, safepath.SanitizeBranch(branch))
	}
	name := fmt.Sprintf("%s_%s_%s.md",
		time.Now().Format(timeLayout), safepath.SanitizeName(subagent), uuid.NewString()[:8])

	resolved, err := safepath.Resolve(filepath.Join(dir, name), []string{root})
	if err != nil {
		return "", fmt.Errorf("validate log path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("create log directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(doc), 0o644); err != nil {
		return "", fmt.Errorf("write log: %w", err)
	}
	return resolved, nil
}
