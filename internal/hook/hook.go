// Package hook turns host agent signals into cache writes, prompt records,
// and detached worker launches. Handlers degrade to a no-op on failure so
// the signal always returns to the host without blocking it.
package hook

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fakeyudi/tasktrail/internal/cache"
	"github.com/fakeyudi/tasktrail/internal/config"
	"github.com/fakeyudi/tasktrail/internal/index"
	"github.com/fakeyudi/tasktrail/internal/transcript"
	"github.com/fakeyudi/tasktrail/internal/worker"
)

// Signal names the host sends in hook_event_name.
const (
	EventPreToolUse       = "PreToolUse"
	EventUserPromptSubmit = "UserPromptSubmit"
	EventSubagentStop     = "SubagentStop"
	EventStop             = "Stop"
)

const (
	taskToolName = "Task"
	dateLayout   = "2006-01-02"
)

// Payload is the JSON document the host writes to the hook's stdin.
// Fields are populated per event; absent ones stay zero.
type Payload struct {
	Event               string    `json:"hook_event_name"`
	SessionID           string    `json:"session_id"`
	TranscriptPath      string    `json:"transcript_path"`
	WorkDir             string    `json:"cwd"`
	ToolName            string    `json:"tool_name"`
	ToolInput           ToolInput `json:"tool_input"`
	ToolUseID           string    `json:"tool_use_id"`
	AgentID             string    `json:"agent_id"`
	AgentTranscriptPath string    `json:"agent_transcript_path"`
	Prompt              string    `json:"prompt"`
	StopHookActive      bool      `json:"stop_hook_active"`
}

// ToolInput carries the Task tool's delegation arguments.
type ToolInput struct {
	SubagentType string `json:"subagent_type"`
	Description  string `json:"description"`
	Prompt       string `json:"prompt"`
	Model        string `json:"model"`
}

// SpawnFunc launches a detached worker subcommand with a JSON job on its
// stdin.
type SpawnFunc func(subcommand string, job []byte) error

// Runner routes hook payloads to their handlers.
type Runner struct {
	cfg    config.Config
	logger *slog.Logger
	spawn  SpawnFunc
	now    func() time.Time
}

func NewRunner(cfg config.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: logger, spawn: spawnWorker, now: time.Now}
}

// Dispatch parses one hook payload and runs the matching handler. Signals
// outside the suite are ignored.
func (r *Runner) Dispatch(input []byte) error {
	var p Payload
	if err := json.Unmarshal(input, &p); err != nil {
		return fmt.Errorf("parse hook payload: %w", err)
	}
	if p.SessionID == "" {
		p.SessionID = "unknown"
	}
	switch p.Event {
	case EventPreToolUse:
		return r.cacheTaskStart(p)
	case EventUserPromptSubmit:
		return r.recordPrompt(p)
	case EventSubagentStop:
		return r.launchAnalyze(p)
	case EventStop:
		return r.launchSummarize(p)
	}
	return nil
}

// cacheTaskStart records a Task delegation's start so the analyze worker
// can recover its true start time later. Other tools are ignored.
func (r *Runner) cacheTaskStart(p Payload) error {
	if p.ToolName != taskToolName {
		return nil
	}
	store, err := cache.Open(cache.Options{
		TTL:      r.cfg.CacheTTL(),
		StaleAge: r.cfg.StaleLockAge(),
		Logger:   r.logger,
	})
	if err != nil {
		return fmt.Errorf("open session cache: %w", err)
	}
	now := r.now()
	subagent := p.ToolInput.SubagentType
	if subagent == "" {
		subagent = "unknown"
	}
	return store.Put(cache.Key(p.SessionID, p.ToolUseID), cache.Entry{
		StartTS:     now,
		Subagent:    subagent,
		Date:        now.Format(dateLayout),
		Description: p.ToolInput.Description,
		Prompt:      transcript.Clip(p.ToolInput.Prompt, r.cfg.MaxPromptLength),
		Model:       p.ToolInput.Model,
		WorkDir:     p.WorkDir,
	})
}

// recordPrompt appends the submitted prompt to the session's prompt
// history. User prompts keep twice the usual cap so summaries retain
// enough context.
func (r *Runner) recordPrompt(p Payload) error {
	if p.Prompt == "" {
		return nil
	}
	root, err := worker.ResolveProjectRoot("")
	if err != nil {
		return err
	}
	now := r.now()
	idx := index.Open(r.cfg.AgentsDir(root), r.cfg.StaleLockAge())
	return idx.AppendPrompt(index.PromptRecord{
		Timestamp: now.Format(time.RFC3339),
		SessionID: p.SessionID,
		Prompt:    transcript.Clip(p.Prompt, 2*r.cfg.MaxPromptLength),
		Date:      now.Format(dateLayout),
	})
}

// launchAnalyze pairs the finished subagent with its Task call in the
// parent transcript and hands the agent trace to a detached analyze
// worker. Both transcript paths must be present; the host omits them on
// interrupted runs.
func (r *Runner) launchAnalyze(p Payload) error {
	if p.TranscriptPath == "" || p.AgentTranscriptPath == "" {
		return nil
	}
	root, err := worker.ResolveProjectRoot("")
	if err != nil {
		return err
	}

	calls, err := transcript.TaskCalls(p.TranscriptPath, worker.AllowedRoots(root), transcript.Limits{
		MaxBytes: r.cfg.MaxParentTranscriptBytes(),
		MaxLines: r.cfg.MaxParentTranscriptEvents,
	}, r.cfg.MaxPromptLength)
	if err != nil {
		r.logger.Warn("parent transcript unreadable, skipping analyze",
			"path", p.TranscriptPath, "error", err)
		return nil
	}
	if len(calls) == 0 {
		return nil
	}
	call, exact := transcript.MatchTask(calls, p.AgentID)
	if !exact {
		r.logger.Warn("no task call matches agent id, using the latest",
			"agent", p.AgentID, "tool", call.ToolID)
	}

	now := r.now()
	startTS := now.Format(time.RFC3339)
	store, err := cache.Open(cache.Options{
		TTL:      r.cfg.CacheTTL(),
		StaleAge: r.cfg.StaleLockAge(),
		Logger:   r.logger,
	})
	if err == nil {
		if entry, err := store.Get(cache.Key(p.SessionID, call.ToolID)); err == nil {
			startTS = entry.StartTS.Format(time.RFC3339)
		}
	}

	job := worker.AnalyzeJob{
		SessionID:      p.SessionID,
		InvocationID:   call.ToolID,
		TranscriptPath: p.AgentTranscriptPath,
		Info: worker.JobInfo{
			Subagent:    call.Info.Subagent,
			Description: call.Info.Description,
			Prompt:      call.Info.Prompt,
			Model:       call.Info.Model,
			StartTS:     startTS,
			Date:        now.Format(dateLayout),
			WorkDir:     p.WorkDir,
		},
		ProjectRoot: root,
		EndTS:       now.Format(time.RFC3339),
	}
	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode analyze job: %w", err)
	}
	return r.spawn("analyze", encoded)
}

// launchSummarize snapshots the session frame and hands it to a detached
// summarize worker. stop_hook_active marks a hook-initiated stop, which
// must not spawn again.
func (r *Runner) launchSummarize(p Payload) error {
	if p.StopHookActive {
		return nil
	}
	root, err := worker.ResolveProjectRoot("")
	if err != nil {
		return err
	}

	var branch, startTS string
	if p.TranscriptPath != "" {
		head, err := transcript.ReadHead(p.TranscriptPath, worker.AllowedRoots(root))
		if err != nil {
			r.logger.Warn("session transcript head unreadable",
				"path", p.TranscriptPath, "error", err)
		} else {
			branch = head.Branch
			startTS = head.SessionStart
			if startTS == "" {
				startTS = head.Timestamp
			}
		}
	}

	job := worker.SummarizeJob{
		SessionID:   p.SessionID,
		ProjectRoot: root,
		StartTS:     startTS,
		EndTS:       r.now().Format(time.RFC3339),
		Branch:      branch,
	}
	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode summarize job: %w", err)
	}
	return r.spawn("summarize", encoded)
}
