// Package worker runs the detached background pipelines: turning one
// invocation transcript into a rendered log, and aggregating a finished
// session into a summary document. Each pipeline runs in its own
// short-lived process, handed a JSON job by the signal handler that
// spawned it.
package worker

import (
	"fmt"
	"io"
	"os"

	"github.com/fakeyudi/tasktrail/internal/safepath"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "150405"
)

// JobInfo is the invocation metadata captured at the start signal.
type JobInfo struct {
	Subagent    string `json:"subagent"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
	Model       string `json:"model,omitempty"`
	StartTS     string `json:"start_ts"`
	Date        string `json:"date"`
	WorkDir     string `json:"cwd"`
}

// AnalyzeJob asks for one invocation transcript to be analyzed and logged.
type AnalyzeJob struct {
	SessionID      string  `json:"session_id"`
	InvocationID   string  `json:"invocation_id"`
	TranscriptPath string  `json:"transcript_path"`
	Info           JobInfo `json:"session_info"`
	ProjectRoot    string  `json:"project_root"`
	EndTS          string  `json:"end_ts"`
}

// SummarizeJob asks for a finished session to be summarized.
type SummarizeJob struct {
	SessionID   string `json:"session_id"`
	ProjectRoot string `json:"project_root"`
	StartTS     string `json:"start_ts"`
	EndTS       string `json:"end_ts"`
	Branch      string `json:"branch"`
}

// ReadJobInput returns the job payload from path, or from stdin when path
// is empty. An input file is written once by the spawning process and is
// deleted once read.
func ReadJobInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	_ = os.Remove(path)
	return data, err
}

// ResolveProjectRoot canonicalizes root, defaulting to the pinned project
// directory or the current directory. When the host environment pins a
// project directory, any other root is refused.
func ResolveProjectRoot(root string) (string, error) {
	if root == "" {
		root = os.Getenv("CLAUDE_PROJECT_DIR")
	}
	if root == "" {
		root = "."
	}
	resolved, err := safepath.Canonical(root)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	if pinned := os.Getenv("CLAUDE_PROJECT_DIR"); pinned != "" {
		pinnedResolved, err := safepath.Canonical(pinned)
		if err != nil {
			return "", fmt.Errorf("resolve pinned project directory: %w", err)
		}
		if resolved != pinnedResolved {
			return "", fmt.Errorf("project root %q is not the configured project directory", root)
		}
	}
	return resolved, nil
}

// AllowedRoots lists the directories a transcript may live under.
func AllowedRoots(projectRoot string) []string {
	roots := []string{projectRoot}
	if home, err := os.UserHomeDir(); err == nil {
		roots = append(roots, home)
	}
	return roots
}

func fallback(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
