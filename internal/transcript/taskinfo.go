package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// TaskInfo is the delegation metadata a parent trace records when it hands
// work to a subagent.
type TaskInfo struct {
	Subagent    string
	Description string
	Prompt      string
	Model       string
}

// TaskCall is one delegation call found in a parent trace.
type TaskCall struct {
	Info   TaskInfo
	ToolID string
}

type taskInput struct {
	SubagentType string `json:"subagent_type"`
	Description  string `json:"description"`
	Prompt       string `json:"prompt"`
	Model        string `json:"model"`
}

// TaskCalls scans a parent trace for delegation calls (tool name "Task")
// in order of appearance. A parent larger than the byte cap is skipped
// wholesale and a scan past the line cap stops with what it has; both are
// performance guards, not errors. Prompts are capped at maxPrompt bytes.
func TaskCalls(path string, roots []string, lim Limits, maxPrompt int) ([]TaskCall, error) {
	resolved, err := resolve(path, roots)
	if err != nil {
		return nil, err
	}

	if lim.MaxBytes > 0 {
		if info, err := os.Stat(resolved); err == nil && info.Size() > lim.MaxBytes {
			return nil, nil
		}
	}

	f, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer f.Close()

	var calls []TaskCall
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), scannerMax(lim.MaxBytes))

	lines := 0
	for scanner.Scan() {
		lines++
		if lim.MaxLines > 0 && lines > lim.MaxLines {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			continue
		}
		if env.Type != "assistant" || env.Message == nil {
			continue
		}
		for _, block := range blocks(env.Message.Content) {
			if block.Type != "tool_use" || block.Name != "Task" {
				continue
			}
			var in taskInput
			if err := json.Unmarshal(block.Input, &in); err != nil || in.SubagentType == "" {
				continue
			}
			calls = append(calls, TaskCall{
				Info: TaskInfo{
					Subagent:    in.SubagentType,
					Description: in.Description,
					Prompt:      Clip(in.Prompt, maxPrompt),
					Model:       in.Model,
				},
				ToolID: block.ID,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return calls, nil
	}
	return calls, nil
}

// MatchTask picks the call whose correlation id is embedded in agentID,
// falling back to the most recent call when nothing matches. exact reports
// whether an id match was found; calls must be non-empty.
func MatchTask(calls []TaskCall, agentID string) (call TaskCall, exact bool) {
	for _, c := range calls {
		if c.ToolID != "" && agentID != "" && strings.Contains(agentID, c.ToolID) {
			return c, true
		}
	}
	return calls[len(calls)-1], false
}
