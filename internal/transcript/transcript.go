// Package transcript reads the JSONL trace a worker invocation leaves
// behind and correlates its raw events into one structured invocation
// record. Reads are bounded by byte and event caps and tolerate malformed
// lines; only a completely unreadable source is an error.
package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fakeyudi/tasktrail/internal/safepath"
)

// ErrUnavailable marks a trace source that cannot be opened at all.
var ErrUnavailable = errors.New("transcript unavailable")

// Kind classifies a flattened trace event.
type Kind string

const (
	KindPrompt       Kind = "prompt"
	KindToolCall     Kind = "tool-call"
	KindToolResult   Kind = "tool-result"
	KindModelMessage Kind = "model-message"
)

// Event is one flattened entry from a trace line. A single line may carry
// several content blocks and therefore yield several events.
type Event struct {
	Kind      Kind
	Timestamp string
	Tool      string
	ToolID    string
	Input     json.RawMessage
	Text      string
	Model     string
}

// Transcript is the bounded result of reading one trace file.
type Transcript struct {
	Events []Event
	// Branch is the git branch recorded on the first trace line.
	Branch string
	// Truncated reports that the byte or line cap cut the read short.
	Truncated bool
	// ParseErrors counts malformed lines that were skipped.
	ParseErrors int
}

// Limits bound a single read.
type Limits struct {
	MaxBytes int64
	MaxLines int
}

// Head is the session-level metadata carried on the first trace line.
type Head struct {
	Branch       string
	SessionStart string
	Timestamp    string
}

// envelope is the wire shape of one trace line. Newer traces nest content
// under message; older ones carry tool fields at the top level.
type envelope struct {
	Type                  string          `json:"type"`
	Timestamp             string          `json:"timestamp"`
	GitBranch             string          `json:"gitBranch"`
	SessionStartTimestamp string          `json:"sessionStartTimestamp"`
	Message               *messageBody    `json:"message"`
	ToolUseID             string          `json:"toolUseId"`
	ToolID                string          `json:"tool_id"`
	LegacyToolUseID       string          `json:"tool_use_id"`
	ID                    string          `json:"id"`
	Tool                  string          `json:"tool"`
	Name                  string          `json:"name"`
	Input                 json.RawMessage `json:"input"`
	ToolInput             json.RawMessage `json:"tool_input"`
	Content               json.RawMessage `json:"content"`
	Result                json.RawMessage `json:"result"`
}

type messageBody struct {
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
}

// Read parses the trace at path into a bounded Transcript. The path must
// resolve under one of roots. A source larger than the byte cap is read up
// to the cap and marked Truncated; lines past the line cap are dropped the
// same way. Malformed lines are counted and skipped, never fatal.
func Read(path string, roots []string, lim Limits) (*Transcript, error) {
	resolved, err := resolve(path, roots)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer f.Close()

	tr := &Transcript{}
	var src io.Reader = f
	if lim.MaxBytes > 0 {
		if info, err := f.Stat(); err == nil && info.Size() > lim.MaxBytes {
			tr.Truncated = true
		}
		src = io.LimitReader(f, lim.MaxBytes)
	}

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), scannerMax(lim.MaxBytes))

	lineNo := 0
	sawFirst := false
	for scanner.Scan() {
		if lim.MaxLines > 0 && lineNo >= lim.MaxLines {
			tr.Truncated = true
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lineNo++

		var env envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			tr.ParseErrors++
			continue
		}
		if !sawFirst {
			tr.Branch = env.GitBranch
			sawFirst = true
		}
		tr.Events = append(tr.Events, flatten(&env)...)
	}
	if err := scanner.Err(); err != nil {
		// An oversized line cannot be resynced past; treat the rest of
		// the stream as cut off.
		tr.ParseErrors++
		tr.Truncated = true
	}

	return tr, nil
}

// ReadHead parses only the first trace line, enough for session-stop
// handling to learn the branch and session start time cheaply.
func ReadHead(path string, roots []string) (Head, error) {
	resolved, err := resolve(path, roots)
	if err != nil {
		return Head{}, err
	}
	f, err := os.Open(resolved)
	if err != nil {
		return Head{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			return Head{}, nil
		}
		return Head{
			Branch:       env.GitBranch,
			SessionStart: env.SessionStartTimestamp,
			Timestamp:    env.Timestamp,
		}, nil
	}
	return Head{}, nil
}

func resolve(path string, roots []string) (string, error) {
	expanded := ExpandHome(path)
	resolved, err := safepath.Resolve(expanded, roots)
	if err != nil {
		return "", fmt.Errorf("validate transcript path: %w", err)
	}
	return resolved, nil
}

// ExpandHome substitutes a leading ~ with the current user's home
// directory, matching how trace paths are delivered.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func scannerMax(maxBytes int64) int {
	const floor = 8 * 1024 * 1024
	if maxBytes > floor {
		return int(maxBytes)
	}
	return floor
}

// flatten expands one trace line into zero or more events.
func flatten(env *envelope) []Event {
	var events []Event

	switch env.Type {
	case "assistant":
		if env.Message == nil {
			return nil
		}
		for _, block := range blocks(env.Message.Content) {
			switch block.Type {
			case "text":
				if block.Text != "" {
					events = append(events, Event{
						Kind:      KindModelMessage,
						Timestamp: env.Timestamp,
						Text:      block.Text,
						Model:     env.Message.Model,
					})
				}
			case "tool_use":
				if block.ID != "" {
					events = append(events, Event{
						Kind:      KindToolCall,
						Timestamp: env.Timestamp,
						Tool:      toolName(block.Name),
						ToolID:    block.ID,
						Input:     block.Input,
					})
				}
			}
		}

	case "user":
		if env.Message == nil {
			return nil
		}
		// A user line is either the prompt itself (string content or text
		// blocks) or the carrier of nested tool results.
		var prompt string
		if err := json.Unmarshal(env.Message.Content, &prompt); err == nil {
			if prompt != "" {
				events = append(events, Event{Kind: KindPrompt, Timestamp: env.Timestamp, Text: prompt})
			}
			return events
		}
		for _, block := range blocks(env.Message.Content) {
			switch block.Type {
			case "text":
				if block.Text != "" {
					events = append(events, Event{Kind: KindPrompt, Timestamp: env.Timestamp, Text: block.Text})
				}
			case "tool_result":
				events = append(events, Event{
					Kind:      KindToolResult,
					Timestamp: env.Timestamp,
					ToolID:    block.ToolUseID,
					Text:      resultText(block.Content),
				})
			}
		}

	case "tool_result":
		id := firstNonEmpty(env.ToolUseID, env.ToolID, env.LegacyToolUseID)
		raw := env.Content
		if len(raw) == 0 {
			raw = env.Result
		}
		events = append(events, Event{
			Kind:      KindToolResult,
			Timestamp: env.Timestamp,
			ToolID:    id,
			Text:      resultText(raw),
		})

	case "tool_use":
		id := firstNonEmpty(env.ID, env.LegacyToolUseID)
		if id != "" {
			input := env.Input
			if len(input) == 0 {
				input = env.ToolInput
			}
			events = append(events, Event{
				Kind:      KindToolCall,
				Timestamp: env.Timestamp,
				Tool:      toolName(firstNonEmpty(env.Tool, env.Name)),
				ToolID:    id,
				Input:     input,
			})
		}
	}

	return events
}

// blocks decodes a content array, skipping entries that are not objects.
func blocks(raw json.RawMessage) []contentBlock {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]contentBlock, 0, len(items))
	for _, item := range items {
		var block contentBlock
		if err := json.Unmarshal(item, &block); err != nil {
			continue
		}
		out = append(out, block)
	}
	return out
}

// resultText renders a tool result payload, which may be a plain string or
// a list of text blocks, as one string.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		var parts []string
		for _, item := range items {
			var itemStr string
			if err := json.Unmarshal(item, &itemStr); err == nil {
				parts = append(parts, itemStr)
				continue
			}
			var block contentBlock
			if err := json.Unmarshal(item, &block); err == nil && block.Type == "text" {
				parts = append(parts, block.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}

func toolName(name string) string {
	if name == "" {
		return "Unknown"
	}
	return name
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
