package transcript

import (
	"bytes"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/fakeyudi/tasktrail/internal/redact"
)

// Placeholders for missing pieces of an invocation record.
const (
	NoResult   = "(no result)"
	NoResponse = "(no response)"
)

// truncMarker is appended whenever a field cap cut content.
const truncMarker = "... (truncated)"

// Meta is the invocation identity known before the trace is read, gathered
// from the start signal and the session cache.
type Meta struct {
	Subagent     string
	InvocationID string
	Description  string
	Prompt       string
	Model        string
	Start        string
	End          string
}

// Caps are the per-field length bounds applied while correlating.
type Caps struct {
	ToolInput  int
	ToolResult int
	Response   int
	Prompt     int
}

// ToolUsage is one correlated (call, result) pair. Input and Result are
// already masked and length-capped.
type ToolUsage struct {
	Tool   string
	Input  string
	Result string
}

// InvocationRecord is the structured outcome of one subagent invocation.
// All freeform text has passed the redaction engine; the record is built
// once and not mutated afterwards.
type InvocationRecord struct {
	Subagent      string
	InvocationID  string
	Description   string
	Prompt        string
	Model         string
	Branch        string
	Start         string
	End           string
	ToolUsages    []ToolUsage
	FinalResponse string
	Truncated     bool
	ParseErrors   int
}

// Correlate folds a Transcript into one InvocationRecord. Tool calls pair
// with the nearest following result carrying the same correlation id;
// calls that never see a result keep the NoResult placeholder instead of
// being dropped. Entry order follows call order in the trace.
func Correlate(tr *Transcript, meta Meta, caps Caps) *InvocationRecord {
	rec := &InvocationRecord{
		Subagent:     meta.Subagent,
		InvocationID: meta.InvocationID,
		Description:  redact.Mask(meta.Description),
		Prompt:       capText(redact.Mask(meta.Prompt), caps.Prompt),
		Model:        meta.Model,
		Branch:       tr.Branch,
		Start:        meta.Start,
		End:          meta.End,
		Truncated:    tr.Truncated,
		ParseErrors:  tr.ParseErrors,
	}

	type result struct {
		pos  int
		text string
		used bool
	}
	resultsByID := make(map[string][]*result)
	for i, ev := range tr.Events {
		if ev.Kind == KindToolResult && ev.ToolID != "" {
			resultsByID[ev.ToolID] = append(resultsByID[ev.ToolID], &result{pos: i, text: ev.Text})
		}
	}

	var lastResponse string
	for i, ev := range tr.Events {
		switch ev.Kind {
		case KindToolCall:
			usage := ToolUsage{
				Tool:   ev.Tool,
				Input:  capText(redact.Mask(prettyInput(ev.Input)), caps.ToolInput),
				Result: NoResult,
			}
			for _, r := range resultsByID[ev.ToolID] {
				if !r.used && r.pos > i {
					r.used = true
					usage.Result = capText(redact.Mask(r.text), caps.ToolResult)
					break
				}
			}
			rec.ToolUsages = append(rec.ToolUsages, usage)

		case KindModelMessage:
			if ev.Text != "" {
				lastResponse = ev.Text
			}
			if ev.Model != "" && rec.Model == "" {
				rec.Model = ev.Model
			}
		}
	}

	if lastResponse == "" {
		rec.FinalResponse = NoResponse
	} else {
		rec.FinalResponse = capText(redact.Mask(lastResponse), caps.Response)
	}

	return rec
}

// ElapsedMS reports the invocation duration in milliseconds, false when
// either timestamp is missing or unparseable.
func (r *InvocationRecord) ElapsedMS() (int64, bool) {
	start, ok := ParseStamp(r.Start)
	if !ok {
		return 0, false
	}
	end, ok := ParseStamp(r.End)
	if !ok {
		return 0, false
	}
	return end.Sub(start).Milliseconds(), true
}

// ParseStamp parses a trace timestamp, accepting RFC3339 (with or without
// fractional seconds) and zone-less local stamps.
func ParseStamp(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// prettyInput renders a tool input payload as indented JSON. Empty and
// trivially empty payloads render as "" so callers can skip them.
func prettyInput(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
		return string(trimmed)
	}
	return buf.String()
}

// capText cuts s at max bytes, appending a visible marker when anything
// was cut. max <= 0 means unbounded.
func capText(s string, max int) string {
	clipped := Clip(s, max)
	if clipped == s {
		return s
	}
	return clipped + "\n" + truncMarker
}

// Clip cuts s at max bytes on a rune boundary without a marker, the cap
// applied to metadata gathered at collection time. max <= 0 means
// unbounded.
func Clip(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
