// Package render turns structured records into Markdown documents. Both
// generators are pure: no clock, no I/O, identical input yields identical
// output.
package render

import (
	"fmt"
	"strings"

	"github.com/fakeyudi/tasktrail/internal/transcript"
)

// Invocation renders one subagent invocation log. Section order is fixed:
// metadata, task, execution trace, final result, references.
func Invocation(rec *transcript.InvocationRecord, transcriptPath string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Agent Log: %s\n\n", rec.Subagent)

	b.WriteString("## Metadata\n\n")
	b.WriteString("| Field | Value |\n")
	b.WriteString("|-------|-------|\n")
	fmt.Fprintf(&b, "| Started | %s |\n", rec.Start)
	fmt.Fprintf(&b, "| Subagent | %s |\n", rec.Subagent)
	fmt.Fprintf(&b, "| Model | %s |\n", modelName(rec.Model))
	fmt.Fprintf(&b, "| Duration | %s |\n", durationLabel(rec))
	if rec.Truncated {
		b.WriteString("| Truncated | yes |\n")
	}
	b.WriteString("\n---\n\n")

	b.WriteString("## Task\n\n")
	if rec.Description != "" {
		fmt.Fprintf(&b, "**Description**: %s\n\n", rec.Description)
	}
	b.WriteString("```\n")
	b.WriteString(escapeFence(rec.Prompt))
	b.WriteString("\n```\n\n---\n\n")

	b.WriteString("## Execution Trace\n\n")
	if len(rec.ToolUsages) == 0 {
		b.WriteString("(no tool use)\n\n")
	}
	for i, usage := range rec.ToolUsages {
		fmt.Fprintf(&b, "### %d. [%s]\n\n", i+1, usage.Tool)
		if usage.Input != "" {
			b.WriteString("**Input:**\n```json\n")
			b.WriteString(escapeFence(usage.Input))
			b.WriteString("\n```\n\n")
		}
		if usage.Result != "" {
			b.WriteString("**Result:**\n```\n")
			b.WriteString(escapeFence(usage.Result))
			b.WriteString("\n```\n\n")
		}
	}
	b.WriteString("---\n\n")

	b.WriteString("## Final Result\n\n")
	b.WriteString(escapeResponse(rec.FinalResponse))
	b.WriteString("\n\n---\n\n")

	b.WriteString("## References\n\n")
	fmt.Fprintf(&b, "- Transcript: `%s`\n", transcriptPath)

	return b.String()
}

func modelName(model string) string {
	if model == "" {
		return "default"
	}
	return model
}

func durationLabel(rec *transcript.InvocationRecord) string {
	ms, ok := rec.ElapsedMS()
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}

// escapeFence defuses fence delimiters inside fenced content.
func escapeFence(text string) string {
	return strings.ReplaceAll(text, "```", "` ` `")
}

// escapeResponse keeps a freeform response from being misread as document
// structure: leading horizontal rules are escaped along with fences.
func escapeResponse(text string) string {
	if strings.HasPrefix(text, "---") {
		text = "\\---" + text[3:]
	}
	text = strings.ReplaceAll(text, "\n---", "\n\\---")
	return escapeFence(text)
}
