package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fakeyudi/tasktrail/internal/transcript"
)

// PromptEntry is one user prompt in a session summary.
type PromptEntry struct {
	Timestamp string
	Text      string
}

// InvocationEntry is one subagent invocation in a session summary.
type InvocationEntry struct {
	Subagent   string
	Branch     string
	Start      string
	DurationMS int64
	// LogFile is relative to the agents log directory; empty when the
	// detached log write has not landed yet.
	LogFile string
	// Excerpt is the masked extract of the log's final result.
	Excerpt string
}

// SessionSummary is the assembled record of one session, rendered once at
// session end.
type SessionSummary struct {
	SessionID   string
	Date        string
	Start       string
	End         string
	Invocations []InvocationEntry
	Prompts     []PromptEntry
	GeneratedAt string
}

// promptPreview bounds how much of each prompt the summary quotes.
const promptPreview = 200

// excerptLines bounds how many lines of a log excerpt the summary quotes.
const excerptLines = 5

// Session renders a session summary document. Section order is fixed:
// overview, prompt history, invocation history.
func Session(sum *SessionSummary, agentsDir string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Session Summary: %s\n\n", sum.Date)

	b.WriteString("## Overview\n\n")
	b.WriteString("| Field | Value |\n")
	b.WriteString("|-------|-------|\n")
	fmt.Fprintf(&b, "| Session | `%s...` |\n", shortID(sum.SessionID))
	fmt.Fprintf(&b, "| Started | %s |\n", sum.Start)
	fmt.Fprintf(&b, "| Ended | %s |\n", sum.End)
	fmt.Fprintf(&b, "| Subagent invocations | %d |\n", len(sum.Invocations))
	fmt.Fprintf(&b, "| User prompts | %d |\n", len(sum.Prompts))
	var totalMS int64
	for _, inv := range sum.Invocations {
		totalMS += inv.DurationMS
	}
	if totalMS > 0 {
		fmt.Fprintf(&b, "| Total subagent time | %.1fs |\n", float64(totalMS)/1000)
	}
	if branches := branchList(sum.Invocations); branches != "" {
		fmt.Fprintf(&b, "| Branches | %s |\n", branches)
	}
	b.WriteString("\n---\n\n")

	if len(sum.Prompts) > 0 {
		b.WriteString("## Prompt History\n\n")
		for i, prompt := range sum.Prompts {
			fmt.Fprintf(&b, "### %d. [%s]\n\n", i+1, timeOfDay(prompt.Timestamp))
			fmt.Fprintf(&b, "> %s\n", clipPreview(prompt.Text))
			if len(prompt.Text) > promptPreview {
				b.WriteString("> ...\n")
			}
			b.WriteString("\n")
		}
		b.WriteString("---\n\n")
	}

	b.WriteString("## Invocation History\n\n")
	if len(sum.Invocations) == 0 {
		b.WriteString("(no subagent calls)\n\n")
	}
	for i, inv := range sortByStart(sum.Invocations) {
		fmt.Fprintf(&b, "### %d. %s [%s]%s\n\n", i+1, inv.Subagent, timeOfDay(inv.Start), durationSuffix(inv.DurationMS))
		if inv.LogFile == "" {
			b.WriteString("(log pending)\n\n")
			continue
		}
		fmt.Fprintf(&b, "**Log**: `%s`\n\n", agentsDir+"/"+inv.LogFile)
		if inv.Excerpt != "" {
			lines := strings.Split(inv.Excerpt, "\n")
			quoted := lines
			if len(quoted) > excerptLines {
				quoted = quoted[:excerptLines]
			}
			for _, line := range quoted {
				fmt.Fprintf(&b, "> %s\n", line)
			}
			if len(lines) > excerptLines {
				b.WriteString("> ...\n")
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "*Generated at %s*\n", sum.GeneratedAt)

	return b.String()
}

func shortID(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}

func clipPreview(text string) string {
	return transcript.Clip(text, promptPreview)
}

func durationSuffix(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return fmt.Sprintf(" (%.1fs)", float64(ms)/1000)
}

// timeOfDay extracts HH:MM:SS from an RFC3339-like stamp, textually, so
// odd stamps degrade to themselves rather than erroring.
func timeOfDay(ts string) string {
	if i := strings.Index(ts, "T"); i >= 0 && i+1 < len(ts) {
		rest := ts[i+1:]
		if len(rest) > 8 {
			rest = rest[:8]
		}
		return rest
	}
	return ts
}

func sortByStart(invocations []InvocationEntry) []InvocationEntry {
	sorted := make([]InvocationEntry, len(invocations))
	copy(sorted, invocations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})
	return sorted
}

// branchList joins the distinct branches touched in a session, sorted for
// stable output.
func branchList(invocations []InvocationEntry) string {
	seen := make(map[string]bool)
	var branches []string
	for _, inv := range invocations {
		branch := inv.Branch
		if branch == "" {
			branch = "unknown"
		}
		if !seen[branch] {
			seen[branch] = true
			branches = append(branches, branch)
		}
	}
	sort.Strings(branches)
	return strings.Join(branches, ", ")
}
