// Package safepath canonicalizes filesystem targets and confines them to
// allow-listed roots. Every read and write in this tool passes a candidate
// path through Resolve first; a rejected path is never touched.
package safepath

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

// ErrOutsideRoot is returned by Resolve when the canonical form of a
// candidate path does not descend from any allowed root.
var ErrOutsideRoot = errors.New("path escapes allowed roots")

// Resolve canonicalizes candidate (absolute, cleaned, symlinks resolved
// through the deepest existing ancestor) and returns the canonical path if
// it is equal to or a descendant of at least one root. Roots are
// canonicalized the same way before comparison. Comparison is
// case-insensitive on Windows.
func Resolve(candidate string, roots []string) (string, error) {
	resolved, err := canonicalize(candidate)
	if err != nil {
		return "", fmt.Errorf("canonicalize %q: %w", candidate, err)
	}
	for _, root := range roots {
		canonRoot, err := canonicalize(root)
		if err != nil {
			continue
		}
		if within(resolved, canonRoot) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("%q: %w", candidate, ErrOutsideRoot)
}

// Canonical returns the absolute, symlink-resolved form of path without
// any root confinement, for callers that need to compare two locations on
// equal footing.
func Canonical(path string) (string, error) {
	return canonicalize(path)
}

// canonicalize returns the absolute, symlink-resolved form of path. The
// target itself may not exist yet; symlinks are resolved through the
// deepest ancestor that does exist and the remaining components are
// appended unresolved.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	current := filepath.Clean(abs)
	rest := ""
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, rest), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			// No existing ancestor at all; nothing left to resolve.
			return filepath.Join(current, rest), nil
		}
		rest = filepath.Join(filepath.Base(current), rest)
		current = parent
	}
}

// within reports whether path equals root or sits beneath it. The trailing
// separator on the prefix keeps /tmp/test from matching /tmp/testing.
func within(path, root string) bool {
	if runtime.GOOS == "windows" {
		path = strings.ToLower(path)
		root = strings.ToLower(root)
	}
	if path == root {
		return true
	}
	prefix := strings.TrimRight(root, string(filepath.Separator)) + string(filepath.Separator)
	return strings.HasPrefix(path, prefix)
}

var (
	unsafeChars    = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	underscoreRuns = regexp.MustCompile(`_+`)
	dashRuns       = regexp.MustCompile(`[-_]+`)
)

// SanitizeName converts an arbitrary string into a safe filename fragment:
// only alphanumerics, hyphen, and underscore survive, underscore runs are
// collapsed, and the result is capped at 50 characters. Empty input (or
// input with nothing salvageable) becomes "unknown".
func SanitizeName(name string) string {
	s := unsafeChars.ReplaceAllString(name, "_")
	s = underscoreRuns.ReplaceAllString(s, "_")
	if len(s) > 50 {
		s = s[:50]
	}
	if s == "" {
		return "unknown"
	}
	return s
}

// SanitizeBranch converts a branch name into a safe directory name:
// slashes become hyphens ("feature/x" -> "feature-x"), disallowed
// characters are replaced, hyphen/underscore runs collapse to a single
// hyphen, and leading/trailing hyphens are trimmed. Capped at 50
// characters; empty results become "unknown".
func SanitizeBranch(branch string) string {
	if branch == "" {
		return "unknown"
	}
	s := strings.ReplaceAll(branch, "/", "-")
	s = unsafeChars.ReplaceAllString(s, "_")
	s = dashRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 50 {
		s = s[:50]
	}
	if s == "" {
		return "unknown"
	}
	return s
}
