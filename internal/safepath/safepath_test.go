package safepath

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestResolveAcceptsDescendant(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	target := filepath.Join(root, "logs", "agents", "index.jsonl")

	got, err := Resolve(target, []string{root})
	if err != nil {
		t.Fatalf("Resolve rejected a descendant: %v", err)
	}
	if filepath.Base(got) != "index.jsonl" {
		t.Errorf("unexpected canonical path %q", got)
	}
}

func TestResolveAcceptsRootItself(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	if _, err := Resolve(root, []string{root}); err != nil {
		t.Fatalf("Resolve rejected the root itself: %v", err)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	cases := []struct {
		name      string
		candidate string
	}{
		{"dotdot escape", filepath.Join(root, "logs", "..", "..", "etc", "passwd")},
		{"absolute override", filepath.Join(string(filepath.Separator), "etc", "passwd")},
		{"sibling prefix", root + "-sibling/file.md"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Resolve(tc.candidate, []string{root})
			if !errors.Is(err, ErrOutsideRoot) {
				t.Fatalf("Resolve(%q) = %v, want ErrOutsideRoot", tc.candidate, err)
			}
		})
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(root, "sneaky")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks not supported here: %v", err)
	}

	_, err := Resolve(filepath.Join(link, "data.md"), []string{root})
	if !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("symlink escape not rejected: %v", err)
	}
}

func TestResolveNonexistentTargetUnderRoot(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	target := filepath.Join(root, "not", "yet", "created.md")

	if _, err := Resolve(target, []string{root}); err != nil {
		t.Fatalf("Resolve rejected a not-yet-created descendant: %v", err)
	}
}

func TestSanitizeName(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want string
	}{
		{"", "unknown"},
		{"code-reviewer", "code-reviewer"},
		{"general purpose!", "general_purpose_"},
		{"...", "_"},
		{"a__b___c", "a_b_c"},
	}
	for _, tc := range cases {
		if got := SanitizeName(tc.in); got != tc.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	long := SanitizeName(strings.Repeat("x", 80))
	if len(long) != 50 {
		t.Errorf("long name not capped at 50: got %d", len(long))
	}
}

func TestSanitizeBranch(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want string
	}{
		{"", "unknown"},
		{"develop", "develop"},
		{"feature/some-feature", "feature-some-feature"},
		{"fix_bug/login", "fix-bug-login"},
		{"--wip--", "wip"},
		{"release/v1.2.3", "release-v1-2-3"},
	}
	for _, tc := range cases {
		if got := SanitizeBranch(tc.in); got != tc.want {
			t.Errorf("SanitizeBranch(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

var safeFragment = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)

func TestSanitizersAlwaysProduceSafeFragments(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.String().Draw(t, "input")
		if out := SanitizeName(in); !safeFragment.MatchString(out) {
			t.Fatalf("SanitizeName(%q) = %q, unsafe fragment", in, out)
		}
		if out := SanitizeBranch(in); !safeFragment.MatchString(out) {
			t.Fatalf("SanitizeBranch(%q) = %q, unsafe fragment", in, out)
		}
	})
}
