package sandbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsAllowedInsideRoot(t *testing.T) {
	root := t.TempDir()
	policy := NewPathPolicy([]string{root})

	if !policy.IsAllowed(filepath.Join(root, "notes.txt")) {
		t.Error("file inside root denied")
	}
	if !policy.IsAllowed(filepath.Join(root, "deep", "nested", "file")) {
		t.Error("nonexistent file under root denied")
	}
}

func TestIsAllowedOutsideRoot(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	policy := &PathPolicy{roots: mustResolve(t, root)}

	if policy.IsAllowed(filepath.Join(other, "file")) {
		t.Error("file outside root allowed")
	}
	if policy.IsAllowed("/etc/passwd") {
		t.Error("/etc/passwd allowed")
	}
}

func TestIsAllowedTraversalEscapes(t *testing.T) {
	root := t.TempDir()
	policy := &PathPolicy{roots: mustResolve(t, root)}

	if policy.IsAllowed(filepath.Join(root, "..", "escape")) {
		t.Error("dot-dot escape allowed")
	}
}

func TestIsAllowedSensitivePatterns(t *testing.T) {
	root := t.TempDir()
	policy := NewPathPolicy([]string{root})

	denied := []string{
		filepath.Join(root, ".ssh", "config"),
		filepath.Join(root, "project", ".env"),
		filepath.Join(root, ".aws", "credentials"),
		filepath.Join(root, "keys", "id_rsa"),
		filepath.Join(root, ".git", "config"),
		filepath.Join(root, ".bashrc"),
	}
	for _, path := range denied {
		if policy.IsAllowed(path) {
			t.Errorf("sensitive path allowed: %s", path)
		}
	}

	// Ordinary dotfiles outside the pattern list are fine.
	if !policy.IsAllowed(filepath.Join(root, ".config", "app.yaml")) {
		t.Error(".config path denied")
	}
}

func TestIsAllowedResolvesSymlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	policy := &PathPolicy{roots: mustResolve(t, root)}

	if policy.IsAllowed(filepath.Join(link, "file")) {
		t.Error("symlink escape allowed")
	}
}

func TestTempDirAlwaysAllowed(t *testing.T) {
	policy := NewPathPolicy([]string{t.TempDir()})
	if !policy.IsAllowed(filepath.Join(os.TempDir(), "scratch.txt")) {
		t.Error("temp dir denied")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	if got := ExpandHome("~/docs"); got != filepath.Join(home, "docs") {
		t.Errorf("ExpandHome(~/docs) = %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandHome(/abs/path) = %q", got)
	}
}

// mustResolve builds the resolved roots list bypassing the TempDir that
// NewPathPolicy always appends, so outside-of-root cases stay outside.
func mustResolve(t *testing.T, dirs ...string) []string {
	t.Helper()
	var roots []string
	for _, dir := range dirs {
		resolved, err := resolveExisting(dir)
		if err != nil {
			t.Fatalf("resolveExisting(%s): %v", dir, err)
		}
		roots = append(roots, resolved)
	}
	return roots
}
