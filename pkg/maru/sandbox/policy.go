// Package sandbox – policy.go implements the path sandbox every filesystem
// tool argument passes through: allow-list roots, sensitive-pattern
// rejection, and symlink normalisation. The check is fail-safe: any
// resolution error means the path is denied.
package sandbox

import (
	"os"
	"path/filepath"
	"strings"
)

// sensitivePatterns are path fragments that are always rejected, even when
// the path sits inside an allowed root. Matched against the cleaned path.
var sensitivePatterns = []string{
	".ssh/",
	".gnupg/",
	".aws/",
	".env",
	".npmrc",
	".netrc",
	".git/config",
	".bashrc",
	".bash_profile",
	".zshrc",
	".profile",
	"id_rsa",
	"id_ed25519",
}

// PathPolicy decides which filesystem paths tools may touch.
type PathPolicy struct {
	// roots are the resolved allow-list directories.
	roots []string
}

// NewPathPolicy builds a policy from the given allow-list directories.
// Each entry is expanded (~), absolutised and symlink-resolved. /tmp is
// always included. An empty list defaults to the user's home directory.
func NewPathPolicy(allowed []string) *PathPolicy {
	if len(allowed) == 0 {
		if home, err := os.UserHomeDir(); err == nil {
			allowed = []string{home}
		}
	}
	allowed = append(allowed, os.TempDir())

	p := &PathPolicy{}
	for _, dir := range allowed {
		resolved, err := resolveExisting(ExpandHome(dir))
		if err != nil {
			continue
		}
		p.roots = append(p.roots, resolved)
	}
	return p
}

// Roots returns the resolved allow-list directories.
func (p *PathPolicy) Roots() []string {
	out := make([]string, len(p.roots))
	copy(out, p.roots)
	return out
}

// IsAllowed reports whether a path may be read or written. The path is
// expanded, absolutised and symlink-resolved before comparison; when the
// target does not exist yet, its parent directory is resolved instead.
// Any failure to resolve yields false.
func (p *PathPolicy) IsAllowed(path string) bool {
	if path == "" || len(p.roots) == 0 {
		return false
	}

	abs, err := filepath.Abs(ExpandHome(path))
	if err != nil {
		return false
	}

	if matchesSensitive(abs) {
		return false
	}

	resolved, err := resolveExisting(abs)
	if err != nil {
		// Target does not exist: resolve the parent so a symlinked parent
		// cannot smuggle writes outside the allow-list. A missing parent
		// is a rejection.
		parent, err := resolveExisting(filepath.Dir(abs))
		if err != nil {
			return false
		}
		resolved = filepath.Join(parent, filepath.Base(abs))
	}

	if matchesSensitive(resolved) {
		return false
	}

	for _, root := range p.roots {
		if resolved == root || strings.HasPrefix(resolved, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// matchesSensitive checks a cleaned path against the sensitive patterns.
func matchesSensitive(path string) bool {
	normalized := filepath.ToSlash(filepath.Clean(path))
	base := filepath.Base(normalized)
	for _, pattern := range sensitivePatterns {
		if strings.HasSuffix(pattern, "/") {
			if strings.Contains(normalized+"/", "/"+pattern) {
				return true
			}
			continue
		}
		if base == pattern || strings.Contains(normalized, "/"+pattern) {
			return true
		}
	}
	return false
}

// resolveExisting returns the symlink-free absolute path of an existing file
// or directory.
func resolveExisting(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	return filepath.Abs(resolved)
}
