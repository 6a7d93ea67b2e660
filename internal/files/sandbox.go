// Package files implements the file operation capability family,
// sandboxed to a configured set of allowed root directories.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vaakya/vaakya/internal/capability"
)

// Sandbox confines file operations to a set of allowed roots. Path
// resolution follows symlinks before the containment check, so a link
// pointing outside a root is rejected even though the link itself
// lives inside one.
type Sandbox struct {
	roots     []string // absolute, symlink-resolved
	writeExts []string // lowercase, leading dot; empty = any
}

// NewSandbox creates a sandbox over the given roots. Each root must
// exist. An empty root set yields a disabled sandbox.
func NewSandbox(roots, writeExts []string) (*Sandbox, error) {
	s := &Sandbox{}
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve root %q: %w", root, err)
		}
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("root %q not accessible: %w", root, err)
		}
		s.roots = append(s.roots, resolved)
	}
	for _, ext := range writeExts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		s.writeExts = append(s.writeExts, ext)
	}
	return s, nil
}

// Enabled reports whether any roots are configured.
func (s *Sandbox) Enabled() bool { return len(s.roots) > 0 }

// Roots returns the resolved allowed roots.
func (s *Sandbox) Roots() []string { return s.roots }

// Resolve converts path to an absolute location and verifies it lies
// within an allowed root. Relative paths are anchored at the first
// root. The check happens before any filesystem effect; callers can
// trust a returned path.
func (s *Sandbox) Resolve(path string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("%w: file operations are not configured", capability.ErrPolicyViolation)
	}
	if path == "" || path == "." {
		return s.roots[0], nil
	}

	abs := filepath.Clean(path)
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.roots[0], abs)
	}

	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}

	for _, root := range s.roots {
		if resolved == root || strings.HasPrefix(resolved, root+string(filepath.Separator)) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("%w: path %q is outside the allowed roots", capability.ErrPolicyViolation, path)
}

// ResolveWrite is Resolve plus the write extension allowlist.
func (s *Sandbox) ResolveWrite(path string) (string, error) {
	abs, err := s.Resolve(path)
	if err != nil {
		return "", err
	}
	if len(s.writeExts) == 0 {
		return abs, nil
	}
	ext := strings.ToLower(filepath.Ext(abs))
	for _, allowed := range s.writeExts {
		if ext == allowed {
			return abs, nil
		}
	}
	return "", fmt.Errorf("%w: writing %q files is not allowed (allowed: %s)",
		capability.ErrPolicyViolation, ext, strings.Join(s.writeExts, ", "))
}

// resolveExisting resolves symlinks in the deepest existing ancestor
// of path, then re-joins the non-existing remainder. This keeps writes
// to not-yet-existing files resolvable while still defeating symlink
// escapes through existing directories.
func resolveExisting(abs string) (string, error) {
	remainder := ""
	current := abs
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing ancestor for %q", abs)
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}
