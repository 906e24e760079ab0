package utils

import (
	"path/filepath"
	"strings"
)

// IsPathWithin returns true if the given path is within any of the roots.
func IsPathWithin(path string, roots []string) bool {
	return getPathGuard(roots).Contains(path)
}

type pathGuard struct {
	roots []string
}

// getPathGuard resolves the roots once so repeated Contains calls only
// resolve the candidate path.
func getPathGuard(roots []string) pathGuard {
	g := pathGuard{roots: make([]string, 0, len(roots))}
	for _, root := range roots {
		abs, err := resolve(root)
		if err != nil {
			continue
		}
		g.roots = append(g.roots, abs)
	}
	return g
}

func (g pathGuard) Contains(path string) bool {
	absPath, err := resolve(path)
	if err != nil {
		return false
	}
	for _, root := range g.roots {
		rel, err := filepath.Rel(root, absPath)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func resolve(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolved = path
	}
	return filepath.Abs(resolved)
}

// RelativeDir returns the directory of path relative to root, or "." when
// path sits directly in root or cannot be expressed relative to it.
func RelativeDir(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "."
	}
	return filepath.Dir(rel)
}
