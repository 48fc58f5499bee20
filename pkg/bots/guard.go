package bots

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidName reports whether name may be used as a bot or dialog name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Guard resolves paths against the bots root and refuses anything that
// escapes it, symlinks included.
type Guard struct {
	rootPath string
}

// NewGuard resolves the bots root. The directory must exist.
func NewGuard(root string) (*Guard, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, NewError(ErrorInvalidName, "bots root must not be empty")
	}

	expanded, err := expandHome(trimmed)
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute bots root: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(filepath.Clean(absPath))
	if err != nil {
		return nil, normalizeIOError(err, "resolve bots root")
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, normalizeIOError(err, "stat bots root")
	}
	if !info.IsDir() {
		return nil, NewError(ErrorInvalidName, "bots root is not a directory")
	}

	return &Guard{rootPath: filepath.Clean(resolved)}, nil
}

func (g *Guard) Root() string {
	if g == nil {
		return ""
	}
	return g.rootPath
}

// ResolvePath returns the canonical absolute path of a root-relative path.
func (g *Guard) ResolvePath(parts ...string) (string, error) {
	if g == nil {
		return "", NewError(ErrorIO, "bots guard is nil")
	}

	rel := filepath.Join(parts...)
	if strings.TrimSpace(rel) == "" {
		return "", NewError(ErrorInvalidName, "path must not be empty")
	}
	if filepath.IsAbs(rel) {
		return "", NewError(ErrorOutsideRoot, "absolute paths are not allowed")
	}

	candidate := filepath.Clean(filepath.Join(g.rootPath, rel))
	effective, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", normalizeIOError(err, rel)
	}
	effective = filepath.Clean(effective)

	if !isWithin(g.rootPath, effective) {
		return "", NewError(ErrorOutsideRoot, "resolved path escapes bots root")
	}
	return effective, nil
}

func isWithin(root string, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], string(filepath.Separator))), nil
}
