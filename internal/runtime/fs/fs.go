// Package fs implements per-workspace text file access for agent-initiated
// fs/read_text_file and fs/write_text_file calls, confined to the
// workspace root.
//
// Unlike a plain filepath.Clean prefix check, Manager resolves every
// symlink in the path (filepath.EvalSymlinks) before comparing it against
// the root, so a symlink planted inside the workspace that points outside
// it cannot be used to escape confinement.
package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/kandev/acpcore/internal/runtime/rterr"
)

type Manager struct {
	root string
}

func NewManager(root string) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &rterr.IoError{Op: "resolve workspace root", Err: err}
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, &rterr.IoError{Op: "resolve workspace root", Err: err}
	}
	return &Manager{root: resolved}, nil
}

func (m *Manager) Root() string { return m.root }

// resolve canonicalizes reqPath relative to the workspace root and rejects
// it if the canonical result falls outside the root. Canonicalization
// resolves symlinks on the longest existing prefix of the path, so a
// not-yet-created file under a legitimate directory still resolves
// correctly while a symlinked directory pointing outside root is caught.
func (m *Manager) resolve(reqPath string) (string, error) {
	var joined string
	if filepath.IsAbs(reqPath) {
		joined = filepath.Clean(reqPath)
	} else {
		joined = filepath.Join(m.root, reqPath)
	}

	resolved, err := evalSymlinksOfLongestExistingPrefix(joined)
	if err != nil {
		return "", &rterr.IoError{Op: "resolve path", Err: err}
	}

	rootWithSep := m.root + string(filepath.Separator)
	if resolved != m.root && !strings.HasPrefix(resolved, rootWithSep) {
		return "", &rterr.PathEscape{Path: reqPath, Root: m.root}
	}
	return resolved, nil
}

// evalSymlinksOfLongestExistingPrefix resolves symlinks on whatever prefix
// of path already exists on disk, then rejoins the remaining (not yet
// created) components unresolved. This lets WriteTextFile target a file
// that doesn't exist yet while still catching a symlinked parent directory.
func evalSymlinksOfLongestExistingPrefix(path string) (string, error) {
	clean := filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(clean); err == nil {
		return resolved, nil
	}

	dir := filepath.Dir(clean)
	base := filepath.Base(clean)
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return filepath.Join(resolved, base), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return filepath.Join(dir, base), nil
		}
		base = filepath.Join(filepath.Base(dir), base)
		dir = parent
	}
}

func (m *Manager) ReadTextFile(ctx context.Context, reqPath string, line, limit *int) (string, error) {
	resolved, err := m.resolve(reqPath)
	if err != nil {
		return "", err
	}

	b, err := os.ReadFile(resolved)
	if err != nil {
		return "", &rterr.IoError{Op: "read file", Err: err}
	}
	content := string(b)

	if line != nil || limit != nil {
		lines := strings.Split(content, "\n")
		start := 0
		if line != nil && *line > 0 {
			start = *line - 1
			if start > len(lines) {
				start = len(lines)
			}
		}
		end := len(lines)
		if limit != nil && *limit > 0 && start+*limit < end {
			end = start + *limit
		}
		content = strings.Join(lines[start:end], "\n")
	}
	return content, nil
}

func (m *Manager) WriteTextFile(ctx context.Context, reqPath, content string) error {
	resolved, err := m.resolve(reqPath)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(resolved); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &rterr.IoError{Op: "create parent directory", Err: err}
		}
	}

	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return &rterr.IoError{Op: "write file", Err: err}
	}
	return nil
}
