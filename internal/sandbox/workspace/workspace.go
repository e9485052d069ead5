// Package workspace allocates and tears down per-job directories.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	appErr "compilebox/pkg/errors"
)

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{0,63}$`)

// Workspace is one job's private directory.
type Workspace struct {
	JobID     string
	Path      string
	CreatedAt time.Time
}

// Manager creates workspaces under a single root.
type Manager struct {
	root string
}

// NewManager creates the root when missing.
func NewManager(root string) (*Manager, error) {
	if strings.TrimSpace(root) == "" {
		root = filepath.Join(os.TempDir(), "compilebox")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute root directory.
func (m *Manager) Root() string {
	return m.root
}

// Acquire creates a fresh, empty directory named after the job plus a random suffix.
func (m *Manager) Acquire(ctx context.Context, jobID string) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceError, "Sandbox error: workspace not created: %v", err)
	}
	if !jobIDPattern.MatchString(jobID) {
		return nil, appErr.Newf(appErr.WorkspaceError, "Sandbox error: invalid job id %q", jobID)
	}
	dir, err := os.MkdirTemp(m.root, jobID+"-")
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceError, "Sandbox error: create workspace failed: %v", err)
	}
	return &Workspace{JobID: jobID, Path: dir, CreatedAt: time.Now()}, nil
}

// Release removes the workspace recursively. A nil or already removed
// workspace is not an error.
func (m *Manager) Release(ws *Workspace) error {
	if ws == nil || ws.Path == "" {
		return nil
	}
	if !m.owns(ws.Path) {
		return fmt.Errorf("refusing to remove %s outside %s", ws.Path, m.root)
	}
	err := os.RemoveAll(ws.Path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	// Guest code may have dropped write permission on its own directories.
	makeWritable(ws.Path)
	if err := os.RemoveAll(ws.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove workspace %s: %w", ws.Path, err)
	}
	return nil
}

// Sweep removes workspaces older than maxAge left behind by a crashed process.
func (m *Manager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("read workspace root: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := m.Release(&Workspace{Path: filepath.Join(m.root, entry.Name())}); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Resolve joins a relative name onto the workspace and rejects anything
// that would land outside it.
func (ws *Workspace) Resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) || strings.ContainsRune(rel, 0) {
		return "", fmt.Errorf("invalid relative path %q", rel)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}
	full := filepath.Join(ws.Path, clean)
	if !within(ws.Path, full) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}
	return full, nil
}

// Exists reports whether the directory is still on disk.
func (ws *Workspace) Exists() bool {
	_, err := os.Stat(ws.Path)
	return err == nil
}

func (m *Manager) owns(path string) bool {
	return within(m.root, path) && filepath.Clean(path) != m.root
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func makeWritable(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			_ = os.Chmod(path, 0o700)
		}
		return nil
	})
}
