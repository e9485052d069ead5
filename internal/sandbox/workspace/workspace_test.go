package workspace_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"compilebox/internal/sandbox/workspace"
	appErr "compilebox/pkg/errors"
)

func newManager(t *testing.T) *workspace.Manager {
	t.Helper()
	mgr, err := workspace.NewManager(filepath.Join(t.TempDir(), "jobs"))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return mgr
}

func TestAcquireCreatesUniqueEmptyDirs(t *testing.T) {
	mgr := newManager(t)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		ws, err := mgr.Acquire(context.Background(), "job-1")
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		if seen[ws.Path] {
			t.Fatalf("duplicate workspace path %s", ws.Path)
		}
		seen[ws.Path] = true
		entries, err := os.ReadDir(ws.Path)
		if err != nil || len(entries) != 0 {
			t.Fatalf("expected empty dir, got %v entries err=%v", len(entries), err)
		}
		info, _ := os.Stat(ws.Path)
		if info.Mode().Perm() != 0o700 {
			t.Fatalf("expected 0700, got %v", info.Mode().Perm())
		}
	}
}

func TestAcquireRejectsUnsafeJobID(t *testing.T) {
	mgr := newManager(t)
	for _, id := range []string{"", "../x", "a/b", "job id"} {
		if _, err := mgr.Acquire(context.Background(), id); !appErr.Is(err, appErr.WorkspaceError) {
			t.Fatalf("expected workspace error for %q, got %v", id, err)
		}
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	mgr := newManager(t)
	ws, err := mgr.Acquire(context.Background(), "job-2")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	nested := filepath.Join(ws.Path, "com", "example")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(nested, "App.class"), []byte{0xCA, 0xFE}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := mgr.Release(ws); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ws.Exists() {
		t.Fatalf("expected workspace to be removed")
	}
	if err := mgr.Release(ws); err != nil {
		t.Fatalf("second release should be a no-op, got %v", err)
	}
	if err := mgr.Release(nil); err != nil {
		t.Fatalf("nil release should be a no-op, got %v", err)
	}
}

func TestReleaseHandlesReadOnlyDirs(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	mgr := newManager(t)
	ws, _ := mgr.Acquire(context.Background(), "job-3")
	locked := filepath.Join(ws.Path, "locked")
	_ = os.MkdirAll(locked, 0o755)
	_ = os.WriteFile(filepath.Join(locked, "f"), []byte("x"), 0o644)
	_ = os.Chmod(locked, 0o500)

	if err := mgr.Release(ws); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ws.Exists() {
		t.Fatalf("expected workspace to be removed")
	}
}

func TestReleaseRefusesForeignPaths(t *testing.T) {
	mgr := newManager(t)
	outside := t.TempDir()
	if err := mgr.Release(&workspace.Workspace{Path: outside}); err == nil {
		t.Fatalf("expected refusal for path outside root")
	}
	if err := mgr.Release(&workspace.Workspace{Path: mgr.Root()}); err == nil {
		t.Fatalf("expected refusal for the root itself")
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("foreign dir must survive: %v", err)
	}
}

func TestResolve(t *testing.T) {
	mgr := newManager(t)
	ws, _ := mgr.Acquire(context.Background(), "job-4")
	defer func() { _ = mgr.Release(ws) }()

	good, err := ws.Resolve("com/example/App.java")
	if err != nil || good != filepath.Join(ws.Path, "com", "example", "App.java") {
		t.Fatalf("unexpected resolve: %s %v", good, err)
	}
	for _, bad := range []string{"", "/etc/passwd", "../escape.java", "a/../../b.java", ".", "a\x00b"} {
		if _, err := ws.Resolve(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestSweepRemovesStaleWorkspaces(t *testing.T) {
	mgr := newManager(t)
	stale, _ := mgr.Acquire(context.Background(), "stale")
	fresh, _ := mgr.Acquire(context.Background(), "fresh")
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale.Path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed, err := mgr.Sweep(time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 || stale.Exists() || !fresh.Exists() {
		t.Fatalf("unexpected sweep result removed=%d stale=%v fresh=%v", removed, stale.Exists(), fresh.Exists())
	}
}
