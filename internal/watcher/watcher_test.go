package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitForReload(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback was not invoked")
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":3}`), 0o600))

	reloaded := make(chan struct{}, 1)
	w, err := NewWatcher(path, func() {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(path, []byte(`{"version":3,"accounts":[]}`), 0o600))
	waitForReload(t, reloaded)
}

func TestWatcherDetectsAtomicRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":3}`), 0o600))

	reloaded := make(chan struct{}, 1)
	w, err := NewWatcher(path, func() {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	tmp := filepath.Join(dir, ".accounts-new.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(`{"version":3,"activeIndex":1}`), 0o600))
	require.NoError(t, os.Rename(tmp, path))
	waitForReload(t, reloaded)
}

func TestWatcherIgnoresUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	content := []byte(`{"version":3}`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	reloaded := make(chan struct{}, 4)
	w, err := NewWatcher(path, func() {
		reloaded <- struct{}{}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	// Rewriting identical bytes must not trigger a reload.
	require.NoError(t, os.WriteFile(path, content, 0o600))
	select {
	case <-reloaded:
		t.Fatal("reload fired for unchanged content")
	case <-time.After(time.Second):
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":3}`), 0o600))

	reloaded := make(chan struct{}, 4)
	w, err := NewWatcher(path, func() {
		reloaded <- struct{}{}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o600))
	select {
	case <-reloaded:
		t.Fatal("reload fired for an unrelated file")
	case <-time.After(time.Second):
	}
}
