// Package watcher provides file system monitoring for the gateway.
// It watches the account storage file for changes made by other processes
// (a second gateway instance or a manual login) and reloads the identity
// pool when the file is rewritten.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const debounceDelay = 500 * time.Millisecond

// Watcher monitors the account storage file and invokes the reload
// callback when its content actually changes.
type Watcher struct {
	storagePath    string
	reloadCallback func()
	watcher        *fsnotify.Watcher

	mu       sync.Mutex
	lastHash string
	timer    *time.Timer
}

// NewWatcher creates a watcher over the storage file. The parent directory
// is watched rather than the file itself, since atomic rewrites replace
// the inode.
func NewWatcher(storagePath string, reloadCallback func()) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		storagePath:    storagePath,
		reloadCallback: reloadCallback,
		watcher:        fsWatcher,
		lastHash:       hashFile(storagePath),
	}
	return w, nil
}

// Start begins watching until the context is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.storagePath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	log.Debugf("watching account storage in %s", dir)

	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer func() {
		_ = w.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.storagePath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("storage watcher error: %v", err)
		}
	}
}

// scheduleReload debounces bursts of events from a single rewrite.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, func() {
		hash := hashFile(w.storagePath)
		w.mu.Lock()
		changed := hash != w.lastHash
		w.lastHash = hash
		w.mu.Unlock()

		if !changed {
			return
		}
		log.Debug("account storage changed on disk, reloading pool")
		w.reloadCallback()
	})
}

func hashFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
