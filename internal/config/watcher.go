// Copyright (c) 2025 GoldenGlimmer
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG FILE WATCHER
// =============================================================================

// Watcher observes the config file and invokes a callback when it changes.
//
// Editors and the atomic-save path both replace the file via rename, so the
// watcher listens on the parent directory and filters by file name. Rapid
// successive events (temp file + rename) are debounced into one callback.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	onChange func()

	mu      sync.Mutex
	pending bool
	timer   *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher creates a watcher for the given config file path.
// onChange runs on the watcher goroutine after each debounced change.
func NewWatcher(path string, debounce time.Duration, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		watcher:  fsw,
		path:     filepath.Clean(path),
		debounce: debounce,
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
	}
	return w, nil
}

// Watch starts watching for config file changes.
func (w *Watcher) Watch() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	go w.processEvents()
	return nil
}

// Close stops watching and releases resources. No callback fires after
// Close returns: a pending debounce timer is stopped, and an in-flight
// callback holds w.mu, so acquiring it here waits the callback out.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return err
}

// processEvents filters and debounces filesystem events.
func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleCallback()

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal; the next event still fires.
		}
	}
}

// scheduleCallback coalesces bursts of events into a single callback.
func (w *Watcher) scheduleCallback() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending {
		return
	}
	w.pending = true
	w.timer = time.AfterFunc(w.debounce, w.fireCallback)
}

// fireCallback runs the change callback unless the watcher was closed.
// The cancellation check and the invocation stay under w.mu so Close can
// not return while a callback is about to fire or still running.
func (w *Watcher) fireCallback() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = false
	if w.ctx.Err() != nil {
		return
	}
	w.onChange()
}
