// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG WATCHER
// =============================================================================

// Editors replace config files with write-then-rename, which shows up
// as several events in quick succession; reloads are debounced.
const reloadDebounce = 250 * time.Millisecond

// Watcher reloads the configuration when its file changes on disk and
// hands the validated result to a callback. Invalid edits are logged
// and skipped; the last good config stays in effect.
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	done    chan struct{}
}

// Watch starts watching the config directory. onReload is called with
// each successfully loaded config, never with a broken one.
func Watch(onReload func(*Config), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	// Watch the directory, not the file: renames replace the inode and
	// a file-level watch would go quiet after the first edit.
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config dir: %w", err)
	}

	w := &Watcher{watcher: fw, logger: logger, done: make(chan struct{})}
	go w.loop(onReload)
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) loop(onReload func(*Config)) {
	var timer *time.Timer
	pending := make(chan struct{}, 1)

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isConfigFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})

		case <-pending:
			cfg, err := Load()
			if err != nil {
				w.logger.Warn("config reload skipped", "error", err)
				continue
			}
			w.logger.Info("config reloaded")
			onReload(cfg)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func isConfigFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, "config.") &&
		(strings.HasSuffix(base, ".toml") || strings.HasSuffix(base, ".json"))
}
