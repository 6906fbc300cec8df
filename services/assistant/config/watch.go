// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of write events editors and atomic
// renames produce into one reload.
const reloadDebounce = 250 * time.Millisecond

// Watcher reloads rule and exemplar files when they change on disk.
//
// # Description
//
// The watcher monitors the parent directories (not the files directly, so
// atomic rename-into-place saves are caught), debounces events, re-reads
// and re-validates the changed file, and hands the parsed result to the
// registered callback. A file that fails validation is logged and skipped;
// the previous configuration stays active.
//
// # Thread Safety
//
// Callbacks run on the watcher goroutine, one at a time.
type Watcher struct {
	fsw    *fsnotify.Watcher
	logger *slog.Logger

	rulesPath     string
	exemplarsPath string
	onRules       func(*SignalRulesConfig)
	onExemplars   func(*ExemplarsConfig)

	done chan struct{}
}

// NewWatcher creates a Watcher over the given files. Either path may be
// empty to disable watching that file. Nil callbacks disable delivery.
func NewWatcher(rulesPath, exemplarsPath string, onRules func(*SignalRulesConfig), onExemplars func(*ExemplarsConfig), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:           fsw,
		logger:        logger,
		rulesPath:     rulesPath,
		exemplarsPath: exemplarsPath,
		onRules:       onRules,
		onExemplars:   onExemplars,
		done:          make(chan struct{}),
	}

	dirs := map[string]bool{}
	for _, p := range []string{rulesPath, exemplarsPath} {
		if p == "" {
			continue
		}
		dir := filepath.Dir(p)
		if !dirs[dir] {
			if err := fsw.Add(dir); err != nil {
				fsw.Close()
				return nil, err
			}
			dirs[dir] = true
		}
	}

	go w.loop()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	var pending map[string]bool
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !w.tracked(ev.Name) {
				continue
			}
			if pending == nil {
				pending = map[string]bool{}
			}
			pending[filepath.Clean(ev.Name)] = true
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			timerC = timer.C

		case <-timerC:
			for path := range pending {
				w.reload(path)
			}
			pending = nil
			timerC = nil

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher: fs error", slog.Any("error", err))

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) tracked(name string) bool {
	clean := filepath.Clean(name)
	return (w.rulesPath != "" && clean == filepath.Clean(w.rulesPath)) ||
		(w.exemplarsPath != "" && clean == filepath.Clean(w.exemplarsPath))
}

func (w *Watcher) reload(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("config watcher: read failed, keeping previous config",
			slog.String("path", path), slog.Any("error", err))
		return
	}

	switch filepath.Clean(path) {
	case filepath.Clean(w.rulesPath):
		cfg, err := LoadSignalRules(data)
		if err != nil {
			w.logger.Warn("config watcher: invalid signal rules, keeping previous",
				slog.String("path", path), slog.Any("error", err))
			return
		}
		w.logger.Info("config watcher: signal rules reloaded",
			slog.String("path", path), slog.Int("version", cfg.Version))
		if w.onRules != nil {
			w.onRules(cfg)
		}
	case filepath.Clean(w.exemplarsPath):
		cfg, err := LoadExemplars(data)
		if err != nil {
			w.logger.Warn("config watcher: invalid exemplars, keeping previous",
				slog.String("path", path), slog.Any("error", err))
			return
		}
		w.logger.Info("config watcher: exemplars reloaded",
			slog.String("path", path), slog.Int("version", cfg.Version))
		if w.onExemplars != nil {
			w.onExemplars(cfg)
		}
	}
}
