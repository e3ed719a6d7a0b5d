// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/datatypes"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/store"
)

// spoolSettle is how long an unparseable spool file is given to finish
// being written before it is moved to rejected/. Detectors that write
// via rename never hit this; it covers direct writers caught mid-write.
const spoolSettle = 2 * time.Second

// Subdirectories files are moved to after ingestion. Neither is
// watched, so the moves do not re-trigger events.
const (
	spoolProcessedDir = "processed"
	spoolRejectedDir  = "rejected"
)

// SpoolWatcher ingests detector-written intent files.
//
// Description:
//
//	Detectors that cannot reach the HTTP API drop one JSON-encoded
//	intent per file into the spool directory. The watcher picks up
//	"*.json" files (write to "*.json.tmp" and rename for atomicity),
//	enqueues them, and moves each file to processed/ or rejected/.
//	Files present before startup are swept on Run.
type SpoolWatcher struct {
	dir     string
	queue   *Queue
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewSpoolWatcher creates the spool directory tree and starts watching
// dir. Call Run to begin ingesting.
func NewSpoolWatcher(dir string, q *Queue, logger *slog.Logger) (*SpoolWatcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("spool: directory is required")
	}
	if q == nil {
		return nil, fmt.Errorf("spool: queue is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	for _, d := range []string{dir, filepath.Join(dir, spoolProcessedDir), filepath.Join(dir, spoolRejectedDir)} {
		if err := os.MkdirAll(d, 0750); err != nil {
			return nil, fmt.Errorf("creating spool directory %s: %w", d, err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching spool directory %s: %w", dir, err)
	}

	return &SpoolWatcher{
		dir:     dir,
		queue:   q,
		watcher: watcher,
		logger:  logger,
	}, nil
}

// Run sweeps files already spooled, then ingests on filesystem events
// until ctx is cancelled. Returns nil on cancellation.
func (w *SpoolWatcher) Run(ctx context.Context) error {
	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("spool watcher error", slog.String("error", err.Error()))
		}
	}
}

// Close stops the underlying watcher. Run returns once the event
// channel drains.
func (w *SpoolWatcher) Close() error {
	return w.watcher.Close()
}

// handleEvent ingests the file behind a create, write or rename event.
func (w *SpoolWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	if !strings.HasSuffix(event.Name, ".json") {
		return
	}
	w.ingestFile(ctx, event.Name)
}

// sweep ingests every *.json already sitting in the spool directory.
func (w *SpoolWatcher) sweep(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("spool sweep failed", slog.String("error", err.Error()))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		w.ingestFile(ctx, filepath.Join(w.dir, entry.Name()))
	}
}

// ingestFile reads, parses and enqueues one spool file, then moves it
// aside. A file that vanished was handled by an earlier event. A file
// that fails to parse inside the settle grace is left alone for its
// writer to finish; storage failures also leave the file in place so
// the next sweep retries it.
func (w *SpoolWatcher) ingestFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		w.logger.Warn("reading spool file failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}

	var intent datatypes.Intent
	if err := json.Unmarshal(data, &intent); err != nil {
		if w.fileAge(path) <= spoolSettle {
			return
		}
		w.logger.Warn("rejecting unparseable spool file",
			slog.String("path", path),
			slog.String("error", err.Error()))
		w.moveTo(path, spoolRejectedDir)
		return
	}

	_, err = w.queue.Enqueue(ctx, intent, time.Now().UTC())
	switch {
	case err == nil:
		w.logger.Info("spool intent enqueued",
			slog.String("path", path),
			slog.String("id", intent.ID),
			slog.String("subsystem", intent.Subsystem))
		w.moveTo(path, spoolProcessedDir)

	case errors.Is(err, store.ErrDuplicateFingerprint):
		w.logger.Debug("spool intent merged", slog.String("path", path))
		w.moveTo(path, spoolProcessedDir)

	case errors.Is(err, ErrInvalidIntent):
		w.logger.Warn("rejecting invalid spool intent",
			slog.String("path", path),
			slog.String("error", err.Error()))
		w.moveTo(path, spoolRejectedDir)

	default:
		w.logger.Error("enqueueing spool intent failed, will retry",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

// moveTo renames a spool file into a terminal subdirectory, prefixing a
// timestamp so repeated detector filenames never collide.
func (w *SpoolWatcher) moveTo(path, subdir string) {
	name := fmt.Sprintf("%d-%s", time.Now().UnixNano(), filepath.Base(path))
	dst := filepath.Join(w.dir, subdir, name)
	if err := os.Rename(path, dst); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("moving spool file failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

func (w *SpoolWatcher) fileAge(path string) time.Duration {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return time.Since(fi.ModTime())
}
