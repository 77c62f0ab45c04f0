// Package watcher detects content changes by polling modification times.
// Polling keeps change detection deterministic: everything observed within one
// interval collapses into a single event, and the builder does a full rebuild
// anyway, so per-file event granularity would buy nothing.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/conneroisu/kiln/internal/errors"
	"github.com/conneroisu/kiln/internal/logging"
)

// ContentWatcher polls the direct entries of a content root, plus the files
// directly inside collection directories, and emits one coalesced change event
// whenever any observed modification time advances past the last one seen.
type ContentWatcher struct {
	root     string
	interval time.Duration
	events   chan struct{}
	logger   logging.Logger

	lastModified time.Time
}

// New creates a ContentWatcher for root, polling at the given interval. The
// last-known timestamp starts at the current time, so only changes made after
// the watcher exists are reported.
func New(root string, interval time.Duration, logger logging.Logger) *ContentWatcher {
	return &ContentWatcher{
		root:         root,
		interval:     interval,
		events:       make(chan struct{}, 1),
		logger:       logger.WithComponent("watcher"),
		lastModified: time.Now(),
	}
}

// Events returns the change signal channel. The channel has a one-slot buffer
// and sends never block: changes observed while a previous event is still
// pending coalesce into it.
func (w *ContentWatcher) Events() <-chan struct{} {
	return w.events
}

// Run polls until ctx is cancelled. A filesystem read error ends the run and
// is returned to the supervisor; the watcher itself does not retry.
func (w *ContentWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			changed, err := w.poll()
			if err != nil {
				return err
			}
			if changed {
				w.emit(ctx)
			}
		}
	}
}

// poll stats the direct entries under the root and, for entries that are
// collection directories, the files directly inside them. It goes no deeper,
// mirroring the builder's flat-collection policy. Reports whether any
// modification time exceeds the stored high-water mark; the mark advances to
// the maximum observed so one change produces one event.
func (w *ContentWatcher) poll() (bool, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return false, errors.NewIOError("watch_read", "reading content root", err).
			WithComponent("watcher").WithFile(w.root)
	}

	changed := false
	for _, entry := range entries {
		path := filepath.Join(w.root, entry.Name())

		advanced, err := w.observe(entry, path)
		if err != nil {
			return false, err
		}
		changed = changed || advanced

		if !entry.IsDir() {
			continue
		}

		children, err := os.ReadDir(path)
		if err != nil {
			return false, errors.NewIOError("watch_read", "reading collection directory", err).
				WithComponent("watcher").WithFile(path)
		}

		for _, child := range children {
			advanced, err := w.observe(child, filepath.Join(path, child.Name()))
			if err != nil {
				return false, err
			}
			changed = changed || advanced
		}
	}

	return changed, nil
}

func (w *ContentWatcher) observe(entry os.DirEntry, path string) (bool, error) {
	info, err := entry.Info()
	if err != nil {
		return false, errors.NewIOError("watch_stat", "reading entry metadata", err).
			WithComponent("watcher").WithFile(path)
	}

	if info.ModTime().After(w.lastModified) {
		w.lastModified = info.ModTime()
		return true, nil
	}

	return false, nil
}

func (w *ContentWatcher) emit(ctx context.Context) {
	select {
	case w.events <- struct{}{}:
		w.logger.Debug(ctx, "change detected", "root", w.root)
	default:
		// An event is already pending; this change rides along with it.
	}
}
