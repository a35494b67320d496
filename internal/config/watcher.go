package config

import (
	"context"
	"io/fs"
	"time"

	"github.com/mqttgov/proxy/internal/logger"
)

// Watcher polls a config file's modification time and reloads it into a
// Store on change. It is a minimal stand-in for a full file-watching
// subsystem, sufficient to demonstrate the atomic Store swap the pipeline
// actually consumes, end to end.
type Watcher struct {
	fsys     fs.FS
	path     string
	store    *Store
	lg       logger.Logger
	interval time.Duration

	onReload func(*Snapshot)
	lastMod  time.Time
}

// NewWatcher returns a Watcher for path within fsys, polling at interval.
func NewWatcher(fsys fs.FS, path string, store *Store, lg logger.Logger, interval time.Duration) *Watcher {
	if lg == nil {
		lg = logger.Null
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Watcher{fsys: fsys, path: path, store: store, lg: lg, interval: interval}
}

// OnReload registers a callback invoked after a successful reload, in
// addition to the Store swap itself.
func (w *Watcher) OnReload(fn func(*Snapshot)) { w.onReload = fn }

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkAndReload()
		}
	}
}

func (w *Watcher) checkAndReload() {
	info, err := fs.Stat(w.fsys, w.path)
	if err != nil {
		w.lg.WithError(err).Printf("config watcher: failed to stat %s", w.path)
		return
	}
	if !info.ModTime().After(w.lastMod) {
		return
	}
	w.lastMod = info.ModTime()

	snap, err := Load(w.fsys, w.path)
	if err != nil {
		w.lg.WithError(err).Printf("config watcher: failed to reload %s", w.path)
		return
	}
	w.store.Swap(snap)
	w.lg.Printf("config watcher: reloaded %s", w.path)
	if w.onReload != nil {
		w.onReload(snap)
	}
}
