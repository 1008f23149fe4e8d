package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch starts an fsnotify watcher over the library root and every pair
// directory. Changes are debounced per pair directory.
func (l *Library) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(l.opts.Root); err != nil {
		watcher.Close()
		return err
	}
	entries, err := os.ReadDir(l.opts.Root)
	if err != nil {
		watcher.Close()
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if err := watcher.Add(filepath.Join(l.opts.Root, entry.Name())); err != nil {
				l.logger.WithError(err).WithField("directory", entry.Name()).Warn("Could not watch pair directory")
			}
		}
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		watcher.Close()
		return nil
	}
	l.watcher = watcher
	l.mu.Unlock()

	go l.watchFiles(watcher)

	l.logger.WithField("library_path", l.opts.Root).Info("File watcher started")
	return nil
}

// watchFiles selects on watcher channels and dispatches events.
func (l *Library) watchFiles(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			l.handleFileEvent(watcher, event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.WithError(err).Error("File watcher error")
		}
	}
}

// handleFileEvent maps an event to the pair directory it affects.
func (l *Library) handleFileEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	// Ignore temporary files and hidden files
	fileName := filepath.Base(event.Name)
	if strings.HasPrefix(fileName, ".") || strings.HasSuffix(fileName, ".tmp") {
		return
	}

	root := filepath.Clean(l.opts.Root)
	parent := filepath.Dir(event.Name)

	switch {
	case parent == root:
		// the pair directory itself
		if event.Has(fsnotify.Create) {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				watcher.Add(event.Name)
				l.logger.WithField("directory", event.Name).Info("Watching new pair directory")
			}
		}
		l.schedule(event.Name)

	case filepath.Dir(parent) == root:
		if fileName == SidecarName || l.extractor.IsAudioFile(fileName) {
			l.schedule(parent)
		}
	}
}

// schedule refreshes dir once it has been quiet for the debounce interval.
func (l *Library) schedule(dir string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if t, ok := l.pending[dir]; ok {
		t.Reset(l.opts.Debounce)
		return
	}
	l.pending[dir] = time.AfterFunc(l.opts.Debounce, func() {
		l.mu.Lock()
		delete(l.pending, dir)
		closed := l.closed
		l.mu.Unlock()
		if !closed {
			l.refreshDir(dir)
		}
	})
}

// refreshDir re-reads one pair directory, removing its pair when the
// directory is gone or no longer holds both renditions.
func (l *Library) refreshDir(dir string) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		l.removeDir(dir)
		return
	}

	if _, err := l.refresh(dir); err != nil {
		l.removeDir(dir)
		return
	}
	l.logger.WithField("dir", dir).Info("Pair directory updated")
	l.notify()
}

func (l *Library) removeDir(dir string) {
	if err := l.store.RemovePairByDir(dir); err != nil {
		return
	}
	l.logger.WithField("dir", dir).Info("Removed pair from catalog")
	l.notify()
}

// Close stops the watcher and any pending refresh (idempotent).
func (l *Library) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	watcher := l.watcher
	l.watcher = nil
	for dir, t := range l.pending {
		t.Stop()
		delete(l.pending, dir)
	}
	l.mu.Unlock()

	if watcher != nil {
		watcher.Close()
	}
}
