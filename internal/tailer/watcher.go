package tailer

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-globs a pattern on each tick and reports newly discovered
// files so the worker can instantiate a Tailer per file, per spec.md §4.1:
// "a 'watcher' task re-globs each log_watch_interval seconds and
// instantiates a new tailer per newly discovered file, with
// start_position=begin". This mirrors
// plugins/inputs/logparser/logparser.go's tailNewfiles glob-diff loop,
// generalised from a single-shot call into a re-armable ticker-driven
// component.
//
// fsnotify watches the parent directory of the glob and its events are
// exposed through Events; the Watcher itself discovers files only in
// Poll, and the pipeline worker calls Poll on its log_watch_interval tick
// without reading Events.
type Watcher struct {
	Pattern string

	known  map[string]struct{}
	notify *fsnotify.Watcher
}

// NewWatcher creates a Watcher for pattern. It attempts to start an
// fsnotify watch on the pattern's parent directory; failure to do so
// (e.g. platform without inotify) degrades silently to poll-only, which
// is always correct, just less prompt.
func NewWatcher(pattern string) *Watcher {
	w := &Watcher{
		Pattern: pattern,
		known:   make(map[string]struct{}),
	}

	if notify, err := fsnotify.NewWatcher(); err == nil {
		dir := filepath.Dir(pattern)
		if err := notify.Add(dir); err == nil {
			w.notify = notify
		} else {
			notify.Close()
		}
	}

	return w
}

// Events exposes the underlying fsnotify event channel for callers that
// want to wake early between ticks; nil if fsnotify setup failed.
func (w *Watcher) Events() <-chan fsnotify.Event {
	if w.notify == nil {
		return nil
	}
	return w.notify.Events
}

// Close releases the fsnotify watch, if any.
func (w *Watcher) Close() error {
	if w.notify != nil {
		return w.notify.Close()
	}
	return nil
}

// Poll re-globs Pattern and returns the files discovered since the last
// Poll call (or ever, on the first call).
func (w *Watcher) Poll() ([]string, error) {
	matches, err := filepath.Glob(w.Pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", w.Pattern, err)
	}

	var fresh []string
	for _, m := range matches {
		if _, ok := w.known[m]; ok {
			continue
		}
		w.known[m] = struct{}{}
		fresh = append(fresh, m)
	}
	return fresh, nil
}

// Forget removes path from the known set, e.g. after its tailer reports
// Removable, so a future re-creation of the same path is picked up again
// as a fresh file.
func (w *Watcher) Forget(path string) {
	delete(w.known, path)
}
