// Package watcher observes a set of files or directories for edits and
// reports, for each file, once its content has gone quiet for a debounce
// interval. Something external to a session has to notice a document
// changed before internal/trigger's Manager can decide whether enough
// work has accumulated to seal a checkpoint; this package is that
// something for the CLI.
package watcher

import (
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"witnessd/internal/security"
)

// Event reports that path has stabilized at a new content hash.
type Event struct {
	Path      string
	Hash      [32]byte
	Size      int64
	Timestamp time.Time
}

// Watcher watches a set of files and directories and emits an Event once
// a file's modifications have settled for the debounce interval.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	paths     []string
	interval  time.Duration

	stateMu sync.RWMutex
	state   map[string]time.Time // path -> last-seen mtime, pending debounce

	events chan Event
	errors chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Watcher over paths (files or directories), debouncing
// changes for intervalSec seconds before emitting an Event. Each path is
// run through security.PathValidator first: a watch path arriving from
// config.toml or a CLI flag is still untrusted input, and a traversal or
// null-byte path has no business reaching fsnotify.
func New(paths []string, intervalSec int) (*Watcher, error) {
	validator := security.DefaultPathValidator()
	cleaned := make([]string, len(paths))
	for i, p := range paths {
		abs, err := validator.ValidatePath(p)
		if err != nil {
			return nil, err
		}
		cleaned[i] = abs
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsWatcher: fsW,
		paths:     cleaned,
		interval:  time.Duration(intervalSec) * time.Second,
		state:     make(map[string]time.Time),
		events:    make(chan Event, 16),
		errors:    make(chan error, 16),
		done:      make(chan struct{}),
	}, nil
}

// Events returns the channel of stabilized file-change events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watch errors (fsnotify failures, stat
// failures during the debounce scan).
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching. It registers each path with fsnotify, seeds the
// debounce state with any files already present, then runs the event and
// debounce loops in background goroutines.
func (w *Watcher) Start() error {
	for _, p := range w.paths {
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		if err := w.fsWatcher.Add(p); err != nil {
			return err
		}
		if info.IsDir() {
			entries, err := os.ReadDir(p)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if !e.IsDir() {
					w.trackFile(filepath.Join(p, e.Name()))
				}
			}
		} else {
			w.trackFile(p)
		}
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()
	return nil
}

// Stop halts the watch loops and releases the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	return w.fsWatcher.Close()
}

func (w *Watcher) trackFile(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	w.stateMu.Lock()
	w.state[path] = info.ModTime()
	w.stateMu.Unlock()
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			info, err := os.Stat(ev.Name)
			if err != nil || info.IsDir() {
				continue
			}
			w.stateMu.Lock()
			w.state[ev.Name] = info.ModTime()
			w.stateMu.Unlock()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) debounceLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case now := <-ticker.C:
			w.checkStableFiles(now)
		}
	}
}

// checkStableFiles emits an Event for every tracked file whose last
// modification is older than the debounce interval, then stops tracking
// it so the same edit is never reported twice.
func (w *Watcher) checkStableFiles(now time.Time) {
	w.stateMu.Lock()
	var stable []string
	for path, lastMod := range w.state {
		if now.Sub(lastMod) >= w.interval {
			stable = append(stable, path)
			delete(w.state, path)
		}
	}
	w.stateMu.Unlock()

	for _, path := range stable {
		hash, size, err := HashFile(path)
		if err != nil {
			select {
			case w.errors <- err:
			default:
			}
			continue
		}
		ev := Event{Path: path, Hash: hash, Size: size, Timestamp: now}
		select {
		case w.events <- ev:
		default:
		}
	}
}

// HashFile streams path through SHA-256, returning its digest and size.
func HashFile(path string) ([32]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return [32]byte{}, 0, err
	}

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, size, nil
}

// WatchedPaths returns the top-level paths passed to New.
func (w *Watcher) WatchedPaths() []string {
	return w.paths
}

// TrackedFiles returns the number of files currently pending debounce.
func (w *Watcher) TrackedFiles() int {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return len(w.state)
}
