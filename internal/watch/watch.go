// Package watch turns filesystem notifications into debounced rebuild
// requests: a burst of events from an editor save or a branch switch
// collapses into one batch of changed paths once the filesystem has
// been quiet for a moment.
package watch

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultQuiet is the debounce window used when New is given a
// non-positive one.
const DefaultQuiet = 150 * time.Millisecond

// Watcher emits batches of changed paths.
type Watcher struct {
	fsw   *fsnotify.Watcher
	quiet time.Duration
	ch    chan []string
	errs  chan error
	done  chan struct{}
	once  sync.Once
}

// New starts watching the given paths. quiet is how long the
// filesystem must stay silent before a batch is emitted.
func New(quiet time.Duration, paths ...string) (*Watcher, error) {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := fsw.Add(p); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", p, err)
		}
	}
	w := &Watcher{
		fsw:   fsw,
		quiet: quiet,
		ch:    make(chan []string, 1),
		errs:  make(chan error, 1),
		done:  make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Changes delivers one sorted, deduplicated batch of changed paths per
// quiet period. The channel closes when the watcher shuts down.
func (w *Watcher) Changes() <-chan []string { return w.ch }

// Errors delivers watcher errors. Errors nobody reads are dropped.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Add starts watching another path.
func (w *Watcher) Add(path string) error { return w.fsw.Add(path) }

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.ch)
	pending := make(map[string]struct{})
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue // chmod-only events don't change content
			}
			pending[ev.Name] = struct{}{}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.quiet)
			fire = timer.C
		case <-fire:
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			sort.Strings(batch)
			pending = make(map[string]struct{})
			timer, fire = nil, nil
			select {
			case w.ch <- batch:
			case <-w.done:
				return
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		case <-w.done:
			return
		}
	}
}
