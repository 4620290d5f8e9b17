package watcher

import (
	"cmp"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultDebounce is the quiet period after the last relevant
	// notification before pending paths are classified.
	DefaultDebounce = 100 * time.Millisecond

	defaultMaxRestarts  = 3
	defaultRestartDelay = 200 * time.Millisecond
)

// Options configures a Watcher. The zero value is usable.
type Options struct {
	Logger   zerolog.Logger
	Debounce time.Duration
	// NewNotifier creates the filesystem subscription. Defaults to fsnotify.
	NewNotifier func() (Notifier, error)
	// MaxRestarts bounds re-subscription attempts after a watch error.
	// Zero means the default; negative disables re-subscription.
	MaxRestarts  int
	RestartDelay time.Duration
}

// Watcher owns at most one watch session.
type Watcher struct {
	logger       zerolog.Logger
	debounce     time.Duration
	newNotifier  func() (Notifier, error)
	maxRestarts  int
	restartDelay time.Duration

	// opMu serialises Start and Stop.
	opMu sync.Mutex
	// deliverMu is held while events are handed to the handler; Stop takes
	// it after tearing down so it returns only once delivery has drained.
	// Lock order: deliverMu before mu.
	deliverMu sync.Mutex
	mu        sync.Mutex
	sess      *session
}

// session is the state of one watched directory.
type session struct {
	dir      string
	handler  Handler
	notifier Notifier

	known      map[string]struct{}
	pending    []string
	pendingSet map[string]struct{}

	timer *time.Timer
	gen   uint64

	restarts     int
	restartTimer *time.Timer

	closed bool
	done   chan struct{}
}

// New creates an idle Watcher.
func New(opts Options) *Watcher {
	w := &Watcher{
		logger:       opts.Logger,
		debounce:     opts.Debounce,
		newNotifier:  opts.NewNotifier,
		maxRestarts:  opts.MaxRestarts,
		restartDelay: opts.RestartDelay,
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.newNotifier == nil {
		w.newNotifier = NewFSNotifier
	}
	if w.maxRestarts == 0 {
		w.maxRestarts = defaultMaxRestarts
	}
	if w.restartDelay <= 0 {
		w.restartDelay = defaultRestartDelay
	}
	return w
}

// Start watches dir, replacing any session already active. Existing images
// are delivered to h synchronously, oldest first, before Start returns.
//
// Failures are logged, not returned: if dir is missing or cannot be
// subscribed to, the watcher is left idle and Directory reports false.
func (w *Watcher) Start(dir string, h Handler) {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	w.teardown()

	abs, err := filepath.Abs(dir)
	if err != nil {
		w.logger.Error().Err(err).Str("dir", dir).Msg("Cannot resolve directory")
		return
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		w.logger.Error().Str("dir", abs).Msg("Directory does not exist")
		return
	}

	n, err := w.subscribe(abs)
	if err != nil {
		w.logger.Error().Err(err).Str("dir", abs).Msg("Failed to watch directory")
		return
	}

	// Subscribing before listing means a file written in between shows up
	// both in the snapshot and as a notification; the notification is then
	// a no-op because the path is already known.
	snapshot := w.scan(abs)

	s := &session{
		dir:        abs,
		handler:    h,
		notifier:   n,
		known:      make(map[string]struct{}, len(snapshot)),
		pendingSet: make(map[string]struct{}),
		done:       make(chan struct{}),
	}
	for _, e := range snapshot {
		s.known[e.Path] = struct{}{}
	}

	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()

	w.mu.Lock()
	w.sess = s
	w.mu.Unlock()

	go w.run(s, n)

	w.logger.Info().Str("dir", abs).Int("existing", len(snapshot)).Msg("Started watching directory")
	for _, e := range snapshot {
		w.deliver(s, e)
	}
}

// Stop ends the active session, if any. No event is delivered after Stop
// returns. Safe to call repeatedly.
func (w *Watcher) Stop() {
	w.opMu.Lock()
	defer w.opMu.Unlock()
	w.teardown()
}

// Directory returns the watched directory, or false when idle.
func (w *Watcher) Directory() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sess == nil {
		return "", false
	}
	return w.sess.dir, true
}

// Known returns the paths currently reported as present, sorted.
func (w *Watcher) Known() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sess == nil {
		return nil
	}
	paths := make([]string, 0, len(w.sess.known))
	for p := range w.sess.known {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// teardown must be called with opMu held.
func (w *Watcher) teardown() {
	w.mu.Lock()
	s := w.sess
	w.sess = nil
	var n Notifier
	if s != nil {
		s.closed = true
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		if s.restartTimer != nil {
			s.restartTimer.Stop()
			s.restartTimer = nil
		}
		s.pending = nil
		clear(s.pendingSet)
		clear(s.known)
		n = s.notifier
		close(s.done)
	}
	w.mu.Unlock()

	if s == nil {
		return
	}
	if err := n.Close(); err != nil {
		w.logger.Warn().Err(err).Str("dir", s.dir).Msg("Closing file watcher")
	}

	// Wait out a flush that was already delivering when we closed.
	w.deliverMu.Lock()
	w.deliverMu.Unlock()

	w.logger.Info().Str("dir", s.dir).Msg("Stopped watching directory")
}

func (w *Watcher) subscribe(dir string) (Notifier, error) {
	n, err := w.newNotifier()
	if err != nil {
		return nil, err
	}
	if err := n.Add(dir); err != nil {
		_ = n.Close()
		return nil, err
	}
	return n, nil
}

// scan lists the image files in dir sorted by modification time, oldest
// first. Entries that vanish or cannot be read are skipped.
func (w *Watcher) scan(dir string) []Event {
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.logger.Error().Err(err).Str("dir", dir).Msg("Error reading directory")
		return nil
	}

	events := make([]Event, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !IsImageFile(entry.Name()) {
			continue
		}
		p := filepath.Join(dir, entry.Name())
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		events = append(events, Event{Kind: Added, Path: p, MTime: info.ModTime().UnixMilli()})
	}
	slices.SortStableFunc(events, func(a, b Event) int {
		return cmp.Compare(a.MTime, b.MTime)
	})
	return events
}

// run drains one notifier until the session ends or the notifier closes.
func (w *Watcher) run(s *session, n Notifier) {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-n.Events():
			if !ok {
				return
			}
			w.notify(s, n, ev.Name)
		case err, ok := <-n.Errors():
			if !ok {
				return
			}
			w.handleError(s, n, err)
		}
	}
}

// notify records a raw notification for name and restarts the debounce
// timer. Names without an image extension are dropped.
func (w *Watcher) notify(s *session, n Notifier, name string) {
	if name == "" {
		return
	}
	base := filepath.Base(name)
	if !IsImageFile(base) {
		return
	}
	path := filepath.Join(s.dir, base)

	w.mu.Lock()
	defer w.mu.Unlock()
	if s.closed || s.notifier != n {
		return
	}
	w.enqueueLocked(s, path)
	w.scheduleLocked(s)
}

func (w *Watcher) enqueueLocked(s *session, path string) {
	if _, ok := s.pendingSet[path]; ok {
		return
	}
	s.pendingSet[path] = struct{}{}
	s.pending = append(s.pending, path)
}

// scheduleLocked (re)arms the debounce timer. Bumping gen turns a timer that
// already fired but has not yet taken the lock into a no-op, so at most one
// flush runs per quiet window.
func (w *Watcher) scheduleLocked(s *session) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(w.debounce, func() {
		w.flush(s, gen)
	})
}

// flush classifies every pending path and delivers the resulting events in
// the order the paths were first touched.
func (w *Watcher) flush(s *session, gen uint64) {
	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()

	w.mu.Lock()
	if s.closed || s.gen != gen {
		w.mu.Unlock()
		return
	}
	s.timer = nil
	paths := s.pending
	s.pending = nil
	clear(s.pendingSet)

	events := make([]Event, 0, len(paths))
	for _, p := range paths {
		if e, ok := w.classifyLocked(s, p); ok {
			events = append(events, e)
		}
	}
	w.mu.Unlock()

	for _, e := range events {
		w.mu.Lock()
		closed := s.closed
		w.mu.Unlock()
		if closed {
			return
		}
		w.deliver(s, e)
	}
}

func (w *Watcher) classifyLocked(s *session, path string) (Event, bool) {
	_, known := s.known[path]

	info, err := os.Stat(path)
	exists := err == nil && !info.IsDir()

	switch {
	case err != nil && !os.IsNotExist(err):
		w.logger.Error().Err(err).Str("path", path).Msg("Error processing file")
		return Event{}, false
	case exists && !known:
		s.known[path] = struct{}{}
		w.logger.Debug().Str("path", path).Msg("New image detected")
		return Event{Kind: Added, Path: path, MTime: info.ModTime().UnixMilli()}, true
	case !exists && known:
		delete(s.known, path)
		w.logger.Debug().Str("path", path).Msg("Image removed")
		return Event{Kind: Removed, Path: path}, true
	default:
		return Event{}, false
	}
}

func (w *Watcher) deliver(s *session, e Event) {
	if s.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Str("path", e.Path).Str("kind", e.Kind.String()).Msg("Image event handler panicked")
		}
	}()
	s.handler(e)
}
