package watcher

import (
	"os"
	"path/filepath"
	"slices"
	"time"
)

// handleError logs a watch-mechanism error and schedules a re-subscription.
// The session stays active throughout.
func (w *Watcher) handleError(s *session, n Notifier, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s.closed || s.notifier != n {
		return
	}
	w.logger.Error().Err(err).Str("dir", s.dir).Msg("File watcher error")
	w.scheduleRestartLocked(s)
}

func restartDelay(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(1<<attempt)
}

func (w *Watcher) scheduleRestartLocked(s *session) {
	if w.maxRestarts < 0 || s.restartTimer != nil {
		return
	}
	if s.restarts >= w.maxRestarts {
		if s.restarts == w.maxRestarts {
			s.restarts++
			w.logger.Warn().Str("dir", s.dir).Msg("Giving up re-subscribing; new images may not be detected")
		}
		return
	}
	delay := restartDelay(w.restartDelay, s.restarts)
	s.restarts++
	s.restartTimer = time.AfterFunc(delay, func() {
		w.resubscribe(s)
	})
}

// resubscribe replaces the session's notifier and queues a reconcile pass so
// changes missed while the old subscription was broken are still reported.
func (w *Watcher) resubscribe(s *session) {
	n, err := w.subscribe(s.dir)

	w.mu.Lock()
	s.restartTimer = nil
	if s.closed {
		w.mu.Unlock()
		if err == nil {
			_ = n.Close()
		}
		return
	}
	if err != nil {
		w.logger.Warn().Err(err).Str("dir", s.dir).Msg("Watcher re-subscribe failed")
		w.scheduleRestartLocked(s)
		w.mu.Unlock()
		return
	}
	previous := s.notifier
	s.notifier = n
	s.restarts = 0
	w.mu.Unlock()

	go w.run(s, n)
	if err := previous.Close(); err != nil {
		w.logger.Debug().Err(err).Msg("Closing previous file watcher")
	}
	w.logger.Info().Str("dir", s.dir).Msg("Re-subscribed to directory")

	w.reconcile(s)
}

// reconcile marks every known path and every image on disk as pending.
func (w *Watcher) reconcile(s *session) {
	var onDisk []string
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		w.logger.Warn().Err(err).Str("dir", s.dir).Msg("Error reading directory during reconcile")
	}
	for _, entry := range entries {
		if !entry.IsDir() && IsImageFile(entry.Name()) {
			onDisk = append(onDisk, filepath.Join(s.dir, entry.Name()))
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if s.closed {
		return
	}
	known := make([]string, 0, len(s.known))
	for p := range s.known {
		known = append(known, p)
	}
	slices.Sort(known)
	for _, p := range slices.Concat(known, onDisk) {
		w.enqueueLocked(s, p)
	}
	if len(s.pending) > 0 {
		w.scheduleLocked(s)
	}
}

