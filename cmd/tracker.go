package cmd

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/TohruskyDev/FinalDream/internal/gallery"
	"github.com/TohruskyDev/FinalDream/internal/session"
	"github.com/TohruskyDev/FinalDream/internal/watcher"
)

// tracker mirrors watcher events into a gallery and the persisted session
// record, then forwards changes to sink.
type tracker struct {
	gallery *gallery.Gallery
	// apply folds an event into the gallery and reports whether it changed.
	apply func(watcher.Event) bool
	sink  func(watcher.Event)
	store session.SessionStore
	log   zerolog.Logger

	mu   sync.Mutex
	sess *session.Session
}

// beginSession claims the session record for dir. A record left by a live
// process is an error; one left by a dead process is replaced.
func beginSession(store session.SessionStore, dir, addr string, log zerolog.Logger) (*tracker, error) {
	prev, err := store.Load()
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		log.Warn().Err(err).Msg("Ignoring unreadable session record")
	}
	if prev != nil {
		if prev.PID != os.Getpid() && processAlive(prev.PID) {
			return nil, fmt.Errorf("watch already in progress on %s (pid %d)", prev.Directory, prev.PID)
		}
		log.Info().Int("pid", prev.PID).Msg("Replacing stale session record")
	}

	s := session.New(dir, os.Getpid())
	s.Addr = addr
	if err := store.Save(s); err != nil {
		return nil, err
	}

	g := gallery.New()
	return &tracker{
		gallery: g,
		apply:   g.Apply,
		sink:    func(watcher.Event) {},
		store:   store,
		log:     log,
		sess:    s,
	}, nil
}

// handle is the watcher.Handler for a watch session.
func (t *tracker) handle(e watcher.Event) {
	if !t.apply(e) {
		return
	}

	t.mu.Lock()
	t.sess.Events++
	t.sess.Images = t.gallery.Images()
	t.sess.UpdatedAt = time.Now().UTC()
	snapshot := *t.sess
	t.mu.Unlock()

	// Best effort: a failed write only makes status stale.
	if err := t.store.Save(&snapshot); err != nil {
		t.log.Warn().Err(err).Msg("Could not update session record")
	}
	t.sink(e)
}

// setAddr records the bound listen address of a serve session.
func (t *tracker) setAddr(addr string) error {
	t.mu.Lock()
	t.sess.Addr = addr
	snapshot := *t.sess
	t.mu.Unlock()
	return t.store.Save(&snapshot)
}

// finish removes the session record if it is still ours.
func (t *tracker) finish() {
	cur, err := t.store.Load()
	if err != nil || cur.ID != t.sess.ID {
		return
	}
	if err := t.store.Delete(); err != nil {
		t.log.Warn().Err(err).Msg("Could not remove session record")
	}
}

// processAlive reports whether pid names a running process.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
