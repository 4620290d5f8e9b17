package watcher

import (
	"github.com/fsnotify/fsnotify"
)

// Notifier is a single-directory filesystem change subscription.
type Notifier interface {
	Add(dir string) error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
	Close() error
}

// fsNotifier adapts fsnotify.Watcher to Notifier.
type fsNotifier struct {
	w *fsnotify.Watcher
}

// NewFSNotifier returns a Notifier backed by fsnotify.
func NewFSNotifier() (Notifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &fsNotifier{w: w}, nil
}

func (n *fsNotifier) Add(dir string) error          { return n.w.Add(dir) }
func (n *fsNotifier) Events() <-chan fsnotify.Event { return n.w.Events }
func (n *fsNotifier) Errors() <-chan error          { return n.w.Errors }
func (n *fsNotifier) Close() error                  { return n.w.Close() }
