package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/TohruskyDev/FinalDream/internal/gallery"
)

// Session is the on-disk record of a running watch.
type Session struct {
	ID        uuid.UUID `json:"id"`
	Directory string    `json:"directory"`
	StartTime time.Time `json:"start_time"`
	UpdatedAt time.Time `json:"updated_at"`
	PID       int       `json:"pid"`
	// Addr is the listen address when the session was started by serve.
	Addr string `json:"addr,omitempty"`
	// Images mirrors the watcher's gallery, newest first.
	Images []gallery.Image `json:"images"`
	// Events counts image events delivered since StartTime, including the
	// initial snapshot.
	Events int `json:"events"`
}

// New returns a fresh session for dir owned by the current process.
func New(dir string, pid int) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.New(),
		Directory: dir,
		StartTime: now,
		UpdatedAt: now,
		PID:       pid,
		Images:    []gallery.Image{},
	}
}

// Duration is the time the session has been running as of UpdatedAt.
func (s *Session) Duration() time.Duration {
	return s.UpdatedAt.Sub(s.StartTime)
}
