package watcher

import (
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Kind distinguishes an image arriving from an image leaving the directory.
type Kind int

const (
	Added Kind = iota + 1
	Removed
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is a classified change to the watched directory.
type Event struct {
	Kind Kind
	Path string // absolute
	// MTime is the file's modification time in Unix milliseconds.
	// Zero for Removed events.
	MTime int64
}

// ModTime returns MTime as a time.Time.
func (e Event) ModTime() time.Time {
	return time.UnixMilli(e.MTime)
}

// Handler consumes events. It is called from the watcher's own goroutines,
// one event at a time, and must not call Start or Stop on the same Watcher.
type Handler func(Event)

// ImageExtensions lists the recognised image extensions, lower case.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".webp", ".gif"}

// IsImageFile reports whether name has a recognised image extension,
// ignoring case.
func IsImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return slices.Contains(ImageExtensions, ext)
}
