// Package gallery keeps the consumer-side list of images reported by the
// watcher, newest first.
package gallery

import (
	"sort"
	"sync"
	"time"

	"github.com/TohruskyDev/FinalDream/internal/watcher"
)

// Image is one file in the gallery.
type Image struct {
	Path  string `json:"path"`
	MTime int64  `json:"mtime"` // Unix milliseconds
}

// ModTime returns MTime as a time.Time.
func (i Image) ModTime() time.Time {
	return time.UnixMilli(i.MTime)
}

// Gallery is safe for concurrent use.
type Gallery struct {
	mu     sync.RWMutex
	images []Image // descending MTime
}

// New returns a gallery seeded with images, in any order.
func New(images ...Image) *Gallery {
	g := &Gallery{}
	for _, img := range images {
		g.insertLocked(img)
	}
	return g
}

// Apply folds a watcher event into the gallery and reports whether the list
// changed.
func (g *Gallery) Apply(e watcher.Event) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch e.Kind {
	case watcher.Added:
		return g.insertLocked(Image{Path: e.Path, MTime: e.MTime})
	case watcher.Removed:
		return g.removeLocked(e.Path)
	default:
		return false
	}
}

// Images returns a copy of the list, newest first.
func (g *Gallery) Images() []Image {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Image, len(g.images))
	copy(out, g.images)
	return out
}

// Oldest returns a copy of the list, oldest first.
func (g *Gallery) Oldest() []Image {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Image, len(g.images))
	for i, img := range g.images {
		out[len(out)-1-i] = img
	}
	return out
}

func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.images)
}

// Latest returns the newest image.
func (g *Gallery) Latest() (Image, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.images) == 0 {
		return Image{}, false
	}
	return g.images[0], true
}

// insertLocked places img after every image at least as new, so images with
// equal mtimes keep arrival order. A path already present is moved.
func (g *Gallery) insertLocked(img Image) bool {
	if i := g.indexLocked(img.Path); i >= 0 {
		if g.images[i].MTime == img.MTime {
			return false
		}
		g.images = append(g.images[:i], g.images[i+1:]...)
	}
	i := sort.Search(len(g.images), func(j int) bool {
		return g.images[j].MTime < img.MTime
	})
	g.images = append(g.images, Image{})
	copy(g.images[i+1:], g.images[i:])
	g.images[i] = img
	return true
}

func (g *Gallery) removeLocked(path string) bool {
	i := g.indexLocked(path)
	if i < 0 {
		return false
	}
	g.images = append(g.images[:i], g.images[i+1:]...)
	return true
}

func (g *Gallery) indexLocked(path string) int {
	for i, img := range g.images {
		if img.Path == path {
			return i
		}
	}
	return -1
}
