package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const testDebounce = 30 * time.Millisecond

// fakeNotifier lets tests inject raw notifications.
type fakeNotifier struct {
	events chan fsnotify.Event
	errors chan error

	mu     sync.Mutex
	dirs   []string
	closed bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		events: make(chan fsnotify.Event, 128),
		errors: make(chan error, 8),
	}
}

func (f *fakeNotifier) Add(dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs = append(f.dirs, dir)
	return nil
}

func (f *fakeNotifier) Events() <-chan fsnotify.Event { return f.events }
func (f *fakeNotifier) Errors() <-chan error          { return f.errors }

func (f *fakeNotifier) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeNotifier) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeNotifier) touch(path string) {
	f.events <- fsnotify.Event{Name: path, Op: fsnotify.Write}
}

// fakeFactory hands out fake notifiers and remembers them in order.
type fakeFactory struct {
	mu        sync.Mutex
	notifiers []*fakeNotifier
	failAfter int // fail creations beyond this count when > 0
}

func (ff *fakeFactory) New() (Notifier, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.failAfter > 0 && len(ff.notifiers) >= ff.failAfter {
		return nil, errors.New("inotify instance limit reached")
	}
	n := newFakeNotifier()
	ff.notifiers = append(ff.notifiers, n)
	return n, nil
}

func (ff *fakeFactory) get(i int) *fakeNotifier {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.notifiers[i]
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.notifiers)
}

// recorder collects delivered events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestWatcher(ff *fakeFactory) *Watcher {
	return New(Options{
		Logger:       zerolog.Nop(),
		Debounce:     testDebounce,
		NewNotifier:  ff.New,
		RestartDelay: 10 * time.Millisecond,
	})
}

// helperT is satisfied by both *testing.T and *rapid.T.
type helperT interface {
	require.TestingT
	Helper()
}

func writeImage(t helperT, path string, mtimeMillis int64) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG"), 0o644))
	if mtimeMillis > 0 {
		ts := time.UnixMilli(mtimeMillis)
		require.NoError(t, os.Chtimes(path, ts, ts))
	}
}

// settle waits long enough for any pending debounce window to flush.
func settle() {
	time.Sleep(4 * testDebounce)
}

func TestIsImageFile(t *testing.T) {
	assert.True(t, IsImageFile("art.PNG"))
	assert.True(t, IsImageFile("photo.jpeg"))
	assert.True(t, IsImageFile("/out/anim.Gif"))
	assert.False(t, IsImageFile("notes.txt"))
	assert.False(t, IsImageFile("png"))
	assert.False(t, IsImageFile("archive.png.tmp"))
}

func TestIsImageFileProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		stem := rapid.StringMatching(`[a-zA-Z0-9_-]{1,12}`).Draw(t, "stem")
		ext := rapid.SampledFrom(ImageExtensions).Draw(t, "ext")

		// Randomise the case of each extension letter.
		var b strings.Builder
		for i, r := range ext {
			if rapid.Bool().Draw(t, fmt.Sprintf("upper%d", i)) {
				b.WriteString(strings.ToUpper(string(r)))
			} else {
				b.WriteRune(r)
			}
		}
		if !IsImageFile(stem + b.String()) {
			t.Fatalf("%q should be recognised as an image", stem+b.String())
		}

		other := rapid.SampledFrom([]string{".txt", ".json", ".tmp", ".bin", ".param", ""}).Draw(t, "other")
		if IsImageFile(stem + other) {
			t.Fatalf("%q should not be recognised as an image", stem+other)
		}
	})
}

func TestSnapshotOrderedByModTime(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "c.png"), 300)
	writeImage(t, filepath.Join(dir, "a.png"), 100)
	writeImage(t, filepath.Join(dir, "b.png"), 200)
	writeImage(t, filepath.Join(dir, "notes.txt"), 50)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "folder.png"), 0o755))
	// Stat fails on a dangling link, so it is skipped like any unreadable entry.
	if err := os.Symlink(filepath.Join(dir, "gone.png"), filepath.Join(dir, "broken.png")); err != nil {
		t.Logf("symlinks unavailable: %v", err)
	}

	ff := &fakeFactory{}
	w := newTestWatcher(ff)
	defer w.Stop()

	rec := &recorder{}
	w.Start(dir, rec.handle)

	events := rec.all()
	require.Len(t, events, 3)
	assert.Equal(t, []int64{100, 200, 300}, []int64{events[0].MTime, events[1].MTime, events[2].MTime})
	assert.Equal(t, filepath.Join(dir, "a.png"), events[0].Path)
	for _, e := range events {
		assert.Equal(t, Added, e.Kind)
	}
	assert.Len(t, w.Known(), 3)
}

func TestSnapshotOrderProperty(t *testing.T) {
	root := t.TempDir()
	iteration := 0

	rapid.Check(t, func(rt *rapid.T) {
		iteration++
		dir := filepath.Join(root, fmt.Sprintf("run%d", iteration))
		if err := os.Mkdir(dir, 0o755); err != nil {
			rt.Fatalf("mkdir: %v", err)
		}

		mtimes := rapid.SliceOfNDistinct(rapid.Int64Range(1_000, 1_000_000_000), 1, 12, rapid.ID[int64]).Draw(rt, "mtimes")
		exts := []string{".png", ".JPG", ".webp", ".gif", ".jpeg"}
		for i, mt := range mtimes {
			name := fmt.Sprintf("img%02d%s", i, exts[i%len(exts)])
			writeImage(rt, filepath.Join(dir, name), mt)
		}

		ff := &fakeFactory{}
		w := newTestWatcher(ff)
		rec := &recorder{}
		w.Start(dir, rec.handle)
		w.Stop()

		events := rec.all()
		if len(events) != len(mtimes) {
			rt.Fatalf("got %d snapshot events, want %d", len(events), len(mtimes))
		}
		for i := 1; i < len(events); i++ {
			if events[i-1].MTime > events[i].MTime {
				rt.Fatalf("snapshot not ascending at %d: %d > %d", i, events[i-1].MTime, events[i].MTime)
			}
		}
	})
}

func TestAddedAfterDebounce(t *testing.T) {
	dir := t.TempDir()
	ff := &fakeFactory{}
	w := newTestWatcher(ff)
	defer w.Stop()

	rec := &recorder{}
	w.Start(dir, rec.handle)
	require.Equal(t, 0, rec.len())

	art := filepath.Join(dir, "art.PNG")
	writeImage(t, art, 5000)
	ff.get(0).touch(art)

	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Event{Kind: Added, Path: art, MTime: 5000}, rec.all()[0])
	assert.Equal(t, []string{art}, w.Known())
}

func TestNonImageNeverReported(t *testing.T) {
	dir := t.TempDir()
	ff := &fakeFactory{}
	w := newTestWatcher(ff)
	defer w.Stop()

	rec := &recorder{}
	w.Start(dir, rec.handle)

	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("hello"), 0o644))
	ff.get(0).touch(notes)
	ff.get(0).events <- fsnotify.Event{Name: "", Op: fsnotify.Create}

	settle()
	assert.Equal(t, 0, rec.len())
	assert.Empty(t, w.Known())
}

func TestDebounceCoalescesBurst(t *testing.T) {
	dir := t.TempDir()
	ff := &fakeFactory{}
	w := newTestWatcher(ff)
	defer w.Stop()

	rec := &recorder{}
	w.Start(dir, rec.handle)

	out := filepath.Join(dir, "out.png")
	writeImage(t, out, 0)
	for range 20 {
		ff.get(0).touch(out)
	}

	settle()
	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, Added, events[0].Kind)
}

func TestTouchInsideWindowRestartsTimer(t *testing.T) {
	const debounce = 100 * time.Millisecond
	dir := t.TempDir()
	ff := &fakeFactory{}
	w := New(Options{Logger: zerolog.Nop(), Debounce: debounce, NewNotifier: ff.New})
	defer w.Stop()

	rec := &recorder{}
	w.Start(dir, rec.handle)

	out := filepath.Join(dir, "slow.png")
	writeImage(t, out, 0)
	// Keep touching for several windows; each touch lands inside the
	// previous window, so nothing may flush yet.
	for i := range 8 {
		ff.get(0).touch(out)
		time.Sleep(debounce / 2)
		require.Equal(t, 0, rec.len(), "flushed during the burst at touch %d", i)
	}

	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Added, rec.all()[0].Kind)
	time.Sleep(2 * debounce)
	assert.Equal(t, 1, rec.len())
}

func TestFlushPreservesTouchOrder(t *testing.T) {
	dir := t.TempDir()
	ff := &fakeFactory{}
	w := newTestWatcher(ff)
	defer w.Stop()

	rec := &recorder{}
	w.Start(dir, rec.handle)

	names := []string{"c.png", "a.png", "b.png"}
	for i, name := range names {
		writeImage(t, filepath.Join(dir, name), int64(1000*(3-i)))
	}
	for _, name := range names {
		ff.get(0).touch(filepath.Join(dir, name))
	}
	ff.get(0).touch(filepath.Join(dir, "c.png"))

	require.Eventually(t, func() bool { return rec.len() == 3 }, time.Second, 5*time.Millisecond)
	var got []string
	for _, e := range rec.all() {
		got = append(got, filepath.Base(e.Path))
	}
	assert.Equal(t, names, got)
}

func TestAddRemoveClassification(t *testing.T) {
	dir := t.TempDir()
	ff := &fakeFactory{}
	w := newTestWatcher(ff)
	defer w.Stop()

	rec := &recorder{}
	w.Start(dir, rec.handle)
	n := ff.get(0)

	p := filepath.Join(dir, "gen.webp")
	writeImage(t, p, 0)
	n.touch(p)
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, os.Remove(p))
	n.touch(p)
	require.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Event{Kind: Removed, Path: p}, rec.all()[1])
	assert.Empty(t, w.Known())

	// A second removal notification for the same path is a no-op.
	n.touch(p)
	settle()
	assert.Equal(t, 2, rec.len())
}

func TestCreateDeleteWithinWindowIsSilent(t *testing.T) {
	dir := t.TempDir()
	ff := &fakeFactory{}
	w := newTestWatcher(ff)
	defer w.Stop()

	rec := &recorder{}
	w.Start(dir, rec.handle)

	p := filepath.Join(dir, "transient.png")
	writeImage(t, p, 0)
	ff.get(0).touch(p)
	require.NoError(t, os.Remove(p))
	ff.get(0).touch(p)

	settle()
	assert.Equal(t, 0, rec.len())
	assert.Empty(t, w.Known())
}

func TestExistingKnownFileIsNoOp(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "old.png")
	writeImage(t, p, 1000)

	ff := &fakeFactory{}
	w := newTestWatcher(ff)
	defer w.Stop()

	rec := &recorder{}
	w.Start(dir, rec.handle)
	require.Equal(t, 1, rec.len())

	writeImage(t, p, 2000)
	ff.get(0).touch(p)
	settle()
	assert.Equal(t, 1, rec.len())
}

func TestSessionReplacement(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	ff := &fakeFactory{}
	w := newTestWatcher(ff)
	defer w.Stop()

	recA := &recorder{}
	recB := &recorder{}
	w.Start(dirA, recA.handle)
	w.Start(dirB, recB.handle)

	got, ok := w.Directory()
	require.True(t, ok)
	assert.Equal(t, dirB, got)
	assert.True(t, ff.get(0).isClosed())
	assert.False(t, ff.get(1).isClosed())

	stale := filepath.Join(dirA, "late.png")
	writeImage(t, stale, 0)
	ff.get(0).touch(stale)

	settle()
	assert.Equal(t, 0, recA.len())
	assert.Equal(t, 0, recB.len())
}

func TestStopIsIdempotent(t *testing.T) {
	ff := &fakeFactory{}
	w := newTestWatcher(ff)

	assert.NotPanics(t, func() {
		w.Stop()
		w.Stop()
	})
	_, ok := w.Directory()
	assert.False(t, ok)

	w.Start(t.TempDir(), nil)
	w.Stop()
	_, ok = w.Directory()
	assert.False(t, ok)
	w.Stop()
	_, ok = w.Directory()
	assert.False(t, ok)
	assert.Nil(t, w.Known())
}

func TestStopCancelsPendingFlush(t *testing.T) {
	dir := t.TempDir()
	ff := &fakeFactory{}
	w := newTestWatcher(ff)

	rec := &recorder{}
	w.Start(dir, rec.handle)

	p := filepath.Join(dir, "pending.png")
	writeImage(t, p, 0)
	ff.get(0).touch(p)
	// Give the run loop a moment to queue the path, well inside the window.
	time.Sleep(testDebounce / 3)
	w.Stop()

	settle()
	assert.Equal(t, 0, rec.len())
}

func TestStartMissingDirectory(t *testing.T) {
	dir := t.TempDir()
	ff := &fakeFactory{}
	w := newTestWatcher(ff)

	w.Start(dir, nil)
	_, ok := w.Directory()
	require.True(t, ok)

	w.Start(filepath.Join(dir, "does-not-exist"), nil)
	_, ok = w.Directory()
	assert.False(t, ok)
	assert.Equal(t, 1, ff.count(), "no subscription for a missing directory")
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	dir := t.TempDir()
	ff := &fakeFactory{}
	w := newTestWatcher(ff)
	defer w.Stop()

	rec := &recorder{}
	var calls int
	w.Start(dir, func(e Event) {
		calls++
		if calls == 1 {
			panic("renderer went away")
		}
		rec.handle(e)
	})

	first := filepath.Join(dir, "first.png")
	writeImage(t, first, 0)
	ff.get(0).touch(first)
	settle()

	second := filepath.Join(dir, "second.png")
	writeImage(t, second, 0)
	ff.get(0).touch(second)

	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, second, rec.all()[0].Path)
	assert.Contains(t, w.Known(), first)
}

func TestWatchErrorResubscribesAndReconciles(t *testing.T) {
	dir := t.TempDir()
	ff := &fakeFactory{}
	w := newTestWatcher(ff)
	defer w.Stop()

	rec := &recorder{}
	w.Start(dir, rec.handle)

	// Written while the subscription is broken: no notification arrives.
	missed := filepath.Join(dir, "missed.png")
	writeImage(t, missed, 4242)
	ff.get(0).errors <- fsnotify.ErrEventOverflow

	require.Eventually(t, func() bool { return ff.count() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Event{Kind: Added, Path: missed, MTime: 4242}, rec.all()[0])
	assert.True(t, ff.get(0).isClosed())

	// The replacement subscription delivers as usual.
	next := filepath.Join(dir, "next.png")
	writeImage(t, next, 0)
	ff.get(1).touch(next)
	require.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)

	got, ok := w.Directory()
	assert.True(t, ok)
	assert.Equal(t, dir, got)
}

func TestWatchErrorGivesUpButStaysActive(t *testing.T) {
	dir := t.TempDir()
	ff := &fakeFactory{failAfter: 1}
	w := New(Options{
		Logger:       zerolog.Nop(),
		Debounce:     testDebounce,
		NewNotifier:  ff.New,
		MaxRestarts:  2,
		RestartDelay: 5 * time.Millisecond,
	})
	defer w.Stop()

	w.Start(dir, nil)
	ff.get(0).errors <- errors.New("watch descriptor lost")

	// 5ms + 10ms of backoff, then it gives up.
	time.Sleep(100 * time.Millisecond)
	got, ok := w.Directory()
	assert.True(t, ok)
	assert.Equal(t, dir, got)
	assert.Equal(t, 1, ff.count())
}

func TestRestartDelayDoubles(t *testing.T) {
	base := 200 * time.Millisecond
	assert.Equal(t, 200*time.Millisecond, restartDelay(base, 0))
	assert.Equal(t, 400*time.Millisecond, restartDelay(base, 1))
	assert.Equal(t, 800*time.Millisecond, restartDelay(base, 2))
}

func TestEndToEndWithFSNotify(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	writeImage(t, a, 1000)

	w := New(Options{Logger: zerolog.Nop()})
	defer w.Stop()

	rec := &recorder{}
	w.Start(dir, rec.handle)
	require.Equal(t, []Event{{Kind: Added, Path: a, MTime: 1000}}, rec.all())

	writeImage(t, b, 2000)
	require.Eventually(t, func() bool { return rec.len() == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, Event{Kind: Added, Path: b, MTime: 2000}, rec.all()[1])

	require.NoError(t, os.Remove(a))
	require.Eventually(t, func() bool { return rec.len() == 3 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, Event{Kind: Removed, Path: a}, rec.all()[2])

	assert.Equal(t, []string{b}, w.Known())
}
