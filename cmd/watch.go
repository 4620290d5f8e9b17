package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/TohruskyDev/FinalDream/internal/session"
	"github.com/TohruskyDev/FinalDream/internal/tui"
	"github.com/TohruskyDev/FinalDream/internal/watcher"
)

var plainFlag bool

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Follow a directory and list images as they appear",
	Long: `Watch a directory for image files until interrupted.

Without an argument the configured output directory is watched. On a
terminal a live gallery is shown; with --plain, or when stdout is not a
terminal, one line is printed per event.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := watchDir(args)
		if err != nil {
			return err
		}
		store, err := session.NewSessionStore()
		if err != nil {
			return err
		}
		t, err := beginSession(store, dir, "", componentLogger("session"))
		if err != nil {
			return err
		}
		defer t.finish()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		w := newWatcher()
		if usesTUI(cmd) {
			return watchTUI(ctx, w, t, dir)
		}

		t.sink = printEvent(cmd.OutOrStdout(), dir)
		w.Start(dir, t.handle)
		defer w.Stop()
		if _, ok := w.Directory(); !ok {
			return fmt.Errorf("could not watch %s", dir)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s (%d images). Press Ctrl+C to stop.\n", dir, t.gallery.Len())
		<-ctx.Done()
		return nil
	},
}

// watchTUI runs the full-screen viewer. The watcher starts in the
// background because Program.Send blocks until the program is running.
func watchTUI(ctx context.Context, w *watcher.Watcher, t *tracker, dir string) error {
	p := tui.NewProgram(tui.New(dir, t.gallery), tea.WithContext(ctx))
	t.sink = func(e watcher.Event) {
		p.Send(tui.EventMsg{Event: e, At: time.Now()})
	}

	failed := make(chan bool, 1)
	go func() {
		w.Start(dir, t.handle)
		_, ok := w.Directory()
		failed <- !ok
		if !ok {
			p.Quit()
		}
	}()

	_, err := p.Run()
	startFailed := <-failed
	w.Stop()
	switch {
	case startFailed:
		return fmt.Errorf("could not watch %s", dir)
	case err != nil && ctx.Err() != nil:
		// tea reports the cancelled context as an error.
		return nil
	}
	return err
}

// watchDir resolves the directory argument, falling back to the configured
// output directory.
func watchDir(args []string) (string, error) {
	dir := cfg.OutputDir
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("cannot watch %s: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("cannot watch %s: not a directory", dir)
	}
	return abs, nil
}

func newWatcher() *watcher.Watcher {
	return watcher.New(watcher.Options{
		Logger:   componentLogger("watcher"),
		Debounce: cfg.Debounce,
	})
}

// printEvent writes one line per event, paths relative to dir.
func printEvent(out io.Writer, dir string) func(watcher.Event) {
	return func(e watcher.Event) {
		rel, err := filepath.Rel(dir, e.Path)
		if err != nil {
			rel = e.Path
		}
		at := time.Now()
		if e.Kind == watcher.Added {
			at = e.ModTime()
		}
		fmt.Fprintf(out, "%s %-7s %s\n", at.Format(time.DateTime), e.Kind, rel)
	}
}

// usesTUI reports whether cmd will take over the terminal with the viewer.
func usesTUI(cmd *cobra.Command) bool {
	if cmd.Name() != "watch" || plainFlag {
		return false
	}
	return term.IsTerminal(os.Stdout.Fd()) && term.IsTerminal(os.Stdin.Fd())
}

func init() {
	watchCmd.Flags().BoolVar(&plainFlag, "plain", false, "print one line per event instead of the live gallery")
	rootCmd.AddCommand(watchCmd)
}
