package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/TohruskyDev/FinalDream/internal/gallery"
	"github.com/TohruskyDev/FinalDream/internal/session"
	"github.com/TohruskyDev/FinalDream/internal/watcher"
)

var (
	galleryFormat string
	galleryOutput string
)

var galleryCmd = &cobra.Command{
	Use:   "gallery [dir]",
	Short: "Export the gallery as Markdown or JSON",
	Long: `Export the images of the active watch session, newest first.

With a directory argument the directory is scanned once instead and no
session is needed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		renderer, err := gallery.RendererFor(galleryFormat)
		if err != nil {
			return err
		}

		var export *gallery.Export
		if len(args) > 0 {
			export, err = scanGallery(args[0])
		} else {
			export, err = sessionGallery()
		}
		if err != nil {
			return err
		}

		data, err := renderer.Render(export)
		if err != nil {
			return fmt.Errorf("rendering gallery: %w", err)
		}
		if galleryOutput == "" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(galleryOutput, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", galleryOutput, err)
		}
		cmd.Printf("Gallery written to %s\n", galleryOutput)
		return nil
	},
}

func sessionGallery() (*gallery.Export, error) {
	store, err := session.NewSessionStore()
	if err != nil {
		return nil, err
	}
	s, err := store.Load()
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return nil, fmt.Errorf("%w; pass a directory to export it directly", err)
		}
		return nil, err
	}
	return &gallery.Export{
		Directory:   s.Directory,
		GeneratedAt: time.Now(),
		Images:      gallery.New(s.Images...).Images(),
	}, nil
}

// scanGallery takes the watcher's startup snapshot of dir and stops.
func scanGallery(dir string) (*gallery.Export, error) {
	abs, err := watchDir([]string{dir})
	if err != nil {
		return nil, err
	}
	g := gallery.New()
	w := newWatcher()
	w.Start(abs, func(e watcher.Event) { g.Apply(e) })
	_, ok := w.Directory()
	w.Stop()
	if !ok {
		return nil, fmt.Errorf("could not scan %s", dir)
	}
	return &gallery.Export{Directory: abs, GeneratedAt: time.Now(), Images: g.Images()}, nil
}

func init() {
	galleryCmd.Flags().StringVarP(&galleryFormat, "format", "f", "markdown", "output format: markdown or json")
	galleryCmd.Flags().StringVarP(&galleryOutput, "output", "o", "", "write to this file instead of stdout")
	rootCmd.AddCommand(galleryCmd)
}
