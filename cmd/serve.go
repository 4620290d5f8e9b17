package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TohruskyDev/FinalDream/internal/server"
	"github.com/TohruskyDev/FinalDream/internal/session"
)

var serveAddrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve [dir]",
	Short: "Watch a directory and stream image events over a websocket",
	Long: `Watch a directory and publish its gallery on an HTTP server.

Endpoints:
  /ws           websocket; sends the current gallery, then live events
  /api/images   current gallery as JSON, newest first
  /healthz      liveness probe`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := watchDir(args)
		if err != nil {
			return err
		}
		addr := cfg.ListenAddr
		if serveAddrFlag != "" {
			addr = serveAddrFlag
		}

		store, err := session.NewSessionStore()
		if err != nil {
			return err
		}
		t, err := beginSession(store, dir, addr, componentLogger("session"))
		if err != nil {
			return err
		}
		defer t.finish()

		hub := server.NewHub(t.gallery, componentLogger("hub"))
		t.apply = hub.Publish
		t.sink = printEvent(cmd.OutOrStdout(), dir)

		srv, err := server.New(server.Config{
			Addr:      addr,
			Hub:       hub,
			Directory: func() string { return dir },
			Logger:    componentLogger("server"),
		})
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		if err := t.setAddr(srv.Addr()); err != nil {
			t.log.Warn().Err(err).Msg("Could not update session record")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		w := newWatcher()
		w.Start(dir, t.handle)
		if _, ok := w.Directory(); !ok {
			shutdownServer(srv)
			return fmt.Errorf("could not watch %s", dir)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Serving %s on http://%s (%d images). Press Ctrl+C to stop.\n",
			dir, srv.Addr(), t.gallery.Len())

		<-ctx.Done()
		w.Stop()
		return shutdownServer(srv)
	},
}

func shutdownServer(srv *server.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func init() {
	serveCmd.Flags().StringVar(&serveAddrFlag, "addr", "", "listen address (default from config, 127.0.0.1:7860)")
	rootCmd.AddCommand(serveCmd)
}
