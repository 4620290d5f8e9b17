package cmd

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TohruskyDev/FinalDream/internal/session"
)

var stopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running watch session",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewSessionStore()
		if err != nil {
			return err
		}

		s, err := store.Load()
		if err != nil {
			if errors.Is(err, session.ErrNoSession) {
				return session.ErrNoSession
			}
			return err
		}

		if !processAlive(s.PID) {
			if err := store.Delete(); err != nil {
				return err
			}
			cmd.Printf("Removed stale session for %s (pid %d had exited).\n", s.Directory, s.PID)
			return nil
		}

		p, err := os.FindProcess(s.PID)
		if err != nil {
			return err
		}
		if err := p.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("signalling pid %d: %w", s.PID, err)
		}

		// The watcher deletes its own record on the way out.
		deadline := time.Now().Add(stopTimeout)
		for time.Now().Before(deadline) {
			cur, err := store.Load()
			if errors.Is(err, session.ErrNoSession) || (err == nil && cur.ID != s.ID) {
				cmd.Printf("Watch on %s stopped.\n", s.Directory)
				return nil
			}
			time.Sleep(50 * time.Millisecond)
		}
		return fmt.Errorf("pid %d did not stop within %s", s.PID, stopTimeout)
	},
}

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 5*time.Second, "how long to wait for the watch to exit")
	rootCmd.AddCommand(stopCmd)
}
