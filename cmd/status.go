package cmd

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/TohruskyDev/FinalDream/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current watch session",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewSessionStore()
		if err != nil {
			return err
		}

		s, err := store.Load()
		if err != nil {
			if errors.Is(err, session.ErrNoSession) {
				cmd.Println(session.ErrNoSession.Error())
				return nil
			}
			return err
		}

		state := "running"
		if !processAlive(s.PID) {
			state = "stale (process exited)"
		}
		cmd.Printf("Directory: %s\n", s.Directory)
		cmd.Printf("State: %s, pid %d\n", state, s.PID)
		cmd.Printf("Started: %s\n", s.StartTime.Local().Format(time.RFC3339))
		cmd.Printf("Duration: %s\n", s.Duration().Round(time.Second))
		if s.Addr != "" {
			cmd.Printf("Serving: http://%s\n", s.Addr)
		}
		cmd.Printf("Images: %d\n", len(s.Images))
		cmd.Printf("Events: %d\n", s.Events)
		if len(s.Images) > 0 {
			latest := s.Images[0]
			cmd.Printf("Latest: %s (%s)\n", filepath.Base(latest.Path), latest.ModTime().Format(time.DateTime))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
