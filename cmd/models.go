package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/TohruskyDev/FinalDream/internal/httpclient"
	"github.com/TohruskyDev/FinalDream/internal/models"
	"github.com/TohruskyDev/FinalDream/internal/zimage"
)

var (
	modelsFullFlag bool
	modelsOnlyFlag []string
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List, check and download model files",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed models",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, dir, err := resolvePaths()
		if err != nil {
			return err
		}
		names, err := models.Checker{Logger: componentLogger("models")}.ListInstalled(dir)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			cmd.Printf("No models installed in %s\n", dir)
			return nil
		}
		for _, n := range names {
			marker := " "
			if n == cfg.Model {
				marker = "*"
			}
			cmd.Printf("%s %s\n", marker, n)
		}
		return nil
	},
}

var modelsStatusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Check a model's files (existence only unless --full)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := modelName(args)
		_, dir, err := resolvePaths()
		if err != nil {
			return err
		}
		checker := models.Checker{Logger: componentLogger("models")}
		st, err := checker.CheckStatus(cmd.Context(), dir, name, !modelsFullFlag)
		if err != nil {
			return err
		}
		if st.Valid {
			cmd.Printf("%s: ok\n", name)
			return nil
		}
		cmd.Printf("%s: %d file(s) missing or invalid\n", name, len(st.Missing))
		for _, f := range st.Missing {
			cmd.Printf("  %s\n", f)
		}
		cmd.Printf("Run 'finaldream models download %s' to fetch them.\n", name)
		return nil
	},
}

var modelsDownloadCmd = &cobra.Command{
	Use:   "download [name]",
	Short: "Download a preset model",
	Long: `Download the files of a preset model into the model directory.

Every file is fetched again unless --only names the ones to fetch, for
example those 'models status' reports as missing.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := modelName(args)
		if _, err := models.Lookup(name); err != nil {
			return fmt.Errorf("%w: %s (presets: %s)", err, name, strings.Join(models.Names(), ", "))
		}
		_, dir, err := resolvePaths()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		d := &models.Downloader{
			Client:  httpclient.Default(),
			BaseURL: cfg.DownloadBaseURL,
			Logger:  componentLogger("models"),
		}
		report := newProgressReporter(cmd.ErrOrStderr(), term.IsTerminal(os.Stderr.Fd()))
		err = d.Download(ctx, dir, name, modelsOnlyFlag, report.update)
		report.done()
		if err != nil {
			return err
		}
		cmd.Printf("%s downloaded to %s\n", name, dir)
		return nil
	},
}

// progressReporter draws a bar per file on terminals and a line per file
// elsewhere.
type progressReporter struct {
	out   io.Writer
	bar   *progress.Model
	file  string
	drawn bool
}

func newProgressReporter(out io.Writer, tty bool) *progressReporter {
	r := &progressReporter{out: out}
	if tty {
		bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(40))
		r.bar = &bar
	}
	return r
}

func (r *progressReporter) update(p models.Progress) {
	if p.File != r.file {
		r.done()
		r.file = p.File
		if r.bar == nil {
			fmt.Fprintf(r.out, "[%d/%d] %s\n", p.Index, p.Total, p.File)
			return
		}
	}
	if r.bar == nil {
		return
	}
	fmt.Fprintf(r.out, "\r[%d/%d] %s %s", p.Index, p.Total, r.bar.ViewAs(p.Percent/100), p.File)
	r.drawn = true
}

func (r *progressReporter) done() {
	if r.drawn {
		fmt.Fprintln(r.out)
		r.drawn = false
	}
}

func modelName(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	if cfg.Model != "" {
		return cfg.Model
	}
	return models.DefaultModel
}

// resolvePaths returns the executable and model directory, falling back to
// the layout shipped next to the finaldream binary.
func resolvePaths() (core, modelDir string, err error) {
	core = cfg.CorePath
	if core == "" {
		if core, err = zimage.DefaultCorePath(); err != nil {
			return "", "", fmt.Errorf("locating zimage executable: %w", err)
		}
	}
	modelDir = cfg.ModelDir
	if modelDir == "" {
		modelDir = zimage.DefaultModelDir(core)
	}
	return core, modelDir, nil
}

func init() {
	modelsStatusCmd.Flags().BoolVar(&modelsFullFlag, "full", false, "verify file hashes, not just existence")
	modelsDownloadCmd.Flags().StringSliceVar(&modelsOnlyFlag, "only", nil, "download only these files (comma separated)")
	modelsCmd.AddCommand(modelsListCmd, modelsStatusCmd, modelsDownloadCmd)
	rootCmd.AddCommand(modelsCmd)
}
