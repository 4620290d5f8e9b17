package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TohruskyDev/FinalDream/internal/models"
	"github.com/TohruskyDev/FinalDream/internal/zimage"
)

var genFlags struct {
	prompt   string
	negative string
	width    int
	height   int
	steps    int
	seed     int
	gpu      int
	count    int
	model    string
	output   string
	skipTest bool
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Render images with the zimage executable",
	Example: `  finaldream generate -p "a lighthouse at dusk" --count 4
  finaldream generate -p "portrait" -n "blurry" --width 768 --height 1024 --seed 42`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := generateOptions(cmd)
		if err := zimage.Validate(opts); err != nil {
			return err
		}
		core, modelDir, err := resolvePaths()
		if err != nil {
			return err
		}
		opts.ModelDir = modelDir

		if !genFlags.skipTest {
			if err := checkModel(cmd, modelDir, opts.Model); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log := componentLogger("zimage")
		runner := &zimage.Runner{CorePath: core, Logger: log}
		res, err := runner.Run(ctx, opts, zimage.Output{
			Stdout: func(line string) { log.Debug().Str("stream", "stdout").Msg(line) },
			Stderr: func(line string) { log.Info().Str("stream", "stderr").Msg(line) },
		})
		for _, img := range res.Images {
			fmt.Fprintln(cmd.OutOrStdout(), img)
		}
		if err != nil {
			if errors.Is(err, zimage.ErrKilled) || ctx.Err() != nil {
				return fmt.Errorf("generation interrupted after %d of %d image(s)", len(res.Images), max(opts.Count, 1))
			}
			return err
		}
		return nil
	},
}

// generateOptions layers explicitly set flags over the merged config.
func generateOptions(cmd *cobra.Command) zimage.Options {
	opts := zimage.Options{
		Prompt:         genFlags.prompt,
		NegativePrompt: genFlags.negative,
		OutputDir:      cfg.OutputDir,
		Width:          cfg.Width,
		Height:         cfg.Height,
		Steps:          cfg.Steps,
		Seed:           cfg.SeedValue(),
		Model:          cfg.Model,
		GPU:            cfg.GPUValue(),
		Count:          cfg.Count,
	}
	flags := cmd.Flags()
	if flags.Changed("output") {
		opts.OutputDir = genFlags.output
	}
	if flags.Changed("width") {
		opts.Width = genFlags.width
	}
	if flags.Changed("height") {
		opts.Height = genFlags.height
	}
	if flags.Changed("steps") {
		opts.Steps = genFlags.steps
	}
	if flags.Changed("seed") {
		opts.Seed = genFlags.seed
	}
	if flags.Changed("gpu") {
		opts.GPU = genFlags.gpu
	}
	if flags.Changed("count") {
		opts.Count = genFlags.count
	}
	if flags.Changed("model") {
		opts.Model = genFlags.model
	}
	return opts
}

// checkModel refuses to start when a preset model is incomplete. Custom
// model directories are not checked.
func checkModel(cmd *cobra.Command, modelDir, name string) error {
	st, err := models.Checker{Logger: componentLogger("models")}.CheckStatus(cmd.Context(), modelDir, name, true)
	if errors.Is(err, models.ErrUnknownModel) {
		return nil
	}
	if err != nil {
		return err
	}
	if !st.Valid {
		return fmt.Errorf("model %s is incomplete, missing %s; run 'finaldream models download %s'",
			name, strings.Join(st.Missing, ", "), name)
	}
	return nil
}

func init() {
	f := generateCmd.Flags()
	f.StringVarP(&genFlags.prompt, "prompt", "p", "", "what to render (required)")
	f.StringVarP(&genFlags.negative, "negative", "n", "", "what to avoid")
	f.IntVar(&genFlags.width, "width", 0, "image width (default from config)")
	f.IntVar(&genFlags.height, "height", 0, "image height (default from config)")
	f.IntVar(&genFlags.steps, "steps", 0, "sampling steps, 0 for the executable's default")
	f.IntVar(&genFlags.seed, "seed", -1, "seed, -1 for random")
	f.IntVar(&genFlags.gpu, "gpu", -1, "GPU id, -1 for auto")
	f.IntVarP(&genFlags.count, "count", "c", 1, "number of images")
	f.StringVarP(&genFlags.model, "model", "m", "", "model name (default from config)")
	f.StringVarP(&genFlags.output, "output", "o", "", "output directory (default from config)")
	f.BoolVar(&genFlags.skipTest, "skip-model-check", false, "start without checking the model files")
	rootCmd.AddCommand(generateCmd)
}
