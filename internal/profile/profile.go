// Package profile manages the user's persistent FinalDream profile.
// The profile is stored at ~/.config/finaldream/profile.json and is created
// once via the interactive setup flow, then referenced on every command.
package profile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/TohruskyDev/FinalDream/internal/config"
)

// Profile holds user-level preferences set during first-run setup.
type Profile struct {
	OutputDir    string `json:"output_dir"` // where generated images land and watch looks by default
	ModelDir     string `json:"model_dir,omitempty"`
	CorePath     string `json:"core_path,omitempty"`
	DefaultModel string `json:"default_model"`
	GPU          int    `json:"gpu"` // -1 = auto
}

// Config returns the profile as the lowest-precedence config layer.
func (p *Profile) Config() *config.Config {
	if p == nil {
		return nil
	}
	gpu := p.GPU
	return &config.Config{
		OutputDir: p.OutputDir,
		ModelDir:  p.ModelDir,
		CorePath:  p.CorePath,
		Model:     p.DefaultModel,
		GPU:       &gpu,
	}
}

// ConfigDir returns the finaldream config directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "finaldream"), nil
}

func profilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "profile.json"), nil
}

// Exists reports whether a profile file is present on disk.
func Exists() bool {
	p, err := profilePath()
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Load reads the profile from disk. Returns an error if the file is missing or malformed.
func Load() (*Profile, error) {
	p, err := profilePath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("profile not found, run 'finaldream setup' to configure: %w", err)
	}
	var prof Profile
	if err := json.Unmarshal(data, &prof); err != nil {
		return nil, fmt.Errorf("malformed profile at %s: %w", p, err)
	}
	return &prof, nil
}

// Save writes the profile to disk, creating the config directory if needed.
func Save(prof *Profile) error {
	p, err := profilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(prof, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

// RunSetup runs the interactive setup wizard, reading answers from in and
// writing prompts to out. If existing is non-nil, it is used as the default
// for each prompt (edit mode). The result is not saved.
func RunSetup(in io.Reader, out io.Writer, existing *Profile) (*Profile, error) {
	r := bufio.NewReader(in)

	ask := func(prompt, defaultVal string) (string, error) {
		if defaultVal != "" {
			fmt.Fprintf(out, "%s [%s]: ", prompt, defaultVal)
		} else {
			fmt.Fprintf(out, "%s: ", prompt)
		}
		line, err := r.ReadString('\n')
		if err != nil && !(err == io.EOF && line != "") {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return defaultVal, nil
		}
		return line, nil
	}

	prof := &Profile{
		OutputDir:    defaultOutputDir(),
		DefaultModel: "z-image-turbo",
		GPU:          -1,
	}
	if existing != nil {
		*prof = *existing
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "  ┌─────────────────────────────────┐")
	fmt.Fprintln(out, "  │  finaldream, first-time setup   │")
	fmt.Fprintln(out, "  └─────────────────────────────────┘")
	fmt.Fprintln(out)

	var err error

	prof.OutputDir, err = ask("  Image output directory", prof.OutputDir)
	if err != nil {
		return nil, err
	}

	prof.CorePath, err = ask("  Path to the zimage executable (blank to auto-detect)", prof.CorePath)
	if err != nil {
		return nil, err
	}

	prof.ModelDir, err = ask("  Model directory (blank for the one next to the executable)", prof.ModelDir)
	if err != nil {
		return nil, err
	}

	prof.DefaultModel, err = ask("  Default model", prof.DefaultModel)
	if err != nil {
		return nil, err
	}

	gpu, err := ask("  GPU id (-1 for auto)", strconv.Itoa(prof.GPU))
	if err != nil {
		return nil, err
	}
	if n, convErr := strconv.Atoi(gpu); convErr == nil && n >= -1 {
		prof.GPU = n
	} else {
		fmt.Fprintf(out, "  Ignoring invalid GPU id %q, keeping %d\n", gpu, prof.GPU)
	}

	fmt.Fprintln(out)
	return prof, nil
}

// defaultOutputDir suggests ~/Pictures/FinalDream, or "." without a home.
func defaultOutputDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Pictures", "FinalDream")
}
