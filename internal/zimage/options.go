// Package zimage runs the zimage-ncnn-vulkan executable that renders images.
package zimage

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// CoreRelPath is where the executable lives relative to the finaldream binary.
const CoreRelPath = "FinalDream-core/zimage-ncnn-vulkan"

// Options describes one generation request.
type Options struct {
	Prompt         string
	NegativePrompt string
	OutputDir      string
	Width          int
	Height         int
	Steps          int // 0 = let the executable decide
	Seed           int // < 0 = random
	Model          string
	ModelDir       string // directory holding one folder per model
	GPU            int    // < 0 = auto
	Count          int    // images to render, minimum 1
}

var (
	ErrNoPrompt    = errors.New("prompt is required")
	ErrNoOutputDir = errors.New("output directory is required")
	ErrNoModel     = errors.New("model is required")
)

// Validate checks the fields the executable cannot run without.
func Validate(opts Options) error {
	var errs []error
	if strings.TrimSpace(opts.Prompt) == "" {
		errs = append(errs, ErrNoPrompt)
	}
	if opts.OutputDir == "" {
		errs = append(errs, ErrNoOutputDir)
	}
	if opts.Model == "" {
		errs = append(errs, ErrNoModel)
	}
	return errors.Join(errs...)
}

// Args builds the executable's command line for a single image written to
// output. Unset options are left to the executable's defaults.
func Args(opts Options, output string) []string {
	args := []string{"-p", opts.Prompt}
	if opts.NegativePrompt != "" {
		args = append(args, "-n", opts.NegativePrompt)
	}
	if output != "" {
		args = append(args, "-o", filepath.Clean(output))
	}
	if opts.Width > 0 && opts.Height > 0 {
		args = append(args, "-s", strconv.Itoa(opts.Width)+","+strconv.Itoa(opts.Height))
	}
	if opts.Steps > 0 {
		args = append(args, "-l", strconv.Itoa(opts.Steps))
	}
	if opts.Seed >= 0 {
		args = append(args, "-r", strconv.Itoa(opts.Seed))
	}
	if opts.Model != "" {
		args = append(args, "-m", filepath.Clean(filepath.Join(opts.ModelDir, opts.Model)))
	}
	if opts.GPU >= 0 {
		args = append(args, "-g", strconv.Itoa(opts.GPU))
	}
	return args
}

// DefaultCorePath locates the executable next to the running binary.
func DefaultCorePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	p := filepath.Join(filepath.Dir(exe), filepath.FromSlash(CoreRelPath))
	if runtime.GOOS == "windows" {
		p += ".exe"
	}
	return p, nil
}

// DefaultModelDir is the models directory that ships beside the executable.
func DefaultModelDir(corePath string) string {
	return filepath.Join(filepath.Dir(corePath), "..", "models")
}
