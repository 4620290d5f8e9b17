package zimage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrKilled is returned by Run when its process was stopped by Kill or by a
// newer Run.
var ErrKilled = errors.New("generation killed")

// Output receives the executable's output, one line at a time. Either func
// may be nil.
type Output struct {
	Stdout func(line string)
	Stderr func(line string)
}

// Result lists the images a Run produced, in order.
type Result struct {
	Images []string
}

// Runner launches the executable. At most one child runs at a time.
type Runner struct {
	CorePath string
	Logger   zerolog.Logger
	// NewName returns a fresh output file name. Defaults to
	// <unix-ms>-<8 hex chars>.png.
	NewName func() string

	mu     sync.Mutex
	cmd    *exec.Cmd
	killed bool
}

// DefaultName is the default NewName.
func DefaultName() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + uuid.NewString()[:8] + ".png"
}

// Run renders opts.Count images one after another. It stops at the first
// failing run or when ctx is cancelled, returning the images produced so far.
func (r *Runner) Run(ctx context.Context, opts Options, out Output) (Result, error) {
	var res Result
	if err := Validate(opts); err != nil {
		return res, err
	}
	if _, err := os.Stat(r.CorePath); err != nil {
		return res, fmt.Errorf("zimage executable: %w", err)
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return res, fmt.Errorf("creating output directory: %w", err)
	}

	newName := r.NewName
	if newName == nil {
		newName = DefaultName
	}
	count := max(opts.Count, 1)

	for i := 1; i <= count; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		output := filepath.Join(opts.OutputDir, newName())
		r.Logger.Info().Int("run", i).Int("count", count).Str("output", output).Msg("Starting generation")

		if err := r.runOnce(ctx, Args(opts, output), out); err != nil {
			return res, fmt.Errorf("run %d/%d: %w", i, count, err)
		}
		res.Images = append(res.Images, output)
	}
	return res, nil
}

func (r *Runner) runOnce(ctx context.Context, args []string, out Output) error {
	cmd := exec.CommandContext(ctx, r.CorePath, args...)
	// The executable resolves its shaders relative to its own directory.
	cmd.Dir = filepath.Dir(r.CorePath)
	stdout := &lineWriter{fn: out.Stdout}
	stderr := &lineWriter{fn: out.Stderr}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 2 * time.Second

	r.mu.Lock()
	if prev := r.cmd; prev != nil && prev.Process != nil {
		r.Logger.Warn().Int("pid", prev.Process.Pid).Msg("Killing previous generation")
		r.killed = true
		_ = prev.Process.Kill()
	}
	if err := cmd.Start(); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("starting zimage: %w", err)
	}
	r.cmd = cmd
	r.killed = false
	r.mu.Unlock()

	r.Logger.Debug().Int("pid", cmd.Process.Pid).Strs("args", args).Msg("Executing zimage")
	err := cmd.Wait()
	stdout.Flush()
	stderr.Flush()

	r.mu.Lock()
	killed := false
	if r.cmd == cmd {
		r.cmd = nil
		killed = r.killed
		r.killed = false
	} else {
		// A newer run replaced us.
		killed = true
	}
	r.mu.Unlock()

	code := cmd.ProcessState.ExitCode()
	r.Logger.Info().Int("code", code).Msg("zimage process exited")

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case killed:
		return ErrKilled
	default:
		return fmt.Errorf("zimage exited with code %d: %w", code, err)
	}
}

// Running reports whether a child process is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cmd != nil
}

// Kill stops the active child, if any, and reports whether there was one.
// Only the executable itself is signalled, not processes it spawned.
func (r *Runner) Kill() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil || r.cmd.Process == nil {
		return false
	}
	r.Logger.Info().Int("pid", r.cmd.Process.Pid).Msg("Killing zimage process")
	r.killed = true
	_ = r.cmd.Process.Kill()
	return true
}

// lineWriter splits a byte stream into lines for fn.
type lineWriter struct {
	fn  func(string)
	buf []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	if w.fn == nil {
		return len(p), nil
	}
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.fn(string(bytes.TrimRight(w.buf[:i], "\r")))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush emits a trailing partial line.
func (w *lineWriter) Flush() {
	if w.fn != nil && len(w.buf) > 0 {
		w.fn(string(bytes.TrimRight(w.buf, "\r")))
	}
	w.buf = nil
}
