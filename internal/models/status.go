package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Status reports whether a model is complete on disk.
type Status struct {
	Valid   bool     `json:"valid"`
	Missing []string `json:"missing_files"`
}

// Checker inspects preset models under a models directory.
type Checker struct {
	Logger zerolog.Logger
}

// CheckStatus checks modelsDir/name against its manifest. In fast mode only
// existence is checked; otherwise every present file is hashed too, and a
// mismatch or read failure counts the file as missing.
func (c Checker) CheckStatus(ctx context.Context, modelsDir, name string, fast bool) (Status, error) {
	files, err := Lookup(name)
	if err != nil {
		return Status{}, err
	}

	dir := filepath.Join(modelsDir, name)
	if _, err := os.Stat(dir); err != nil {
		missing := make([]string, len(files))
		for i, f := range files {
			missing[i] = f.Name
		}
		return Status{Missing: missing}, nil
	}

	missing := []string{}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return Status{}, err
		}
		p := filepath.Join(dir, f.Name)
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, f.Name)
			continue
		}
		if fast {
			continue
		}
		sum, err := HashFile(ctx, p)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Status{}, err
			}
			c.Logger.Error().Err(err).Str("file", f.Name).Msg("Error checking hash")
			missing = append(missing, f.Name)
			continue
		}
		if sum != f.SHA256 {
			c.Logger.Warn().Str("file", f.Name).Str("expected", f.SHA256).Str("got", sum).Msg("Hash mismatch")
			missing = append(missing, f.Name)
		}
	}
	return Status{Valid: len(missing) == 0, Missing: missing}, nil
}

// CheckStatus is Checker.CheckStatus without logging.
func CheckStatus(ctx context.Context, modelsDir, name string, fast bool) (Status, error) {
	return Checker{Logger: zerolog.Nop()}.CheckStatus(ctx, modelsDir, name, fast)
}

// HashFile returns the lower-case hex SHA-256 of the file at path.
func HashFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, &ctxReader{ctx: ctx, r: f}); err != nil {
		return "", fmt.Errorf("hashing %s: %w", filepath.Base(path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ListInstalled returns the model directories under modelsDir. Preset models
// missing any file are left out; other directories are listed as-is. A
// missing modelsDir yields an empty list.
func (c Checker) ListInstalled(modelsDir string) ([]string, error) {
	entries, err := os.ReadDir(modelsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("reading models directory: %w", err)
	}

	names := []string{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, preset := Presets[e.Name()]; preset {
			st, err := c.CheckStatus(context.Background(), modelsDir, e.Name(), true)
			if err != nil {
				return nil, err
			}
			if !st.Valid {
				c.Logger.Warn().Str("model", e.Name()).Strs("missing", st.Missing).Msg("Model found but incomplete")
				continue
			}
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// ctxReader stops a long copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
