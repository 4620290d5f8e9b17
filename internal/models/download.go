package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"

	"github.com/rs/zerolog"

	"github.com/TohruskyDev/FinalDream/internal/httpclient"
)

// Progress describes the state of a download. Size is zero when the server
// sent no content length.
type Progress struct {
	File       string
	Index      int // 1-based
	Total      int
	Downloaded int64
	Size       int64
	Percent    float64
}

// HashMismatchError is returned when a downloaded file fails verification.
// The file has already been deleted.
type HashMismatchError struct {
	File     string
	Expected string
	Got      string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch for downloaded file %s: expected %s, got %s", e.File, e.Expected, e.Got)
}

// Downloader fetches preset model files one at a time.
type Downloader struct {
	Client  *http.Client // defaults to httpclient.Default()
	BaseURL string       // file name is appended as-is
	Logger  zerolog.Logger
}

// Download fetches the files of model name into modelsDir/name. When only is
// non-empty, files not named in it are skipped. Each file is streamed to
// <file>.tmp, renamed into place and verified. The first failure stops the
// run; files already verified are kept.
func (d *Downloader) Download(ctx context.Context, modelsDir, name string, only []string, progress func(Progress)) error {
	files, err := Lookup(name)
	if err != nil {
		return err
	}
	if len(only) > 0 {
		files = slices.DeleteFunc(slices.Clone(files), func(f File) bool {
			return !slices.Contains(only, f.Name)
		})
	}
	if progress == nil {
		progress = func(Progress) {}
	}

	dir := filepath.Join(modelsDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating model directory: %w", err)
	}

	for i, f := range files {
		d.Logger.Info().Str("file", f.Name).Int("index", i+1).Int("total", len(files)).Msg("Downloading model file")
		p := Progress{File: f.Name, Index: i + 1, Total: len(files)}
		progress(p)

		target := filepath.Join(dir, f.Name)
		if err := d.fetch(ctx, f.Name, target, func(downloaded, size int64) {
			p.Downloaded, p.Size = downloaded, size
			if size > 0 {
				p.Percent = float64(downloaded) / float64(size) * 100
			}
			progress(p)
		}); err != nil {
			return err
		}

		sum, err := HashFile(ctx, target)
		if err != nil {
			return err
		}
		if sum != f.SHA256 {
			if rmErr := os.Remove(target); rmErr != nil {
				d.Logger.Warn().Err(rmErr).Str("file", f.Name).Msg("Could not delete invalid file")
			}
			return &HashMismatchError{File: f.Name, Expected: f.SHA256, Got: sum}
		}
		d.Logger.Info().Str("file", f.Name).Msg("Verified model file")
	}
	return nil
}

func (d *Downloader) fetch(ctx context.Context, name, target string, onProgress func(downloaded, size int64)) (err error) {
	client := d.Client
	if client == nil {
		client = httpclient.Default()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.BaseURL+name, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", name, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download %s: %s", name, resp.Status)
	}
	size := resp.ContentLength
	if size <= 0 {
		size = 0
		d.Logger.Warn().Str("file", name).Msg("Content length missing")
	}

	tmp := target + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(tmp), err)
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(tmp)
		}
	}()

	pw := &progressWriter{w: out, size: size, onProgress: onProgress}
	if _, err = io.Copy(pw, resp.Body); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(ctxErr, err)
		}
		return fmt.Errorf("downloading %s: %w", name, err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err = os.Rename(tmp, target); err != nil {
		return fmt.Errorf("renaming %s: %w", name, err)
	}
	return nil
}

type progressWriter struct {
	w          io.Writer
	written    int64
	size       int64
	onProgress func(downloaded, size int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.size > 0 {
		p.onProgress(p.written, p.size)
	}
	return n, err
}
