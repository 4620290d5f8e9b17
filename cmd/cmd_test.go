package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TohruskyDev/FinalDream/internal/gallery"
	"github.com/TohruskyDev/FinalDream/internal/profile"
	"github.com/TohruskyDev/FinalDream/internal/session"
)

// executeCommand runs a cobra command with the given args and captures combined output.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	resetFlags(root)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(bytes.NewReader(nil))
	root.SetArgs(args)
	_, err = root.ExecuteC()
	return buf.String(), err
}

// resetFlags restores every flag in the tree to its default, since cobra
// keeps values and Changed marks between executions.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// testEnv isolates HOME, the data dir and the config file for one test.
func testEnv(t *testing.T, configYAML string) (home string) {
	t.Helper()
	home = t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, "data"))
	if configYAML != "" {
		dir := filepath.Join(home, ".config", "finaldream")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(configYAML), 0o644))
	}
	return home
}

func writeImage(t *testing.T, dir, name string, mtime time.Time) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("PNG"), 0o644))
	require.NoError(t, os.Chtimes(p, mtime, mtime))
	return p
}

func saveSession(t *testing.T, s *session.Session) {
	t.Helper()
	store, err := session.NewSessionStore()
	require.NoError(t, err)
	require.NoError(t, store.Save(s))
}

func TestStatusWithoutSession(t *testing.T) {
	testEnv(t, "")

	out, err := executeCommand(rootCmd, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "no active watch session")
}

func TestStatusShowsSession(t *testing.T) {
	testEnv(t, "")
	s := session.New("/srv/images", os.Getpid())
	s.Addr = "127.0.0.1:7860"
	s.Images = []gallery.Image{
		{Path: "/srv/images/new.png", MTime: 2000},
		{Path: "/srv/images/old.png", MTime: 1000},
	}
	s.Events = 3
	saveSession(t, s)

	out, err := executeCommand(rootCmd, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Directory: /srv/images")
	assert.Contains(t, out, "State: running")
	assert.Contains(t, out, "Serving: http://127.0.0.1:7860")
	assert.Contains(t, out, "Images: 2")
	assert.Contains(t, out, "Events: 3")
	assert.Contains(t, out, "Latest: new.png")
}

func TestWatchRefusesLiveSession(t *testing.T) {
	testEnv(t, "")
	dir := t.TempDir()
	saveSession(t, session.New(dir, os.Getppid()))

	_, err := executeCommand(rootCmd, "watch", "--plain", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch already in progress")
}

func TestWatchMissingDirectory(t *testing.T) {
	testEnv(t, "")

	_, err := executeCommand(rootCmd, "watch", "--plain", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot watch")
}

func TestServeRecordsBoundAddress(t *testing.T) {
	testEnv(t, "")
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveCmd.SetContext(ctx)
	t.Cleanup(func() { serveCmd.SetContext(context.Background()) })

	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"serve", "--addr", "127.0.0.1:0", dir})
	done := make(chan error, 1)
	go func() {
		_, err := rootCmd.ExecuteC()
		done <- err
	}()

	store, err := session.NewSessionStore()
	require.NoError(t, err)
	addrs := make(chan string, 1)
	require.Eventually(t, func() bool {
		s, err := store.Load()
		if err != nil || s.Addr == "" || s.Addr == "127.0.0.1:0" {
			return false
		}
		addrs <- s.Addr
		return true
	}, 5*time.Second, 10*time.Millisecond)
	addr := <-addrs

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}
	assert.Contains(t, buf.String(), "Serving "+dir)

	_, err = store.Load()
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestGalleryExportDirectoryJSON(t *testing.T) {
	testEnv(t, "")
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	writeImage(t, dir, "a.png", base)
	writeImage(t, dir, "b.jpg", base.Add(time.Minute))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	out, err := executeCommand(rootCmd, "gallery", "--format", "json", dir)
	require.NoError(t, err)

	var export gallery.Export
	require.NoError(t, json.Unmarshal([]byte(out), &export))
	require.Len(t, export.Images, 2)
	assert.Equal(t, "b.jpg", filepath.Base(export.Images[0].Path))
	assert.Equal(t, "a.png", filepath.Base(export.Images[1].Path))
}

func TestGalleryExportSessionMarkdown(t *testing.T) {
	testEnv(t, "")
	s := session.New("/srv/images", os.Getpid())
	s.Images = []gallery.Image{{Path: "/srv/images/one.png", MTime: 1000}}
	saveSession(t, s)
	target := filepath.Join(t.TempDir(), "gallery.md")

	out, err := executeCommand(rootCmd, "gallery", "-o", target)
	require.NoError(t, err)
	assert.Contains(t, out, "Gallery written to")

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Gallery: /srv/images")
	assert.Contains(t, string(data), "[one.png](/srv/images/one.png)")
}

func TestGalleryWithoutSession(t *testing.T) {
	testEnv(t, "")

	_, err := executeCommand(rootCmd, "gallery")
	require.ErrorIs(t, err, session.ErrNoSession)
}

func TestGalleryUnknownFormat(t *testing.T) {
	testEnv(t, "")

	_, err := executeCommand(rootCmd, "gallery", "--format", "xml", t.TempDir())
	assert.ErrorContains(t, err, "unknown format")
}

func TestModelsListAndStatus(t *testing.T) {
	modelDir := t.TempDir()
	testEnv(t, "model_dir: "+modelDir+"\ncore_path: /opt/zimage\n")

	out, err := executeCommand(rootCmd, "models", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No models installed")

	require.NoError(t, os.MkdirAll(filepath.Join(modelDir, "custom"), 0o755))
	out, err = executeCommand(rootCmd, "models", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "custom")

	out, err = executeCommand(rootCmd, "models", "status", "z-image-turbo")
	require.NoError(t, err)
	assert.Contains(t, out, "z-image-turbo: 20 file(s) missing or invalid")
	assert.Contains(t, out, "models download z-image-turbo")
}

func TestModelsUnknown(t *testing.T) {
	testEnv(t, "model_dir: "+t.TempDir()+"\n")

	_, err := executeCommand(rootCmd, "models", "status", "nope")
	assert.ErrorContains(t, err, "unknown model")

	_, err = executeCommand(rootCmd, "models", "download", "nope")
	assert.ErrorContains(t, err, "presets: z-image-turbo")
}

func TestGenerateRequiresPrompt(t *testing.T) {
	testEnv(t, "")

	_, err := executeCommand(rootCmd, "generate")
	assert.ErrorContains(t, err, "prompt is required")
}

func TestGenerateIncompleteModel(t *testing.T) {
	testEnv(t, "model_dir: "+t.TempDir()+"\ncore_path: /opt/zimage\n")

	_, err := executeCommand(rootCmd, "generate", "-p", "a cat")
	assert.ErrorContains(t, err, "model z-image-turbo is incomplete")
}

func TestGenerateRunsCore(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake executable is a shell script")
	}
	core := filepath.Join(t.TempDir(), "zimage")
	require.NoError(t, os.WriteFile(core, []byte(`#!/bin/sh
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then out="$2"; fi
  shift
done
printf 'PNG' > "$out"
`), 0o755))
	outDir := filepath.Join(t.TempDir(), "out")
	testEnv(t, "core_path: "+core+"\nmodel_dir: "+t.TempDir()+"\n")

	out, err := executeCommand(rootCmd, "generate", "-p", "a cat", "-m", "my-model", "-c", "2", "-o", outDir)
	require.NoError(t, err)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	for _, e := range entries {
		assert.Contains(t, out, filepath.Join(outDir, e.Name()))
	}
}

func TestSetupSavesProfile(t *testing.T) {
	home := testEnv(t, "")

	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(bytes.NewBufferString("/srv/out\n\n\nmy-model\n0\n"))
	rootCmd.SetArgs([]string{"setup"})
	_, err := rootCmd.ExecuteC()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Profile saved")

	prof, err := profile.Load()
	require.NoError(t, err)
	assert.Equal(t, "/srv/out", prof.OutputDir)
	assert.Equal(t, "my-model", prof.DefaultModel)
	assert.Equal(t, 0, prof.GPU)
	assert.FileExists(t, filepath.Join(home, ".config", "finaldream", "profile.json"))
}

func TestProfileFeedsConfig(t *testing.T) {
	testEnv(t, "")
	require.NoError(t, profile.Save(&profile.Profile{OutputDir: "/from/profile", DefaultModel: "pm", GPU: 1}))

	_, err := executeCommand(rootCmd, "status")
	require.NoError(t, err)
	assert.Equal(t, "/from/profile", GetConfig().OutputDir)
	assert.Equal(t, "pm", GetConfig().Model)
	assert.Equal(t, 1, GetConfig().GPUValue())
	require.NotNil(t, GetProfile())
}
