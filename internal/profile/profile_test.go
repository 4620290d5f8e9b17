package profile

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TohruskyDev/FinalDream/internal/config"
)

func TestRunSetupDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	var out bytes.Buffer
	prof, err := RunSetup(strings.NewReader("\n\n\n\n\n"), &out, nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "Pictures", "FinalDream"), prof.OutputDir)
	assert.Equal(t, "z-image-turbo", prof.DefaultModel)
	assert.Equal(t, -1, prof.GPU)
	assert.Empty(t, prof.CorePath)
	assert.Contains(t, out.String(), "first-time setup")
}

func TestRunSetupAnswers(t *testing.T) {
	input := "/srv/out\n/opt/zimage/zimage\n/opt/models\nmy-model\n1"
	prof, err := RunSetup(strings.NewReader(input), &bytes.Buffer{}, nil)
	require.NoError(t, err)

	assert.Equal(t, &Profile{
		OutputDir:    "/srv/out",
		CorePath:     "/opt/zimage/zimage",
		ModelDir:     "/opt/models",
		DefaultModel: "my-model",
		GPU:          1,
	}, prof)
}

func TestRunSetupEditKeepsExisting(t *testing.T) {
	existing := &Profile{OutputDir: "/a", DefaultModel: "m", GPU: 0}
	var out bytes.Buffer
	prof, err := RunSetup(strings.NewReader("\n\n\n\nabc\n"), &out, existing)
	require.NoError(t, err)

	assert.Equal(t, "/a", prof.OutputDir)
	assert.Equal(t, 0, prof.GPU)
	assert.Contains(t, out.String(), "Ignoring invalid GPU id")
}

func TestRunSetupTruncatedInput(t *testing.T) {
	_, err := RunSetup(strings.NewReader("/only/one\n"), &bytes.Buffer{}, nil)
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	assert.False(t, Exists())

	_, err := Load()
	assert.ErrorContains(t, err, "finaldream setup")

	want := &Profile{OutputDir: "/out", DefaultModel: "z-image-turbo", GPU: -1}
	require.NoError(t, Save(want))
	assert.True(t, Exists())

	got, err := Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestProfileIsLowestConfigLayer(t *testing.T) {
	prof := &Profile{OutputDir: "/profile/out", DefaultModel: "pm", GPU: 2}
	project := &config.Config{OutputDir: "/project/out"}

	merged := config.MergeLayers(prof.Config(), nil, project)
	assert.Equal(t, "/project/out", merged.OutputDir)
	assert.Equal(t, "pm", merged.Model)
	assert.Equal(t, 2, merged.GPUValue())

	var none *Profile
	assert.Nil(t, none.Config())
}
