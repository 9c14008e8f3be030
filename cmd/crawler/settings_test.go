package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CZERTAINLY/Crawler/internal/model"
)

func TestLoadSettings_Default(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	_, created, err := loadSettings(t.Context(), root, "job")
	require.NoError(t, err)
	require.True(t, created)
	require.FileExists(t, settingsPath(root, "job"))

	settings, created, err := loadSettings(t.Context(), root, "job")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, model.DefaultSettings("job"), settings)
}

func TestLoadSettings_Name(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "job"), 0o755))
	require.NoError(t, os.WriteFile(settingsPath(root, "job"), []byte("name: other\nfs:\n  url: /data\n"), 0o644))

	settings, created, err := loadSettings(t.Context(), root, "job")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "job", settings.Name)
	require.Equal(t, "/data", settings.Fs.URL)
}

func TestLoadSettings_Invalid(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "job"), 0o755))
	require.NoError(t, os.WriteFile(settingsPath(root, "job"), []byte("name: job\nfs:\n  workers: many\n"), 0o644))

	_, _, err := loadSettings(t.Context(), root, "job")
	require.ErrorContains(t, err, "parsing settings")
}
