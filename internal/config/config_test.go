package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Run from an empty directory so no stray sandboxd.yaml is found.
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8222", cfg.Addr())
	assert.Equal(t, filepath.Join(os.Getenv("HOME"), ".sandboxd", "workspaces"), cfg.Storage.Root)
	assert.Equal(t, -1, cfg.Storage.OwnerUID)
	assert.Equal(t, "python:3.12-slim", cfg.Docker.CodeImage)
	assert.Equal(t, "pandoc/extra:latest", cfg.Docker.ConvertImage)
	assert.Equal(t, 8, cfg.Exec.MaxConcurrent)
	assert.Equal(t, 10*1024, cfg.Exec.MaxInlineOutputBytes)
	assert.Equal(t, 30, cfg.Exec.DefaultTimeoutSeconds)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sandboxd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
docker:
  code_image: python:3.13
exec:
  max_concurrent: 2
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "python:3.13", cfg.Docker.CodeImage)
	assert.Equal(t, 2, cfg.Exec.MaxConcurrent)
	// Untouched keys keep their defaults.
	assert.Equal(t, "pandoc/extra:latest", cfg.Docker.ConvertImage)
	assert.Equal(t, 30, cfg.Exec.DefaultTimeoutSeconds)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SANDBOXD_SERVER_PORT", "7001")
	t.Setenv("SANDBOXD_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
