package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIncludesFeaturesFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "features.yaml", `
features:
  - name: "danmaku-download"
    permissions: ["login", "downloads"]
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "features.yaml"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Features, 1)
	assert.Equal(t, []string{"login", "downloads"}, cfg.Features[0].Permissions)
}

func TestIncludesGlobPattern(t *testing.T) {
	dir := t.TempDir()
	subdir := filepath.Join(dir, "conf.d")
	require.NoError(t, os.Mkdir(subdir, 0755))
	writeConfigFile(t, subdir, "logger.yaml", `
logger:
  level: "debug"
`)
	writeConfigFile(t, subdir, "pip.yaml", `
providers:
  pip:
    static_result: true
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "conf.d/*.yaml"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.True(t, cfg.Providers.PIP.StaticResult)
}

func TestIncludesMainPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "override.yaml", `
logger:
  level: "warn"
  format: "json"
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "override.yaml"
logger:
  level: "error"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	// Main config wins; include fills the rest.
	assert.Equal(t, "error", cfg.Logger.Level)
	assert.Equal(t, "json", cfg.Logger.Format)
}

func TestIncludesNested(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "b.yaml", `
feeds:
  min_interval: 5s
`)
	writeConfigFile(t, dir, "a.yaml", `
includes:
  - "b.yaml"
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "a.yaml"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "5s", cfg.Feeds.MinInterval.String())
}

func TestIncludesCircular(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "a.yaml", `
includes:
  - "b.yaml"
`)
	writeConfigFile(t, dir, "b.yaml", `
includes:
  - "a.yaml"
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "a.yaml"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular")
}

func TestIncludesPathTraversal(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "../outside.yaml"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "escapes"), err.Error())
}

func TestIncludesMissingLiteral(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "missing.yaml"
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestIncludesEmptyGlob(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "conf.d/*.yaml"
`)

	_, err := Load(path)
	assert.NoError(t, err)
}
