package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigForwarderMode(t *testing.T) {
	path := writeConfig(t, `
listen_udp = "127.0.0.1:53"
upstreams = ["1.1.1.1:53"]
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, []string{"1.1.1.1:53"}, cfg.Upstreams)
	require.Empty(t, cfg.Roots)
}

func TestLoadConfigRejectsBothUpstreamsAndRoots(t *testing.T) {
	path := writeConfig(t, `
upstreams = ["1.1.1.1:53"]
roots = ["198.41.0.4"]
`)
	_, err := loadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigRejectsNeitherUpstreamsNorRoots(t *testing.T) {
	path := writeConfig(t, `listen_udp = "127.0.0.1:53"`)
	_, err := loadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nonexistent.toml"))
	require.Error(t, err)
}
