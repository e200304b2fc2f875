package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lockbook/lockbook/internal/config"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithNoConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("LOCKBOOK_PATH", "")
	t.Setenv("API_URL", "")
	t.Setenv("LB_ADMIN_USERS", "")

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.NotEmpty(t, cfg.WriteablePath)
	require.Equal(t, "https://api.lockbook.net", cfg.ApiUrl)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "writeable_path: " + filepath.ToSlash(filepath.Join(dir, "data")) + "\n" +
		"api_url: https://custom.example.com\n" +
		"logs: true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "data"), cfg.WriteablePath)
	require.Equal(t, "https://custom.example.com", cfg.ApiUrl)
	require.True(t, cfg.Logs)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "writeable_path: " + filepath.ToSlash(filepath.Join(dir, "data")) + "\n" +
		"api_url: https://from-file.example.com\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	override := filepath.Join(dir, "override")
	t.Setenv("LOCKBOOK_PATH", override)
	t.Setenv("API_URL", "https://from-env.example.com")
	t.Setenv("LB_ADMIN_USERS", "alice, bob ,,carol")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, override, cfg.WriteablePath)
	require.Equal(t, "https://from-env.example.com", cfg.ApiUrl)
	require.Equal(t, []string{"alice", "bob", "carol"}, cfg.AdminUsers)
}

func TestValidate_RejectsMissingFields(t *testing.T) {
	err := config.Validate(&config.Config{})
	require.Error(t, err)
}

func TestSaveConfig_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := &config.Config{
		WriteablePath: filepath.Join(dir, "data"),
		ApiUrl:        "https://api.lockbook.net",
		Logs:          true,
		ColoredLogs:   true,
	}
	require.NoError(t, config.SaveConfig(cfg, path))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.WriteablePath, loaded.WriteablePath)
	require.Equal(t, cfg.ApiUrl, loaded.ApiUrl)
	require.True(t, loaded.Logs)
	require.True(t, loaded.ColoredLogs)
}
