// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()

	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDatabasePathConfiguration(t *testing.T) {
	tests := []struct {
		name           string
		content        func(dir string) string
		envVars        map[string]string
		expectedDBPath func(dir string) string
	}{
		{
			name: "default_next_to_config",
			content: func(string) string {
				return `
host = "localhost"
port = 8080
logLevel = "INFO"
`
			},
			expectedDBPath: func(dir string) string { return filepath.Join(dir, "emu.db") },
		},
		{
			name: "explicit_absolute_path",
			content: func(dir string) string {
				return `databasePath = "` + filepath.Join(dir, "data", "custom.db") + `"`
			},
			expectedDBPath: func(dir string) string { return filepath.Join(dir, "data", "custom.db") },
		},
		{
			name: "relative_path_uses_data_dir",
			content: func(dir string) string {
				return `
dataDir = "` + filepath.Join(dir, "var") + `"
databasePath = "store.db"
`
			},
			expectedDBPath: func(dir string) string { return filepath.Join(dir, "var", "store.db") },
		},
		{
			name: "env_var_overrides_config",
			content: func(string) string {
				return `databasePath = "/original/path.db"`
			},
			envVars:        map[string]string{"EMU__DATABASE_PATH": "/override/path.db"},
			expectedDBPath: func(string) string { return "/override/path.db" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			configPath := writeConfig(t, dir, tt.content(dir))
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := New(configPath)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedDBPath(dir), cfg.GetDatabasePath())
		})
	}
}

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir, `host = "0.0.0.0"`)

	cfg, err := New(configPath)
	require.NoError(t, err)

	c := cfg.Config
	assert.Equal(t, "0.0.0.0", c.Host)
	assert.Equal(t, 7480, c.Port)
	assert.Equal(t, "INFO", c.LogLevel)
	assert.Equal(t, 24*time.Hour, c.DownloadTTL)
	assert.Equal(t, 5, c.DownloadMaxCount)
	assert.False(t, c.StrictPersistence)
	assert.Equal(t, "memory", c.RateLimitBackend)
	assert.Equal(t, 10, c.RateLimitAPIMax)
	assert.Equal(t, time.Minute, c.RateLimitAPIWindow)
	assert.Equal(t, 5, c.RateLimitAuthMax)
	assert.Equal(t, 5*time.Minute, c.RateLimitAuthWindow)
	assert.Equal(t, 20, c.RateLimitDownloadMax)
	assert.Equal(t, time.Hour, c.RateLimitDownloadWindow)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir, `
port = 8080
downloadTtl = "12h"
`)

	t.Setenv("EMU__PORT", "9090")
	t.Setenv("EMU__DOWNLOAD_MAX_COUNT", "3")
	t.Setenv("EMU__RATE_LIMIT_DOWNLOAD_WINDOW", "30m")
	t.Setenv("EMU__LOG_LEVEL", "debug")

	cfg, err := New(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Config.Port)
	assert.Equal(t, 12*time.Hour, cfg.Config.DownloadTTL)
	assert.Equal(t, 3, cfg.Config.DownloadMaxCount)
	assert.Equal(t, 30*time.Minute, cfg.Config.RateLimitDownloadWindow)
	assert.Equal(t, "DEBUG", cfg.Config.LogLevel)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "redis backend without address", content: `rateLimitBackend = "redis"`},
		{name: "unknown backend", content: `rateLimitBackend = "memcached"`},
		{name: "zero max downloads", content: `downloadMaxCount = 0`},
		{name: "bad log level", content: `logLevel = "LOUD"`},
		{name: "bad asset url", content: `assetBaseUrl = "not a url"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, t.TempDir(), tt.content)
			_, err := New(configPath)
			assert.Error(t, err)
		})
	}
}

func TestNewWritesDefaultConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fresh")

	cfg, err := New(dir)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Config.Host)
	assert.Equal(t, dir, cfg.ConfigDir())
}

func TestDefaultConfigDirDocker(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/config")
	assert.Equal(t, "/config", getDefaultConfigDir())

	t.Setenv("XDG_CONFIG_HOME", "/home/emu/.config")
	assert.Equal(t, "/home/emu/.config/emu", getDefaultConfigDir())
}

func TestEnvKey(t *testing.T) {
	t.Parallel()

	for key, want := range map[string]string{
		"host":                    "HOST",
		"databasePath":            "DATABASE_PATH",
		"rateLimitApiMax":         "RATE_LIMIT_API_MAX",
		"downloadPageBaseUrl":     "DOWNLOAD_PAGE_BASE_URL",
		"rateLimitDownloadWindow": "RATE_LIMIT_DOWNLOAD_WINDOW",
	} {
		assert.Equal(t, want, envKey(key), key)
	}
}

func TestApplyLogConfigWritesFile(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir, `
logPath = "logs/emu.log"
logLevel = "DEBUG"
`)

	cfg, err := New(configPath)
	require.NoError(t, err)
	require.NoError(t, cfg.ApplyLogConfig())
	t.Cleanup(func() { _ = cfg.CloseLogs() })

	_, err = os.Stat(filepath.Join(dir, "logs"))
	assert.NoError(t, err)
}
