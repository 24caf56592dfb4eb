// Copyright (c) 2025 GoldenGlimmer
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.BaseURL)
	assert.Equal(t, 1000, cfg.MaxTokens)
	assert.InDelta(t, 0.7, cfg.Temperature, 0.0001)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromPath_TOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `api_key = "sk-or-test"
base_url = "https://api.vsegpt.ru/v1"
model = "openai/gpt-4o"
max_tokens = 512
temperature = 0.3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-or-test", cfg.APIKey)
	assert.Equal(t, "https://api.vsegpt.ru/v1", cfg.BaseURL)
	assert.Equal(t, "openai/gpt-4o", cfg.Model)
	assert.Equal(t, 512, cfg.MaxTokens)
	assert.InDelta(t, 0.3, cfg.Temperature, 0.0001)
	// Unset fields fall back to defaults.
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 60, cfg.RequestTimeoutSecs)
}

func TestLoadFromPath_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"api_key":"sk-or-json","model":"anthropic/claude-3.5-sonnet"}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-or-json", cfg.APIKey)
	assert.Equal(t, "anthropic/claude-3.5-sonnet", cfg.Model)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.BaseURL)
}

func TestLoadFromPath_FixesPermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`api_key = "k"`), 0644))

	_, err := LoadFromPath(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("AICHAT_API_KEY", "  sk-env  ")
	t.Setenv("AICHAT_BASE_URL", "https://example.test/v1")
	t.Setenv("AICHAT_MODEL", "env/model")
	t.Setenv("AICHAT_MAX_TOKENS", "2048")
	t.Setenv("AICHAT_TEMPERATURE", "1.1")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "sk-env", cfg.APIKey)
	assert.Equal(t, "https://example.test/v1", cfg.BaseURL)
	assert.Equal(t, "env/model", cfg.Model)
	assert.Equal(t, 2048, cfg.MaxTokens)
	assert.InDelta(t, 1.1, cfg.Temperature, 0.0001)
}

func TestApplyEnvOverrides_IgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("AICHAT_MAX_TOKENS", "not-a-number")
	t.Setenv("AICHAT_TEMPERATURE", "-5")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, 1000, cfg.MaxTokens)
	assert.InDelta(t, 0.7, cfg.Temperature, 0.0001)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad url", func(c *Config) { c.BaseURL = "::not-a-url" }, "base_url"},
		{"empty url", func(c *Config) { c.BaseURL = "" }, "base_url"},
		{"zero tokens", func(c *Config) { c.MaxTokens = 0 }, "max_tokens"},
		{"hot temperature", func(c *Config) { c.Temperature = 3.0 }, "temperature"},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, "max_retries"},
		{"zero timeout", func(c *Config) { c.RequestTimeoutSecs = 0 }, "request_timeout_secs"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestStore_SetModelPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := Default()
	cfg.APIKey = "sk-or-test"
	store, err := NewStore(cfg, path)
	require.NoError(t, err)

	require.NoError(t, store.SetModel("google/gemini-pro"))
	assert.Equal(t, "google/gemini-pro", store.Model())

	// A fresh load reads the persisted selection back.
	reloaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "google/gemini-pro", reloaded.Model)
	assert.Equal(t, "sk-or-test", reloaded.APIKey)
}

func TestStore_ReloadPicksUpNewAPIKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`model = "a/model"`), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	store, err := NewStore(cfg, path)
	require.NoError(t, err)
	require.Empty(t, store.APIKey())

	// The user adds a key to the file after startup.
	content := `api_key = "sk-or-added"
base_url = "https://api.vsegpt.ru/v1"
model = "a/model"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	reloaded, err := store.Reload()
	require.NoError(t, err)
	assert.Equal(t, "sk-or-added", store.APIKey())
	assert.Equal(t, "https://api.vsegpt.ru/v1", store.BaseURL())
	assert.Equal(t, "sk-or-added", reloaded.APIKey)
}

func TestStore_ReloadFailureKeepsOldConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`api_key = "sk-old"`), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	store, err := NewStore(cfg, path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`max_tokens = "broken`), 0600))

	_, err = store.Reload()
	require.Error(t, err)
	assert.Equal(t, "sk-old", store.APIKey())
}

func TestWatcher_FiresOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`api_key = "a"`), 0600))

	var mu sync.Mutex
	fired := 0
	w, err := NewWatcher(path, 50*time.Millisecond, func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch())

	// Atomic-save style replacement: write temp then rename.
	tmp := filepath.Join(dir, ".tmp-cfg")
	require.NoError(t, os.WriteFile(tmp, []byte(`api_key = "b"`), 0600))
	require.NoError(t, os.Rename(tmp, path))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired >= 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`api_key = "a"`), 0600))

	var mu sync.Mutex
	fired := 0
	w, err := NewWatcher(path, 20*time.Millisecond, func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0600))

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, fired)
}

func TestWatcher_NoCallbackAfterClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`api_key = "a"`), 0600))

	var closed, lateFire atomic.Bool
	w, err := NewWatcher(path, 10*time.Millisecond, func() {
		if closed.Load() {
			lateFire.Store(true)
		}
	})
	require.NoError(t, err)
	require.NoError(t, w.Watch())

	// Change the file, then close while the debounce may still be pending.
	require.NoError(t, os.WriteFile(path, []byte(`api_key = "b"`), 0600))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, w.Close())
	closed.Store(true)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, lateFire.Load())
}
