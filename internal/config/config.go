// Copyright (c) 2025 GoldenGlimmer
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides settings loading and persistence for aichat.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.aichat/config.toml
//   - ~/.aichat/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/GoldenGlimmer/aichat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURE
// =============================================================================

// Config holds the settings the chat client needs to reach an
// OpenAI-compatible aggregator and persist local state.
type Config struct {
	// APIKey is the aggregator API key. Empty means not configured yet;
	// that is an expected first-run condition, not an error.
	APIKey string `toml:"api_key" json:"api_key"`

	// BaseURL is the aggregator base URL (OpenRouter-compatible).
	BaseURL string `toml:"base_url" json:"base_url"`

	// Model is the persisted model selection.
	Model string `toml:"model" json:"model"`

	// MaxTokens caps completion length per request.
	MaxTokens int `toml:"max_tokens" json:"max_tokens"`

	// Temperature is the sampling temperature passed to the aggregator.
	Temperature float64 `toml:"temperature" json:"temperature"`

	// HistoryDBPath is the SQLite database for the message history.
	// Empty means ~/.aichat/history.db.
	HistoryDBPath string `toml:"history_db_path" json:"history_db_path"`

	// MaxRetries is the retry budget for transient API failures.
	MaxRetries int `toml:"max_retries" json:"max_retries"`

	// RequestTimeoutSecs is the per-request timeout in seconds.
	RequestTimeoutSecs int `toml:"request_timeout_secs" json:"request_timeout_secs"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		APIKey:             "",
		BaseURL:            "https://openrouter.ai/api/v1",
		Model:              "",
		MaxTokens:          1000,
		Temperature:        0.7,
		HistoryDBPath:      "",
		MaxRetries:         3,
		RequestTimeoutSecs: 60,
	}
}

// =============================================================================
// PATH HELPERS
// =============================================================================

// Dir returns the aichat configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".aichat"), nil
}

// PathTOML returns the path to the TOML config file.
func PathTOML() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// PathJSON returns the path to the JSON config file.
func PathJSON() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// DefaultHistoryPath returns the history database path used when
// HistoryDBPath is not set.
func DefaultHistoryPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files hold the API key and must be 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	if path, err := PathTOML(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}
	if path, err := PathJSON(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation. JSON is detected by extension; everything else parses as TOML.
func LoadFromPath(path string) (*Config, error) {
	if err := ensureSecurePermissions(path); err != nil {
		// Permissions might not be fixable on all filesystems.
		fmt.Fprintf(os.Stderr, "warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	cfg := Default()
	if strings.HasSuffix(path, ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read JSON config: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode JSON config: %w", err)
		}
	} else {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode TOML config: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillDefaults fills in any missing values with defaults.
func (c *Config) fillDefaults() {
	defaults := Default()

	if c.BaseURL == "" {
		c.BaseURL = defaults.BaseURL
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaults.MaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = defaults.Temperature
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.RequestTimeoutSecs <= 0 {
		c.RequestTimeoutSecs = defaults.RequestTimeoutSecs
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - AICHAT_API_KEY: overrides api_key
//   - AICHAT_BASE_URL: overrides base_url
//   - AICHAT_MODEL: overrides model
//   - AICHAT_MAX_TOKENS: overrides max_tokens
//   - AICHAT_TEMPERATURE: overrides temperature
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("AICHAT_API_KEY"); key != "" {
		c.APIKey = strings.TrimSpace(key)
	}
	if base := os.Getenv("AICHAT_BASE_URL"); base != "" {
		c.BaseURL = base
	}
	if model := os.Getenv("AICHAT_MODEL"); model != "" {
		c.Model = model
	}
	if raw := os.Getenv("AICHAT_MAX_TOKENS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			c.MaxTokens = n
		}
	}
	if raw := os.Getenv("AICHAT_TEMPERATURE"); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil && f >= 0 {
			c.Temperature = f
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.BaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "base_url",
			Message: "must not be empty",
		})
	} else if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "base_url",
			Message: fmt.Sprintf("invalid URL %q", c.BaseURL),
		})
	}

	if c.MaxTokens < 1 || c.MaxTokens > 200000 {
		errs = append(errs, ValidationError{
			Field:   "max_tokens",
			Message: fmt.Sprintf("must be 1-200000, got %d", c.MaxTokens),
		})
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "temperature",
			Message: fmt.Sprintf("must be 0.0-2.0, got %g", c.Temperature),
		})
	}

	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		errs = append(errs, ValidationError{
			Field:   "max_retries",
			Message: fmt.Sprintf("must be 0-10, got %d", c.MaxRetries),
		})
	}

	if c.RequestTimeoutSecs < 1 || c.RequestTimeoutSecs > 600 {
		errs = append(errs, ValidationError{
			Field:   "request_timeout_secs",
			Message: fmt.Sprintf("must be 1-600, got %d", c.RequestTimeoutSecs),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// SAVE
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := PathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Config files are written with 0600 permissions (owner only).
// RELIABILITY: Atomic write with fsync prevents data loss on crash.
func SaveTOML(cfg *Config, path string) error {
	var sb strings.Builder
	sb.WriteString("# aichat configuration file\n")
	sb.WriteString("# Generated by aichat - edit with care\n\n")

	enc := toml.NewEncoder(&sb)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, []byte(sb.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration to a JSON file.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// SETTINGS STORE
// =============================================================================

// Store is a persistent settings provider backed by a config file.
//
// It satisfies the orchestrator's settings contract: reads are served from
// the in-memory copy, SetModel persists the selection back to disk, and
// Reload swaps in a fresh copy from disk after the file changes.
type Store struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewStore creates a settings store around an already-loaded config.
// path is the file SetModel persists to; empty means the default TOML path.
func NewStore(cfg *Config, path string) (*Store, error) {
	if path == "" {
		p, err := PathTOML()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &Store{cfg: cfg, path: path}, nil
}

// APIKey returns the configured API key, empty when not configured.
func (s *Store) APIKey() string { s.mu.RLock(); defer s.mu.RUnlock(); return s.cfg.APIKey }

// BaseURL returns the aggregator base URL.
func (s *Store) BaseURL() string { s.mu.RLock(); defer s.mu.RUnlock(); return s.cfg.BaseURL }

// Model returns the persisted model selection.
func (s *Store) Model() string { s.mu.RLock(); defer s.mu.RUnlock(); return s.cfg.Model }

// MaxTokens returns the per-request completion cap.
func (s *Store) MaxTokens() int { s.mu.RLock(); defer s.mu.RUnlock(); return s.cfg.MaxTokens }

// Temperature returns the sampling temperature.
func (s *Store) Temperature() float64 { s.mu.RLock(); defer s.mu.RUnlock(); return s.cfg.Temperature }

// SetModel persists a new model selection.
func (s *Store) SetModel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Model = id
	if strings.HasSuffix(s.path, ".json") {
		return SaveJSON(s.cfg, s.path)
	}
	return SaveTOML(s.cfg, s.path)
}

// Reload re-reads the backing file and swaps the in-memory copy, so settings
// edited on disk (a freshly added API key in particular) take effect without
// a restart. The previous copy is kept when the file fails to load.
func (s *Store) Reload() (*Config, error) {
	cfg, err := LoadFromPath(s.path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return cfg, nil
}
