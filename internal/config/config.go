// Package config loads and persists drover's update policy.
//
// The config file is TOML at <user config dir>/drover/config.toml. It is
// created with defaults on first run. Policy fields change only through
// explicit config commands; the scheduler touches nothing but the two
// timestamps. Every persisted mutation goes through Store.Update, which
// takes a short-lived file lock so concurrent drover processes cannot
// interleave read-modify-write cycles.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/droverhq/drover/internal/lock"
)

// Check intervals accepted by the scheduler.
const (
	IntervalDaily  = "daily"
	IntervalWeekly = "weekly"
	IntervalNever  = "never"
)

// Update channels with a "latest" pointer in the release manifest.
const (
	ChannelStable = "stable"
	ChannelBeta   = "beta"
)

// DefaultManifestURL is where drover looks for the release manifest.
const DefaultManifestURL = "https://releases.drover.dev/manifest.json"

// UpdateConfig is the persisted update policy.
type UpdateConfig struct {
	Enabled       bool       `toml:"enabled"`
	AutoInstall   bool       `toml:"auto_install"`
	CheckInterval string     `toml:"check_interval"`
	Channel       string     `toml:"channel"`
	ManifestURL   string     `toml:"manifest_url,omitempty"`
	LastCheck     *time.Time `toml:"last_check,omitempty"`
	LastUpdate    *time.Time `toml:"last_update,omitempty"`
}

// Config is the root of the config file.
type Config struct {
	Updates UpdateConfig `toml:"updates"`
}

// Default returns the first-run configuration.
func Default() *Config {
	return &Config{
		Updates: UpdateConfig{
			Enabled:       true,
			AutoInstall:   true,
			CheckInterval: IntervalDaily,
			Channel:       ChannelStable,
		},
	}
}

// EffectiveManifestURL returns the configured manifest URL or the default.
func (u *UpdateConfig) EffectiveManifestURL() string {
	if u.ManifestURL != "" {
		return u.ManifestURL
	}
	return DefaultManifestURL
}

// ShouldCheck reports whether a scheduled check is due at now.
func (u *UpdateConfig) ShouldCheck(now time.Time) bool {
	if !u.Enabled {
		return false
	}

	switch u.CheckInterval {
	case IntervalDaily, IntervalWeekly:
	default:
		return false
	}

	if u.LastCheck == nil {
		return true
	}

	elapsed := now.Sub(*u.LastCheck)
	if u.CheckInterval == IntervalWeekly {
		return elapsed >= 7*24*time.Hour
	}
	return elapsed >= 24*time.Hour
}

func validInterval(s string) bool {
	return s == IntervalDaily || s == IntervalWeekly || s == IntervalNever
}

func validChannel(s string) bool {
	return s == ChannelStable || s == ChannelBeta
}

// validate checks policy fields. Timestamps are always accepted.
func validate(cfg *Config) error {
	if !validInterval(cfg.Updates.CheckInterval) {
		return fmt.Errorf("invalid check_interval %q (use: daily, weekly, never)", cfg.Updates.CheckInterval)
	}
	if !validChannel(cfg.Updates.Channel) {
		return fmt.Errorf("invalid channel %q (use: stable, beta)", cfg.Updates.Channel)
	}
	return nil
}

// Store owns the config file and serializes persisted mutations.
type Store struct {
	path string
	lock *lock.Lock
}

// NewStore creates a store for the config file at path.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		lock: lock.New(path + ".lock"),
	}
}

// Path returns the config file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the config file, creating it with defaults on first run.
// Environment overrides are NOT applied here; callers that want the
// effective policy go through LoadEffective.
func (s *Store) Load() (*Config, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if err := s.save(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", s.path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", s.path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", s.path, err)
	}

	return cfg, nil
}

// LoadEffective loads the config and applies session-scoped environment
// overrides. The overrides are never written back.
func (s *Store) LoadEffective() (*Config, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	ApplyEnvOverrides(&cfg.Updates)
	return cfg, nil
}

// Update re-reads the config under the config lock, applies fn, and persists
// the result atomically. If fn returns an error nothing is written.
func (s *Store) Update(fn func(*Config) error) error {
	if err := s.acquireLock(); err != nil {
		return err
	}
	defer func() { _ = s.lock.Release() }()

	cfg, err := s.Load()
	if err != nil {
		return err
	}

	if err := fn(cfg); err != nil {
		return err
	}

	if err := validate(cfg); err != nil {
		return err
	}

	return s.save(cfg)
}

// acquireLock takes the config lock with a brief bounded wait, enough to
// ride out a concurrent config command.
func (s *Store) acquireLock() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := s.lock.Acquire(ctx, 2*time.Second); err != nil {
		if errors.Is(err, lock.ErrBusy) {
			return fmt.Errorf("config file %s is locked by another drover process", s.path)
		}
		return err
	}
	return nil
}

// save writes the config atomically via temp file + rename.
func (s *Store) save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".config-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp config file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// Set assigns a policy field by key and persists the result.
func (s *Store) Set(key, value string) error {
	return s.Update(func(cfg *Config) error {
		switch key {
		case "updates.enabled":
			b, err := parseBool(value)
			if err != nil {
				return err
			}
			cfg.Updates.Enabled = b
		case "updates.auto_install":
			b, err := parseBool(value)
			if err != nil {
				return err
			}
			cfg.Updates.AutoInstall = b
		case "updates.check_interval":
			cfg.Updates.CheckInterval = value
		case "updates.channel":
			cfg.Updates.Channel = value
		case "updates.manifest_url":
			cfg.Updates.ManifestURL = value
		default:
			return fmt.Errorf("unknown configuration key: %s", key)
		}
		return nil
	})
}

// Get returns a policy field by key.
func (s *Store) Get(key string) (string, error) {
	cfg, err := s.Load()
	if err != nil {
		return "", err
	}

	switch key {
	case "updates.enabled":
		return fmt.Sprintf("%t", cfg.Updates.Enabled), nil
	case "updates.auto_install":
		return fmt.Sprintf("%t", cfg.Updates.AutoInstall), nil
	case "updates.check_interval":
		return cfg.Updates.CheckInterval, nil
	case "updates.channel":
		return cfg.Updates.Channel, nil
	case "updates.manifest_url":
		return cfg.Updates.EffectiveManifestURL(), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// Reset restores the default policy, dropping timestamps as well.
func (s *Store) Reset() error {
	return s.Update(func(cfg *Config) error {
		*cfg = *Default()
		return nil
	})
}

// Export writes the current config to the file at path.
func (s *Store) Export(path string) error {
	cfg, err := s.Load()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	return nil
}

// ExportTo writes the current config to w, for export without a file
// argument.
func (s *Store) ExportTo(w io.Writer) error {
	cfg, err := s.Load()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

// Import replaces the persisted config with the contents of the file at
// path. The imported config is validated before anything is written.
func (s *Store) Import(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read import file: %w", err)
	}

	imported := Default()
	if err := toml.Unmarshal(data, imported); err != nil {
		return fmt.Errorf("failed to parse import file %s: %w", path, err)
	}
	if err := validate(imported); err != nil {
		return fmt.Errorf("invalid config in %s: %w", path, err)
	}

	return s.Update(func(cfg *Config) error {
		*cfg = *imported
		return nil
	})
}

func parseBool(s string) (bool, error) {
	switch s {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value: %s", s)
}
