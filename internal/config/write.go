package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/BurntSushi/toml"
)

// configFilePermissions is owner read/write, group and others read-only.
const configFilePermissions = 0o644

// configDirPermissions is owner full, group and others read/execute.
const configDirPermissions = 0o755

// Write persists cfg to path as TOML, creating the directory if needed.
// The file is written via a temp file plus rename so a concurrent reader
// (or the directory watcher) never observes a truncated config.
func Write(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("config: creating directory %s: %w", dir, err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("config: encoding %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("config: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, configFilePermissions); err != nil {
		tmp.Close()

		return fmt.Errorf("config: setting permissions: %w", err)
	}

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()

		return fmt.Errorf("config: writing %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("config: renaming into place: %w", err)
	}

	success = true

	return nil
}

// AddIgnoredTenant durably adds tenantID to the ignore list in the config
// file at path. Adding a tenant that is already listed is a no-op. The
// ignore list lives in user configuration, not the token cache, so it
// survives cache clears and process restarts.
func AddIgnoredTenant(path, tenantID string) (*Config, error) {
	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	if slices.Contains(cfg.IgnoreTenants, tenantID) {
		return cfg, nil
	}

	cfg.IgnoreTenants = append(cfg.IgnoreTenants, tenantID)

	if err := Write(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
