// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for entra-auth. Configuration is an
// explicit object handed to the token lifecycle manager at construction;
// there is no module-level mutable state. Changes on disk reach running
// components through an explicit Reload entry point, optionally driven by
// a file watcher.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Provider ProviderConfig `toml:"provider"`
	Cache    CacheConfig    `toml:"cache"`
	Timeouts TimeoutsConfig `toml:"timeouts"`
	Logging  LoggingConfig  `toml:"logging"`

	// IgnoreTenants lists tenant IDs the user chose never to be re-prompted
	// for. It is user configuration, deliberately outside the token cache,
	// and survives cache clears.
	IgnoreTenants []string `toml:"ignore_tenants"`
}

// ProviderConfig describes the identity provider and the resources a
// sign-in can be exchanged for.
type ProviderConfig struct {
	// ID is the stable provider identifier embedded in account keys.
	ID string `toml:"id"`

	DisplayName string `toml:"display_name"`

	// ClientID is the public client application ID registered with the
	// provider.
	ClientID string `toml:"client_id"`

	// Host is the login endpoint base, e.g. "https://login.microsoftonline.com/".
	// Always ends with a slash.
	Host string `toml:"host"`

	// Resources maps a resource kind (arm, sql, keyvault, ...) to the
	// resource URI sent in token requests. A token request for an
	// unconfigured kind is a user-facing configuration error.
	Resources map[string]string `toml:"resources"`

	// BaseResource is the kind whose refresh token serves as the fallback
	// when no per-resource refresh token is cached. One sign-in against the
	// base resource can then serve every other resource kind silently.
	BaseResource string `toml:"base_resource"`

	// ARMResource is the kind whose endpoint hosts the tenant list API.
	ARMResource string `toml:"arm_resource"`
}

// CacheConfig controls the encrypted token cache location and flush policy.
type CacheConfig struct {
	// Dir is the directory holding the cache file and its lock file.
	// Empty means the platform data directory.
	Dir string `toml:"dir"`

	// ServiceName is the secret-store service name the encryption keys are
	// filed under. Also names the cache file.
	ServiceName string `toml:"service_name"`

	FlushInterval string `toml:"flush_interval"`
	SaveWait      string `toml:"save_wait"`

	LockAttempts uint64 `toml:"lock_attempts"`
	LockBackoff  string `toml:"lock_backoff"`
}

// TimeoutsConfig holds every bounded wait in the auth flows. These are
// configuration rather than literals so tests and constrained environments
// can tighten them.
type TimeoutsConfig struct {
	// DevicePoll is the overall ceiling on device-code polling, independent
	// of the provider's stated code expiry.
	DevicePoll string `toml:"device_poll"`

	// BrowserResponse bounds the wait for the browser redirect in the
	// authorization-code flow.
	BrowserResponse string `toml:"browser_response"`

	// ListenerBind bounds how long the loopback listener may take to bind.
	ListenerBind string `toml:"listener_bind"`

	// ListenerIdle is the inactivity window after which the loopback
	// listener shuts itself down.
	ListenerIdle string `toml:"listener_idle"`
}

// LoggingConfig controls log verbosity and destination.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// IsTenantIgnored reports whether tenantID is on the ignore list.
func (c *Config) IsTenantIgnored(tenantID string) bool {
	for _, id := range c.IgnoreTenants {
		if id == tenantID {
			return true
		}
	}

	return false
}

// durationOr parses s, falling back to def on empty or invalid input.
// Validate rejects invalid strings up front, so the fallback only covers
// hand-built Config values in tests.
func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}

	return d
}

// FlushIntervalDuration returns the parsed cache flush interval.
func (c CacheConfig) FlushIntervalDuration() time.Duration {
	return durationOr(c.FlushInterval, defaultFlushIntervalD)
}

// SaveWaitDuration returns the parsed mutation-vs-flush wait ceiling.
func (c CacheConfig) SaveWaitDuration() time.Duration {
	return durationOr(c.SaveWait, defaultSaveWaitD)
}

// LockBackoffDuration returns the parsed delay between lock attempts.
func (c CacheConfig) LockBackoffDuration() time.Duration {
	return durationOr(c.LockBackoff, defaultLockBackoffD)
}

// DevicePollDuration returns the parsed device-code polling ceiling.
func (t TimeoutsConfig) DevicePollDuration() time.Duration {
	return durationOr(t.DevicePoll, defaultDevicePollD)
}

// BrowserResponseDuration returns the parsed redirect wait ceiling.
func (t TimeoutsConfig) BrowserResponseDuration() time.Duration {
	return durationOr(t.BrowserResponse, defaultBrowserResponseD)
}

// ListenerBindDuration returns the parsed listener bind ceiling.
func (t TimeoutsConfig) ListenerBindDuration() time.Duration {
	return durationOr(t.ListenerBind, defaultListenerBindD)
}

// ListenerIdleDuration returns the parsed listener idle shutdown window.
func (t TimeoutsConfig) ListenerIdleDuration() time.Duration {
	return durationOr(t.ListenerIdle, defaultListenerIdleD)
}
