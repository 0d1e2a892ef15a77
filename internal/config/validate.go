package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks a Config for internally consistent, parseable values.
// It is called by Load and by the manager's Reload before a new Config is
// accepted.
func Validate(cfg *Config) error {
	if cfg.Provider.ClientID == "" {
		return errors.New("provider.client_id is required")
	}

	if cfg.Provider.Host == "" {
		return errors.New("provider.host is required")
	}

	if !strings.HasSuffix(cfg.Provider.Host, "/") {
		return fmt.Errorf("provider.host %q must end with '/'", cfg.Provider.Host)
	}

	if len(cfg.Provider.Resources) == 0 {
		return errors.New("provider.resources must define at least one resource")
	}

	if _, ok := cfg.Provider.Resources[cfg.Provider.BaseResource]; !ok {
		return fmt.Errorf("provider.base_resource %q is not in provider.resources", cfg.Provider.BaseResource)
	}

	if _, ok := cfg.Provider.Resources[cfg.Provider.ARMResource]; !ok {
		return fmt.Errorf("provider.arm_resource %q is not in provider.resources", cfg.Provider.ARMResource)
	}

	durations := map[string]string{
		"cache.flush_interval":      cfg.Cache.FlushInterval,
		"cache.save_wait":           cfg.Cache.SaveWait,
		"cache.lock_backoff":        cfg.Cache.LockBackoff,
		"timeouts.device_poll":      cfg.Timeouts.DevicePoll,
		"timeouts.browser_response": cfg.Timeouts.BrowserResponse,
		"timeouts.listener_bind":    cfg.Timeouts.ListenerBind,
		"timeouts.listener_idle":    cfg.Timeouts.ListenerIdle,
	}

	for name, value := range durations {
		if value == "" {
			continue
		}

		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", name, value)
		}
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level)
	}

	return nil
}
