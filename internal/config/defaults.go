package config

import "time"

// Default values for configuration options. These work against the Azure
// public cloud without any config file.
const (
	defaultProviderID   = "azure_publicCloud"
	defaultDisplayName  = "Azure"
	defaultClientID     = "a69788c6-1d43-44ed-9ca3-b83e194da255"
	defaultHost         = "https://login.microsoftonline.com/"
	defaultBaseResource = "microsoft"
	defaultARMResource  = "arm"

	defaultServiceName   = "entra-auth-token-cache"
	defaultFlushInterval = "20s"
	defaultSaveWait      = "2s"
	defaultLockAttempts  = 500
	defaultLockBackoff   = "100ms"

	defaultDevicePoll      = "15m"
	defaultBrowserResponse = "5m"
	defaultListenerBind    = "5s"
	defaultListenerIdle    = "5m"

	defaultLogLevel = "info"
)

// Parsed fallbacks for the duration accessors.
const (
	defaultFlushIntervalD   = 20 * time.Second
	defaultSaveWaitD        = 2 * time.Second
	defaultLockBackoffD     = 100 * time.Millisecond
	defaultDevicePollD      = 15 * time.Minute
	defaultBrowserResponseD = 5 * time.Minute
	defaultListenerBindD    = 5 * time.Second
	defaultListenerIdleD    = 5 * time.Minute
)

// defaultResources is the Azure public cloud resource catalog. Keys are
// resource kinds; values are the resource URIs sent in token requests.
func defaultResources() map[string]string {
	return map[string]string{
		"microsoft": "https://management.core.windows.net/",
		"arm":       "https://management.azure.com/",
		"sql":       "https://database.windows.net/",
		"keyvault":  "https://vault.azure.net/",
		"graph":     "https://graph.microsoft.com/",
	}
}

// DefaultConfig returns a Config populated with all default values. Used
// both as the starting point for TOML decoding (unset fields keep their
// defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			ID:           defaultProviderID,
			DisplayName:  defaultDisplayName,
			ClientID:     defaultClientID,
			Host:         defaultHost,
			Resources:    defaultResources(),
			BaseResource: defaultBaseResource,
			ARMResource:  defaultARMResource,
		},
		Cache: CacheConfig{
			ServiceName:   defaultServiceName,
			FlushInterval: defaultFlushInterval,
			SaveWait:      defaultSaveWait,
			LockAttempts:  defaultLockAttempts,
			LockBackoff:   defaultLockBackoff,
		},
		Timeouts: TimeoutsConfig{
			DevicePoll:      defaultDevicePoll,
			BrowserResponse: defaultBrowserResponse,
			ListenerBind:    defaultListenerBind,
			ListenerIdle:    defaultListenerIdle,
		},
		Logging: LoggingConfig{
			Level: defaultLogLevel,
		},
	}
}
