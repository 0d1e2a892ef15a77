package cache

import (
	"strings"
	"sync"
	"time"
)

// ExpiryIndex is a process-local map from composite cache key to token
// expiry. It lets the token lifecycle manager check freshness without
// decrypting the full cache file.
//
// The index is an optimization, never an authority: it is empty after
// every process start, it is not shared with other processes, and a miss
// simply means "consult the encrypted cache". Correctness must never
// depend on its contents.
type ExpiryIndex struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// NewExpiryIndex returns an empty index.
func NewExpiryIndex() *ExpiryIndex {
	return &ExpiryIndex{entries: make(map[string]time.Time)}
}

// Set records the expiry for a composite key.
func (x *ExpiryIndex) Set(key string, expiresOn time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.entries[key] = expiresOn
}

// Get returns the recorded expiry for key, if any.
func (x *ExpiryIndex) Get(key string) (time.Time, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	expiresOn, ok := x.entries[key]

	return expiresOn, ok
}

// Delete removes a single entry.
func (x *ExpiryIndex) Delete(key string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	delete(x.entries, key)
}

// DeleteByPrefix removes every entry whose key starts with prefix. Used
// when an account's credentials are cleared.
func (x *ExpiryIndex) DeleteByPrefix(prefix string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for key := range x.entries {
		if strings.HasPrefix(key, prefix) {
			delete(x.entries, key)
		}
	}
}
