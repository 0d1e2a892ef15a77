// Package cache implements the durable token cache: a flat string-to-string
// map persisted as one encrypted blob in a single file, plus the
// process-local expiry index.
//
// The in-memory map is authoritative between flushes. Mutations mark the
// cache dirty; a background loop flushes dirty state at a fixed interval,
// and Shutdown performs a final flush. Encryption is injected as read/write
// hooks so this package never sees key material.
//
// The cache file is shared across OS processes. When constructed with a
// lock, the file read and write steps run under it; nothing else does —
// in particular the lock is never held while a caller is off doing network
// I/O.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tonimelisma/entra-auth-go/internal/lockfile"
)

// FilePerms restricts the cache file to owner read/write.
const FilePerms = 0o600

// DirPerms is used when creating the cache directory.
const DirPerms = 0o700

// Hook transforms raw file contents. The write hook encrypts, the read
// hook decrypts.
type Hook func([]byte) ([]byte, error)

// Options configures the flush cadence. Zero values take defaults.
type Options struct {
	// FlushInterval is how often dirty state is written to disk.
	FlushInterval time.Duration

	// SaveWait bounds how long a mutation waits for an in-flight flush
	// before failing with ErrSaveTimeout.
	SaveWait time.Duration
}

const (
	defaultFlushInterval = 20 * time.Second
	defaultSaveWait      = 2 * time.Second
)

// ErrSaveTimeout is returned when a mutation waited longer than SaveWait
// for an in-flight flush. Callers should treat it as retryable.
var ErrSaveTimeout = errors.New("cache: timed out waiting for in-flight save")

// ErrNotInitialized is returned when the cache is used before Initialize.
var ErrNotInitialized = errors.New("cache: not initialized")

// ErrHooksRequired is returned from Initialize when no read/write hooks
// have been set. Hooks cannot be rebound after the first load.
var ErrHooksRequired = errors.New("cache: read/write hooks must be set before Initialize")

// Entry is one key/value pair returned by GetByPrefix.
type Entry struct {
	Key   string
	Value string
}

// FileCache is the encrypted file-backed cache.
type FileCache struct {
	path   string
	opts   Options
	logger *slog.Logger
	lock   *lockfile.Lock

	mu          sync.Mutex
	entries     map[string]string
	dirty       bool
	flushDone   chan struct{} // non-nil while a flush is writing
	initialized bool
	readHook    Hook
	writeHook   Hook

	stop     chan struct{}
	loopDone chan struct{}
}

// New returns a cache backed by the file at path. lock may be nil for
// caches not shared across processes.
func New(path string, lock *lockfile.Lock, opts Options, logger *slog.Logger) *FileCache {
	if opts.FlushInterval == 0 {
		opts.FlushInterval = defaultFlushInterval
	}

	if opts.SaveWait == 0 {
		opts.SaveWait = defaultSaveWait
	}

	return &FileCache{
		path:    path,
		opts:    opts,
		logger:  logger,
		lock:    lock,
		entries: make(map[string]string),
	}
}

// SetHooks installs the encrypt/decrypt hooks. It fails after Initialize:
// the read path cannot be rebound once the file has been loaded.
func (c *FileCache) SetHooks(read, write Hook) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return errors.New("cache: hooks cannot change after Initialize")
	}

	c.readHook = read
	c.writeHook = write

	return nil
}

// Initialize loads and decrypts the cache file and starts the periodic
// flush loop. A missing file, a decrypt failure, or a parse failure all
// reset the cache to empty and recreate the file — losing local cached
// tokens is acceptable, a wedged cache is not.
func (c *FileCache) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()

		return errors.New("cache: already initialized")
	}

	if c.readHook == nil || c.writeHook == nil {
		c.mu.Unlock()

		return ErrHooksRequired
	}
	c.mu.Unlock()

	entries, err := c.readFile(ctx)
	if err != nil {
		c.logger.Warn("cache unreadable, resetting to empty",
			slog.String("path", c.path),
			slog.String("error", err.Error()),
		)

		entries = make(map[string]string)

		if writeErr := c.writeFile(ctx, entries); writeErr != nil {
			return fmt.Errorf("cache: recreating cache file: %w", writeErr)
		}
	}

	c.mu.Lock()
	c.entries = entries
	c.dirty = false
	c.initialized = true
	c.stop = make(chan struct{})
	c.loopDone = make(chan struct{})
	c.mu.Unlock()

	go c.flushLoop()

	c.logger.Debug("cache initialized",
		slog.String("path", c.path),
		slog.Int("entries", len(entries)),
	)

	return nil
}

// Get returns the value stored under key.
func (c *FileCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.entries[key]

	return value, ok
}

// GetByPrefix returns all entries whose key starts with prefix, sorted by
// key for deterministic iteration.
func (c *FileCache) GetByPrefix(prefix string) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Entry

	for key, value := range c.entries {
		if strings.HasPrefix(key, prefix) {
			out = append(out, Entry{Key: key, Value: value})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	return out
}

// Set stores value under key and marks the cache dirty. If a flush is in
// flight it waits up to SaveWait, then fails with ErrSaveTimeout.
func (c *FileCache) Set(key, value string) error {
	if err := c.lockOutFlush(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	c.entries[key] = value
	c.dirty = true

	return nil
}

// SetMany stores every entry under one mutex hold, so related records
// (access token, refresh token, expiry) land together or not at all.
func (c *FileCache) SetMany(entries []Entry) error {
	if err := c.lockOutFlush(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	for _, e := range entries {
		c.entries[e.Key] = e.Value
	}

	if len(entries) > 0 {
		c.dirty = true
	}

	return nil
}

// Delete removes key. Same flush-wait policy as Set.
func (c *FileCache) Delete(key string) error {
	if err := c.lockOutFlush(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.dirty = true
	}

	return nil
}

// DeleteByPrefix removes every key starting with prefix. Same flush-wait
// policy as Set.
func (c *FileCache) DeleteByPrefix(prefix string) error {
	if err := c.lockOutFlush(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			c.dirty = true
		}
	}

	return nil
}

// lockOutFlush acquires c.mu with no flush in flight, waiting up to
// SaveWait for one to finish. On success the caller holds c.mu.
func (c *FileCache) lockOutFlush() error {
	deadline := time.Now().Add(c.opts.SaveWait)

	c.mu.Lock()

	if !c.initialized {
		c.mu.Unlock()

		return ErrNotInitialized
	}

	for c.flushDone != nil {
		ch := c.flushDone
		c.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrSaveTimeout
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			return ErrSaveTimeout
		}

		c.mu.Lock()
	}

	return nil
}

// Flush writes dirty state to disk. A no-op when clean.
func (c *FileCache) Flush(ctx context.Context) error {
	c.mu.Lock()

	if !c.initialized {
		c.mu.Unlock()

		return ErrNotInitialized
	}

	if !c.dirty || c.flushDone != nil {
		c.mu.Unlock()

		return nil
	}

	snapshot := maps.Clone(c.entries)
	done := make(chan struct{})
	c.flushDone = done
	c.mu.Unlock()

	err := c.writeFile(ctx, snapshot)

	c.mu.Lock()
	if err == nil {
		// Mutations were held off while the flush ran, so the snapshot is
		// exactly what is in memory.
		c.dirty = false
	}
	c.flushDone = nil
	c.mu.Unlock()

	close(done)

	if err != nil {
		return fmt.Errorf("cache: flushing: %w", err)
	}

	return nil
}

// Shutdown stops the flush loop and performs a final flush.
func (c *FileCache) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()

		return nil
	}

	stop := c.stop
	loopDone := c.loopDone
	c.mu.Unlock()

	close(stop)
	<-loopDone

	return c.Flush(ctx)
}

func (c *FileCache) flushLoop() {
	defer close(c.loopDone)

	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Flush(context.Background()); err != nil {
				c.logger.Warn("periodic cache flush failed",
					slog.String("error", err.Error()),
				)
			}
		case <-c.stop:
			return
		}
	}
}

// readFile loads and decrypts the cache file, holding the cross-process
// lock for just the read step.
func (c *FileCache) readFile(ctx context.Context) (map[string]string, error) {
	var raw []byte

	read := func() error {
		data, err := os.ReadFile(c.path)
		if err != nil {
			return err
		}

		raw = data

		return nil
	}

	var err error
	if c.lock != nil {
		err = c.lock.WithLock(ctx, read)
	} else {
		err = read()
	}

	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("cache: no cache file at %s: %w", c.path, err)
		}

		return nil, fmt.Errorf("cache: reading %s: %w", c.path, err)
	}

	plain, err := c.readHook(raw)
	if err != nil {
		return nil, fmt.Errorf("cache: decrypting %s: %w", c.path, err)
	}

	entries := make(map[string]string)
	if err := json.Unmarshal(plain, &entries); err != nil {
		return nil, fmt.Errorf("cache: parsing %s: %w", c.path, err)
	}

	return entries, nil
}

// writeFile encrypts and atomically writes entries, holding the
// cross-process lock for just the write step.
func (c *FileCache) writeFile(ctx context.Context, entries map[string]string) error {
	plain, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("cache: encoding: %w", err)
	}

	sealed, err := c.writeHook(plain)
	if err != nil {
		return fmt.Errorf("cache: encrypting: %w", err)
	}

	write := func() error {
		return atomicWrite(c.path, sealed)
	}

	if c.lock != nil {
		return c.lock.WithLock(ctx, write)
	}

	return write()
}

// atomicWrite writes data via a temp file in the same directory plus
// rename, with owner-only permissions.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".cache-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()

		return fmt.Errorf("setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()

		return fmt.Errorf("writing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}

	success = true

	return nil
}
