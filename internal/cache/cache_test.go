package cache

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/entra-auth-go/internal/cachecrypt"
	"github.com/tonimelisma/entra-auth-go/internal/lockfile"
	"github.com/tonimelisma/entra-auth-go/internal/secret"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// passthrough hooks let tests inspect the file without decrypting.
func passthrough(data []byte) ([]byte, error) { return data, nil }

func newTestCache(t *testing.T, opts Options) (*FileCache, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tokens.cache")
	c := New(path, nil, opts, testLogger())
	require.NoError(t, c.SetHooks(passthrough, passthrough))
	require.NoError(t, c.Initialize(context.Background()))
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	return c, path
}

func TestInitializeRequiresHooks(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "tokens.cache"), nil, Options{}, testLogger())

	err := c.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrHooksRequired)
}

func TestHooksCannotRebindAfterInitialize(t *testing.T) {
	c, _ := newTestCache(t, Options{})

	err := c.SetHooks(passthrough, passthrough)
	assert.Error(t, err)
}

func TestMissingFileStartsEmpty(t *testing.T) {
	c, path := newTestCache(t, Options{})

	assert.Empty(t, c.GetByPrefix(""))

	// The file is recreated empty so later reads succeed.
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestSetGetDelete(t *testing.T) {
	c, _ := newTestCache(t, Options{})

	require.NoError(t, c.Set("acct_access_arm_tenant1", `{"token":"T1"}`))

	got, ok := c.Get("acct_access_arm_tenant1")
	require.True(t, ok)
	assert.Equal(t, `{"token":"T1"}`, got)

	require.NoError(t, c.Delete("acct_access_arm_tenant1"))

	_, ok = c.Get("acct_access_arm_tenant1")
	assert.False(t, ok)
}

func TestGetByPrefixSorted(t *testing.T) {
	c, _ := newTestCache(t, Options{})

	require.NoError(t, c.Set("acct1_refresh_arm_t1", "r"))
	require.NoError(t, c.Set("acct1_access_arm_t1", "a"))
	require.NoError(t, c.Set("acct2_access_arm_t1", "other"))

	entries := c.GetByPrefix("acct1_")
	require.Len(t, entries, 2)
	assert.Equal(t, "acct1_access_arm_t1", entries[0].Key)
	assert.Equal(t, "acct1_refresh_arm_t1", entries[1].Key)
}

func TestFlushPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.cache")

	c := New(path, nil, Options{}, testLogger())
	require.NoError(t, c.SetHooks(passthrough, passthrough))
	require.NoError(t, c.Initialize(context.Background()))

	require.NoError(t, c.Set("k", "v"))
	require.NoError(t, c.Shutdown(context.Background()))

	reloaded := New(path, nil, Options{}, testLogger())
	require.NoError(t, reloaded.SetHooks(passthrough, passthrough))
	require.NoError(t, reloaded.Initialize(context.Background()))
	defer reloaded.Shutdown(context.Background())

	got, ok := reloaded.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestCorruptFileSelfHeals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.cache")

	junk := make([]byte, 256)
	_, err := rand.Read(junk)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, junk, FilePerms))

	c := New(path, nil, Options{}, testLogger())
	require.NoError(t, c.SetHooks(passthrough, passthrough))

	// Corruption must not raise to the caller.
	require.NoError(t, c.Initialize(context.Background()))
	defer c.Shutdown(context.Background())

	assert.Empty(t, c.GetByPrefix(""))

	// And the cache is usable afterwards.
	require.NoError(t, c.Set("k", "v"))
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestEncryptedRoundTripWithHelper(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.cache")
	store := secret.NewMemoryStore()

	helper := cachecrypt.New("test-cache", store, testLogger())
	require.NoError(t, helper.Init())

	c := New(path, nil, Options{}, testLogger())
	require.NoError(t, c.SetHooks(helper.Open, helper.Save))
	require.NoError(t, c.Initialize(context.Background()))

	require.NoError(t, c.Set("k", "secret-value"))
	require.NoError(t, c.Shutdown(context.Background()))

	// File on disk must not contain the plaintext.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-value")

	var asJSON map[string]string
	assert.Error(t, json.Unmarshal(raw, &asJSON), "file should not be plaintext JSON")

	reloaded := New(path, nil, Options{}, testLogger())
	require.NoError(t, reloaded.SetHooks(helper.Open, helper.Save))
	require.NoError(t, reloaded.Initialize(context.Background()))
	defer reloaded.Shutdown(context.Background())

	got, ok := reloaded.Get("k")
	require.True(t, ok)
	assert.Equal(t, "secret-value", got)
}

func TestMutationDuringFlushTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.cache")

	c := New(path, nil, Options{SaveWait: 30 * time.Millisecond}, testLogger())

	release := make(chan struct{})
	slowWrite := func(data []byte) ([]byte, error) {
		<-release

		return data, nil
	}

	require.NoError(t, c.SetHooks(passthrough, passthrough))
	require.NoError(t, c.Initialize(context.Background()))
	defer func() {
		_ = c.Shutdown(context.Background())
	}()

	// Swap in a stalling write hook after init by reaching through Flush:
	// instead, stall the flush with a mutation already pending.
	c.writeHook = slowWrite

	require.NoError(t, c.Set("k", "v"))

	flushErr := make(chan error, 1)
	go func() { flushErr <- c.Flush(context.Background()) }()

	// Wait until the flush is holding the write.
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()

		return c.flushDone != nil
	}, time.Second, time.Millisecond)

	err := c.Set("k2", "v2")
	assert.ErrorIs(t, err, ErrSaveTimeout)

	close(release)
	require.NoError(t, <-flushErr)

	// After the flush completes, mutations go through again.
	assert.NoError(t, c.Set("k2", "v2"))
}

func TestPeriodicFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.cache")

	c := New(path, nil, Options{FlushInterval: 20 * time.Millisecond}, testLogger())
	require.NoError(t, c.SetHooks(passthrough, passthrough))
	require.NoError(t, c.Initialize(context.Background()))
	defer c.Shutdown(context.Background())

	require.NoError(t, c.Set("k", "v"))

	require.Eventually(t, func() bool {
		raw, err := os.ReadFile(path)
		if err != nil {
			return false
		}

		var entries map[string]string
		if json.Unmarshal(raw, &entries) != nil {
			return false
		}

		return entries["k"] == "v"
	}, time.Second, 10*time.Millisecond, "dirty state should flush on the timer")
}

func TestCrossProcessLockGuardsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.cache")
	lock := lockfile.New(path+lockfile.Suffix, lockfile.Options{}, testLogger())

	c := New(path, lock, Options{}, testLogger())
	require.NoError(t, c.SetHooks(passthrough, passthrough))
	require.NoError(t, c.Initialize(context.Background()))
	defer c.Shutdown(context.Background())

	require.NoError(t, c.Set("k", "v"))
	require.NoError(t, c.Flush(context.Background()))

	// The lock file must not outlive the flush.
	_, err := os.Stat(path + lockfile.Suffix)
	assert.True(t, os.IsNotExist(err))
}

func TestUseBeforeInitialize(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "tokens.cache"), nil, Options{}, testLogger())

	assert.ErrorIs(t, c.Set("k", "v"), ErrNotInitialized)
	assert.ErrorIs(t, c.Flush(context.Background()), ErrNotInitialized)
}
