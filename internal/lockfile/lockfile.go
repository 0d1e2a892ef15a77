// Package lockfile implements the advisory cross-process lock that guards
// the encrypted token cache file. Multiple host processes (one per open
// window) share one cache file; the lock serializes their read-modify-write
// cycles.
//
// This is a named, bounded-retry mutex, not a linearizable one: a lock file
// left behind by a crashed process is treated as stale and forcibly cleared
// before the first acquisition attempt, which leaves a small window where
// two processes could both clear it. That bounded risk is accepted; the
// alternative is a permanently wedged cache after any crash.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Suffix is appended to the cache file path to form its lock file path.
const Suffix = ".lockfile"

const lockFilePerms = 0o600

// Options bounds the acquisition retry loop. Zero values take defaults.
type Options struct {
	// MaxAttempts is the total number of acquisition attempts before
	// giving up.
	MaxAttempts uint64

	// Backoff is the fixed delay between attempts.
	Backoff time.Duration
}

const (
	defaultMaxAttempts = 500
	defaultBackoff     = 100 * time.Millisecond
)

// AcquireError is returned when the lock could not be taken within the
// bounded retry budget. Its message names the remedy so the host can show
// it to the user directly.
type AcquireError struct {
	Path string
	Err  error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf(
		"lockfile: could not acquire %s after repeated attempts; "+
			"another process may be holding it — run 'entra-auth cache clear' to reset local state: %v",
		e.Path, e.Err)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// Lock is a cross-process advisory lock backed by a lock file.
type Lock struct {
	path    string
	opts    Options
	logger  *slog.Logger
	holding sync.Mutex
	held    bool
}

// New returns a Lock for the given lock file path.
func New(path string, opts Options, logger *slog.Logger) *Lock {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}

	if opts.Backoff == 0 {
		opts.Backoff = defaultBackoff
	}

	return &Lock{path: path, opts: opts, logger: logger}
}

// WithLock acquires the lock, runs body, and releases on every exit path,
// including a panic inside body. The lock must never be held across a
// network call; bodies are expected to do only the file read-decrypt or
// encrypt-write step.
func (l *Lock) WithLock(ctx context.Context, body func() error) error {
	// Serialize in-process callers so the stale check below stays accurate.
	l.holding.Lock()
	defer l.holding.Unlock()

	if err := l.acquire(ctx); err != nil {
		return err
	}

	defer l.release()

	return body()
}

// acquire clears a stale lock file, then retries creation with constant
// backoff up to the configured attempt budget.
func (l *Lock) acquire(ctx context.Context) error {
	// A lock file that exists while this process holds no record of taking
	// it was left by a crashed process. Clear it before the first attempt.
	if !l.held {
		if _, err := os.Stat(l.path); err == nil {
			l.logger.Warn("clearing stale lock file", slog.String("path", l.path))

			if rmErr := os.Remove(l.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				return fmt.Errorf("lockfile: clearing stale lock %s: %w", l.path, rmErr)
			}
		}
	}

	backoff := retry.WithMaxRetries(l.opts.MaxAttempts, retry.NewConstant(l.opts.Backoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		f, openErr := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, lockFilePerms)
		if openErr != nil {
			if errors.Is(openErr, fs.ErrExist) {
				return retry.RetryableError(openErr)
			}

			return openErr
		}

		// Record the owner PID for diagnostics; the file's existence is
		// what matters for mutual exclusion.
		fmt.Fprintf(f, "%d\n", os.Getpid())

		return f.Close()
	})
	if err != nil {
		return &AcquireError{Path: l.path, Err: err}
	}

	l.held = true

	return nil
}

func (l *Lock) release() {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("failed to remove lock file",
			slog.String("path", l.path),
			slog.String("error", err.Error()),
		)
	}

	l.held = false
}
