package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/tonimelisma/entra-auth-go/internal/accountstore"
	"github.com/tonimelisma/entra-auth-go/internal/cache"
	"github.com/tonimelisma/entra-auth-go/internal/cachecrypt"
	"github.com/tonimelisma/entra-auth-go/internal/config"
	"github.com/tonimelisma/entra-auth-go/internal/entra"
	"github.com/tonimelisma/entra-auth-go/internal/lockfile"
	"github.com/tonimelisma/entra-auth-go/internal/secret"
)

// app holds the assembled component graph for one CLI invocation.
type app struct {
	holder    *config.Holder
	crypt     *cachecrypt.Helper
	fileCache *cache.FileCache
	store     *entra.TokenStore
	accounts  *accountstore.Store
	manager   *entra.Manager
}

// newApp loads configuration and wires the full stack: secret store,
// encryption helper, cross-process lock, encrypted cache, token store,
// account registry, flows, and the lifecycle manager.
func newApp(ctx context.Context) (*app, error) {
	path := configPath()

	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	logger := buildLogger(cfg)
	holder := config.NewHolder(cfg, path)

	crypt := cachecrypt.New(cfg.Cache.ServiceName, secret.NewKeyringStore(cfg.Cache.ServiceName), logger)
	if err := crypt.Init(); err != nil {
		return nil, err
	}

	cacheFile := cfg.CacheFilePath()
	lock := lockfile.New(cacheFile+lockfile.Suffix, lockfile.Options{
		MaxAttempts: cfg.Cache.LockAttempts,
		Backoff:     cfg.Cache.LockBackoffDuration(),
	}, logger)

	fileCache := cache.New(cacheFile, lock, cache.Options{
		FlushInterval: cfg.Cache.FlushIntervalDuration(),
		SaveWait:      cfg.Cache.SaveWaitDuration(),
	}, logger)

	if err := fileCache.SetHooks(crypt.Open, crypt.Save); err != nil {
		return nil, err
	}

	if err := fileCache.Initialize(ctx); err != nil {
		return nil, err
	}

	accounts, err := accountstore.New(cfg.AccountDBPath(), logger)
	if err != nil {
		return nil, err
	}

	store := entra.NewTokenStore(fileCache)
	client := defaultHTTPClient()

	flows := []entra.Flow{
		entra.NewAuthCodeFlow(holder, client, openBrowser, logger),
		entra.NewDeviceCodeFlow(holder, client, showDeviceCodePrompt, logger),
	}

	manager := entra.NewManager(holder, store, flows, newTerminalPrompter(), client, logger)

	return &app{
		holder:    holder,
		crypt:     crypt,
		fileCache: fileCache,
		store:     store,
		accounts:  accounts,
		manager:   manager,
	}, nil
}

// Shutdown flushes the cache and closes the registry.
func (a *app) Shutdown(ctx context.Context) {
	_ = a.fileCache.Shutdown(ctx)
	_ = a.accounts.Close()
}

// openBrowser launches the default browser for the platform.
func openBrowser(rawURL string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", rawURL)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", rawURL)
	default:
		cmd = exec.Command("xdg-open", rawURL)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}

	return nil
}

// showDeviceCodePrompt prints the device code instructions. Always visible,
// never suppressed by --quiet: without the code the sign-in cannot finish.
func showDeviceCodePrompt(p entra.DeviceCodePrompt) {
	if p.Message != "" {
		fmt.Fprintf(os.Stderr, "%s\n", p.Message)

		return
	}

	fmt.Fprintf(os.Stderr, "To sign in, visit: %s\n", p.VerificationURL)
	fmt.Fprintf(os.Stderr, "Enter code: %s\n", p.UserCode)
}
