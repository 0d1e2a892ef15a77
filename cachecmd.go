package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/entra-auth-go/internal/cachecrypt"
	"github.com/tonimelisma/entra-auth-go/internal/config"
	"github.com/tonimelisma/entra-auth-go/internal/lockfile"
	"github.com/tonimelisma/entra-auth-go/internal/secret"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the encrypted token cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the token cache, its lock file, and the encryption keys",
		Long: "Deletes the on-disk token cache, any leftover lock file, and the " +
			"encryption keys in the platform secret store. Every account will need " +
			"to sign in again. Use this to recover from a stuck lock or an " +
			"undecryptable cache.",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runCacheClear()
		},
	})

	return cmd
}

// runCacheClear deliberately does not go through newApp: a corrupt cache or
// a wedged lock would make the normal bootstrap fail, and this command is
// the remedy for exactly those states.
func runCacheClear() error {
	cfg, err := config.LoadOrDefault(configPath())
	if err != nil {
		return err
	}

	logger := buildLogger(cfg)
	cacheFile := cfg.CacheFilePath()

	for _, path := range []string{cacheFile, cacheFile + lockfile.Suffix} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	crypt := cachecrypt.New(cfg.Cache.ServiceName, secret.NewKeyringStore(cfg.Cache.ServiceName), logger)
	if err := crypt.ClearKeys(); err != nil {
		return err
	}

	statusf("Token cache cleared. Run 'entra-auth login' to sign in again.\n")

	return nil
}
