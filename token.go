package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/entra-auth-go/internal/accountstore"
)

func newTokenCmd() *cobra.Command {
	var tenantID, resourceKind string

	cmd := &cobra.Command{
		Use:   "token <account-id>",
		Short: "Print an access token, acquiring or refreshing it as needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runToken(args[0], tenantID, resourceKind)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant to acquire for (default: the account's home tenant)")
	cmd.Flags().StringVar(&resourceKind, "resource", "", "resource kind from the provider catalog (default: the base resource)")

	return cmd
}

func runToken(accountID, tenantID, resourceKind string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Shutdown(ctx)

	cfg := a.holder.Config()
	logger := buildLogger(cfg)
	ctx = shutdownContext(ctx, logger)

	if resourceKind == "" {
		resourceKind = cfg.Provider.BaseResource
	}

	account, err := a.accounts.Get(ctx, cfg.Provider.ID, accountID)
	if err != nil {
		if errors.Is(err, accountstore.ErrNotFound) {
			return fmt.Errorf("no account %q — run 'entra-auth login' first", accountID)
		}

		return err
	}

	wasStale := account.IsStale

	token, err := a.manager.GetToken(ctx, account, tenantID, resourceKind)

	// Staleness changes are durable regardless of the outcome.
	if account.IsStale != wasStale {
		if dbErr := a.accounts.SetStale(ctx, cfg.Provider.ID, accountID, account.IsStale); dbErr != nil {
			logger.Warn("failed to persist staleness", "error", dbErr)
		}
	}

	if err != nil {
		return err
	}

	if token == nil {
		return errors.New("no token available — the account needs interactive sign-in")
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(token)
	}

	fmt.Fprintln(os.Stdout, token.Token)
	statusf("Expires: %s\n", formatExpiry(token.Expiry()))

	return nil
}
