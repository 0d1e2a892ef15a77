package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/entra-auth-go/internal/accountstore"
)

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <account-id>",
		Short: "Revalidate an account's credentials and rebuild its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runRefresh(args[0])
		},
	}
}

func runRefresh(accountID string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Shutdown(ctx)

	cfg := a.holder.Config()
	logger := buildLogger(cfg)
	ctx = shutdownContext(ctx, logger)

	account, err := a.accounts.Get(ctx, cfg.Provider.ID, accountID)
	if err != nil {
		if errors.Is(err, accountstore.ErrNotFound) {
			return fmt.Errorf("no account %q — run 'entra-auth login' first", accountID)
		}

		return err
	}

	if err := a.manager.RefreshAccount(ctx, account); err != nil {
		return err
	}

	if err := a.accounts.Upsert(ctx, account); err != nil {
		return err
	}

	if account.IsStale {
		statusf("Account %s needs interactive sign-in. Run 'entra-auth login'.\n", account.DisplayName)

		return nil
	}

	statusf("Refreshed %s.\n", account.DisplayName)

	return nil
}
