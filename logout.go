package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/entra-auth-go/internal/accountstore"
)

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout <account-id>",
		Short: "Remove an account and all of its cached credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runLogout(args[0])
		},
	}
}

func runLogout(accountID string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Shutdown(ctx)

	providerID := a.holder.Config().Provider.ID

	account, err := a.accounts.Get(ctx, providerID, accountID)
	if err != nil {
		if errors.Is(err, accountstore.ErrNotFound) {
			return fmt.Errorf("no account %q — run 'entra-auth accounts' to list accounts", accountID)
		}

		return err
	}

	if err := a.manager.ClearCredentials(account); err != nil {
		return err
	}

	if err := a.accounts.Delete(ctx, providerID, accountID); err != nil {
		return err
	}

	statusf("Signed out %s.\n", account.DisplayName)

	return nil
}
