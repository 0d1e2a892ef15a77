package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func newAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List registered accounts",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runAccounts()
		},
	}
}

func runAccounts() error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Shutdown(ctx)

	accounts, err := a.accounts.List(ctx)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(accounts)
	}

	if len(accounts) == 0 {
		statusf("No accounts. Run 'entra-auth login' to sign in.\n")

		return nil
	}

	rows := make([][]string, 0, len(accounts))

	for _, account := range accounts {
		kind := "organizational"
		if account.Properties.IsPersonalAccount {
			kind = "personal"
		}

		state := "ok"
		if account.IsStale {
			state = "stale"
		}

		rows = append(rows, []string{
			account.Key.AccountID,
			account.DisplayName,
			account.Properties.OwningTenant.ID,
			kind,
			state,
		})
	}

	printTable(os.Stdout, []string{"ID", "NAME", "TENANT", "TYPE", "STATE"}, rows)

	return nil
}
