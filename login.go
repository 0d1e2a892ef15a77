package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/entra-auth-go/internal/entra"
)

func newLoginCmd() *cobra.Command {
	var useDeviceCode bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the Microsoft identity platform",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runLogin(useDeviceCode)
		},
	}

	cmd.Flags().BoolVar(&useDeviceCode, "use-device-code", false,
		"sign in with a code on another device instead of a local browser")

	return cmd
}

func runLogin(useDeviceCode bool) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Shutdown(ctx)

	logger := buildLogger(a.holder.Config())
	ctx = shutdownContext(ctx, logger)

	kind := entra.FlowAuthCode
	if useDeviceCode {
		kind = entra.FlowDeviceCode
	}

	account, err := a.manager.Login(ctx, kind)
	if err != nil {
		return err
	}

	if err := a.accounts.Upsert(ctx, account); err != nil {
		return err
	}

	statusf("Signed in as %s.\n", account.DisplayName)

	return nil
}
