package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bnema/rotor/internal/application"
	"github.com/bnema/rotor/internal/domain"
)

func newAccountCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts and their credentials",
	}

	cmd.AddCommand(
		newAccountListCmd(app),
		newAccountSetCredentialCmd(app),
		newAccountRemoveCredentialCmd(app),
	)

	return cmd
}

func newAccountListCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List persisted accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			accounts, err := app.accounts.List(cmd.Context())
			if err != nil {
				return err
			}

			for _, account := range accounts {
				credential := "no credential"
				if account.Attributes.SecretRef != "" {
					credential = account.Attributes.SecretRef
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n",
					account.ID, sanitizeForTerminal(account.Attributes.Handle), account.Attributes.Tier, credential)
			}

			return nil
		},
	}
}

func newAccountSetCredentialCmd(app *app) *cobra.Command {
	var (
		accountID   string
		secretKey   string
		secretValue string
	)

	cmd := &cobra.Command{
		Use:   "set-credential",
		Short: "Store an account credential and point the account at it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id := domain.ResourceID(strings.TrimSpace(accountID))
			key := strings.TrimSpace(secretKey)
			if key == "" {
				key = application.CredentialKey(id)
			}

			if err := app.credentials.SetCredential(cmd.Context(), id, key, secretValue); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored credential for %s at %s\n", id, key)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Account ID")
	cmd.Flags().StringVar(&secretKey, "secret-key", "", "Secret store key (default rotor://accounts/<account>)")
	cmd.Flags().StringVar(&secretValue, "secret-value", "", "Credential value")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("secret-value")

	return cmd
}

func newAccountRemoveCredentialCmd(app *app) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "remove-credential",
		Short: "Delete an account credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id := domain.ResourceID(strings.TrimSpace(accountID))
			if err := app.credentials.RemoveCredential(cmd.Context(), id); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed credential for %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Account ID")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}
