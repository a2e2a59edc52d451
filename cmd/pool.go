package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/bnema/rotor/internal/domain"
)

func newPoolCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Manage the persisted account, route and fingerprint pools",
	}

	cmd.AddCommand(
		newPoolListCmd(app),
		newPoolSeedCmd(app),
		newPoolResetCmd(app),
		newPoolRemoveCmd(app),
		newPoolRotateCmd(app),
	)

	return cmd
}

func addKindFlag(cmd *cobra.Command, kind *string) {
	cmd.Flags().StringVar(kind, "kind", "", "Pool kind: account, route or fingerprint")
	_ = cmd.MarkFlagRequired("kind")
}

func newPoolListCmd(app *app) *cobra.Command {
	var (
		kind   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the resources of a pool with their scores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := domain.ParseResourceKind(kind)
			if err != nil {
				return err
			}

			views, err := app.pools.List(cmd.Context(), parsed)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(views)
			}

			if len(views) == 0 {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s pool is empty\n", parsed)
				return nil
			}
			for _, view := range views {
				marker := ""
				if view.BelowFloor {
					marker = "\tbelow floor"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.2f\tstreak %d\t%s%s\n",
					view.ID, view.SuccessRate, view.FailureStreak, sanitizeForTerminal(view.Summary), marker)
			}
			return nil
		},
	}

	addKindFlag(cmd, &kind)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the pool as JSON")

	return cmd
}

func newPoolSeedCmd(app *app) *cobra.Command {
	var (
		kind  string
		size  int
		force bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate a fresh pool of synthetic resources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := domain.ParseResourceKind(kind)
			if err != nil {
				return err
			}

			seeded, err := app.pools.Seed(cmd.Context(), parsed, size, force)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s pool with %d resources\n", parsed, seeded)
			return nil
		},
	}

	addKindFlag(cmd, &kind)
	cmd.Flags().IntVar(&size, "size", 0, "Number of resources (default from pool config)")
	cmd.Flags().BoolVar(&force, "force", false, "Replace a pool that already has resources")

	return cmd
}

func newPoolResetCmd(app *app) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "reset <id>",
		Short: "Restore a resource's success rate and clear its failure streak",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := domain.ParseResourceKind(kind)
			if err != nil {
				return err
			}

			id := domain.ResourceID(strings.TrimSpace(args[0]))
			if err := app.pools.Reset(cmd.Context(), parsed, id); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Reset %s %s\n", parsed, id)
			return nil
		},
	}

	addKindFlag(cmd, &kind)
	return cmd
}

func newPoolRemoveCmd(app *app) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a resource from a pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := domain.ParseResourceKind(kind)
			if err != nil {
				return err
			}

			id := domain.ResourceID(strings.TrimSpace(args[0]))
			if err := app.pools.Remove(cmd.Context(), parsed, id); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %s %s\n", parsed, id)
			return nil
		},
	}

	addKindFlag(cmd, &kind)
	return cmd
}

func newPoolRotateCmd(app *app) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Shuffle a pool and forget when its resources were last used",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := domain.ParseResourceKind(kind)
			if err != nil {
				return err
			}

			if err := app.pools.Rotate(cmd.Context(), parsed); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Rotated %s pool\n", parsed)
			return nil
		},
	}

	addKindFlag(cmd, &kind)
	return cmd
}

func sanitizeForTerminal(value string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
}
