package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/rotor/internal/adapters/httpstatus"
	statusadapter "github.com/bnema/rotor/internal/adapters/render/status"
	"github.com/bnema/rotor/internal/application"
)

func newStatusCmd(app *app) *cobra.Command {
	var (
		addr   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running fleet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = app.cfg.Status.Addr
			}

			status, err := httpstatus.NewClient(addr, app.httpClient).Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("query fleet status at %s: %w", addr, err)
			}

			return writeStatusOutput(cmd, app, status, asJSON)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Status surface address (default status.addr)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status snapshot as JSON")

	return cmd
}

func writeStatusOutput(cmd *cobra.Command, app *app, status application.FleetStatus, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	rendered, err := app.statusRenderer(status, statusadapter.RenderOptions{
		Now:            app.now(),
		StaleAfter:     2 * app.cfg.Monitor.Interval,
		AlertThreshold: app.cfg.Monitor.AlertThreshold,
	})
	if err != nil {
		return fmt.Errorf("render status: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}
