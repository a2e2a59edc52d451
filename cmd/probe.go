package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/rotor/internal/adapters/driver/sim"
	"github.com/bnema/rotor/internal/application"
	"github.com/bnema/rotor/internal/domain"
)

func newProbeCmd(app *app) *cobra.Command {
	var (
		kind     string
		asJSON   bool
		parallel int
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Test every resource of a pool with one handshake and record the outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := domain.ParseResourceKind(kind)
			if err != nil {
				return err
			}

			driver := sim.NewDriver(app.random, sim.Options{
				FailureRate: app.cfg.Driver.FailureRate,
				Latency:     app.cfg.Driver.Latency,
				DropCheck:   sim.DefaultOptions().DropCheck,
			}, app.logger)
			opts := application.ProbeOptions{Timeout: timeout, Parallelism: parallel}

			probe := func(ctx context.Context, progress func(application.ProbeResult)) (application.ProbeResults, error) {
				return app.pools.Probe(ctx, parsed, driver, opts, progress)
			}

			var results application.ProbeResults
			if asJSON {
				results, err = probe(cmd.Context(), nil)
			} else {
				existing, listErr := app.pools.List(cmd.Context(), parsed)
				if listErr != nil {
					return listErr
				}
				label := fmt.Sprintf("Probing %s pool...", parsed)
				results, err = runProbeSpinner(cmd.Context(), cmd.ErrOrStderr(), label, len(existing), probe)
			}
			if err != nil {
				return err
			}

			return writeProbeOutput(cmd, results, asJSON)
		},
	}

	addKindFlag(cmd, &kind)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the probe results as JSON")
	cmd.Flags().IntVar(&parallel, "parallel", application.DefaultProbeOptions().Parallelism, "Handshakes in flight at once")
	cmd.Flags().DurationVar(&timeout, "timeout", application.DefaultProbeOptions().Timeout, "Timeout of each handshake")

	return cmd
}

func writeProbeOutput(cmd *cobra.Command, results application.ProbeResults, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	for _, result := range results {
		if result.OK {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\tok\t%.2f\n", result.ID, result.SuccessRate)
			continue
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\tfailed\t%.2f\t%s\n", result.ID, result.SuccessRate, sanitizeForTerminal(result.Error))
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "passed %d/%d\n", results.Passed(), len(results))
	return err
}
