package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bnema/rotor/internal/adapters/driver/sim"
	"github.com/bnema/rotor/internal/adapters/httpstatus"
	"github.com/bnema/rotor/internal/application"
	"github.com/bnema/rotor/internal/ports"
)

type runOptions struct {
	sessions         int
	addr             string
	duration         time.Duration
	activityInterval time.Duration
}

func newRunCmd(app *app) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the fleet with the simulated driver and serve its status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("sessions") {
				app.cfg.Fleet.Sessions = opts.sessions
			}
			if opts.addr != "" {
				app.cfg.Status.Addr = opts.addr
			}
			return runFleet(cmd, app, opts)
		},
	}

	cmd.Flags().IntVar(&opts.sessions, "sessions", 0, "Target concurrent sessions (overrides fleet.sessions)")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Status surface listen address (overrides status.addr)")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().DurationVar(&opts.activityInterval, "activity-interval", time.Second, "Interval between simulated actions (0 disables them)")

	return cmd
}

func runFleet(cmd *cobra.Command, app *app, opts runOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	cfg := app.cfg
	logger := app.logger

	orchestratorOpts, err := cfg.OrchestratorOptions()
	if err != nil {
		return err
	}

	store, err := openSnapshotStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close snapshot store", zap.Error(err))
		}
	}()
	logPreviousSnapshot(ctx, store, logger)

	ledger := application.NewActivityLedger(store, ports.SystemClock{}, logger, cfg.LedgerOptions())
	fleet, err := app.pools.LoadFleet(ctx, ledger)
	if err != nil {
		return fmt.Errorf("load fleet: %w", err)
	}

	driver := sim.NewDriver(app.random, sim.Options{
		FailureRate: cfg.Driver.FailureRate,
		DropRate:    cfg.Driver.DropRate,
		Latency:     cfg.Driver.Latency,
		DropCheck:   sim.DefaultOptions().DropCheck,
	}, logger)

	lifecycle := application.NewSessionLifecycle(fleet, driver, app.secretStore, cfg.LifecycleOptions())
	dispatcher := application.NewCountermeasureDispatcher(fleet, lifecycle, cfg.DispatchOptions())
	monitor := application.NewSuspicionMonitor(fleet, dispatcher, cfg.MonitorOptions())
	orchestrator := application.NewOrchestrator(fleet, lifecycle, monitor, dispatcher, sim.Executor{}, app.repos, orchestratorOpts)
	workload := sim.NewWorkload(orchestrator, app.random, opts.activityInterval, logger)

	ln, err := net.Listen("tcp", cfg.Status.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Status.Addr, err)
	}
	server := httpstatus.NewServer(orchestrator, logger)

	logger.Info("fleet starting",
		zap.Int("sessions", orchestratorOpts.Sessions),
		zap.String("status_addr", ln.Addr().String()),
		zap.String("state_dir", cfg.StateDir),
	)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "status surface on http://%s\n", ln.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orchestrator.Run(gctx) })
	g.Go(func() error { return server.Serve(gctx, ln) })
	g.Go(func() error { return workload.Run(gctx) })

	if err := g.Wait(); err != nil {
		return err
	}

	status := orchestrator.Status()
	logger.Info("fleet stopped",
		zap.Int64("terminated", status.Terminated),
		zap.Int("ledger_size", status.Ledger.Size),
		zap.Int("suspicion_level", status.SuspicionLevel),
	)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "fleet stopped: %d sessions terminated, %d ledger entries\n", status.Terminated, status.Ledger.Size)
	return nil
}
