package cmd

import (
	"github.com/spf13/cobra"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	app := &app{}

	rootCmd := &cobra.Command{
		Use:           "rotor",
		Short:         "rotor: identity rotation and suspicion control for a bot fleet",
		Long:          "rotor keeps a fleet of game sessions running on rotating accounts, network routes and client fingerprints, watches the fleet's activity for patterns that look automated and applies countermeasures when suspicion rises.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.wire(cmd)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			app.close()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("state-dir", "", "State directory holding config.toml, pools and snapshots (default ~/.rotor)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "json", "Log format: json or console")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(app),
		newStatusCmd(app),
		newPoolCmd(app),
		newProbeCmd(app),
		newAccountCmd(app),
	)

	return rootCmd
}
