package main

import (
	"github.com/spf13/cobra"

	"github.com/hkevin01/wifi-radar/internal/config"
)

type commandContext struct {
	configPath string
	logs       logFlags
	closeLogs  func()
}

// tuning loads the --config file layered over the defaults, or the
// defaults alone.
func (c *commandContext) tuning() (*config.TuningConfig, error) {
	if c.configPath == "" {
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(c.configPath)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "wifiradar",
		Short:         "WiFi CSI pose and track estimation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			closer, err := ctx.logs.apply(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx.closeLogs = closer
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if ctx.closeLogs != nil {
				ctx.closeLogs()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&ctx.configPath, "config", "c", "", "Tuning config file (.json or .yaml); unset keys take defaults")
	flags.StringVar(&ctx.logs.ops, "log-ops", "-", "Ops log destination: file path, '-' for stderr, empty to disable")
	flags.StringVar(&ctx.logs.diag, "log-diag", "", "Diagnostic log destination: file path, '-' for stderr, empty to disable")
	flags.StringVar(&ctx.logs.trace, "log-trace", "", "Per-frame trace log destination: file path, '-' for stderr, empty to disable")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newParamsCommand(ctx))
	rootCmd.AddCommand(newSessionsCommand(ctx))
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
