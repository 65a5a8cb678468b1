package main

import (
	"fmt"

	"github.com/danmuck/brainrot/internal/logging"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "brainrotctl",
		Short:         "brainrotctl runs and inspects a supervised IRC client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime("brainrotctl")
			level, _ := cmd.Flags().GetString("log-level")
			if level != "" && !logging.SetLevel(level) {
				return fmt.Errorf("unknown log level %q", level)
			}
			return nil
		},
	}
	root.PersistentFlags().String("log-level", "", "override the log level (trace, debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(),
		newDecodeCmd(),
		newConfigCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)
	return root
}
