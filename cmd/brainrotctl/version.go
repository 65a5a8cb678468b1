package main

import (
	"fmt"

	"github.com/danmuck/brainrot/internal/observability"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of brainrotctl",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "brainrotctl version %s\n", observability.Version)
		},
	}
}
