package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/danmuck/brainrot/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check brainrot config files",
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "brainrot.toml"
			if len(args) == 1 {
				path = args[0]
			}
			format, _ := cmd.Flags().GetString("format")
			if format == "" {
				format = strings.TrimPrefix(filepath.Ext(path), ".")
			}
			force, _ := cmd.Flags().GetBool("force")
			if err := config.WriteTemplate(path, format, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().String("format", "", "toml or yaml (default: from the file extension)")
	initCmd.Flags().Bool("force", false, "overwrite an existing file")

	checkCmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Validate a config file and print the resolved settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(args[0])
			if err != nil {
				return err
			}
			settings.Credentials.Password = redact(settings.Credentials.Password)
			settings.Relay.Password = redact(settings.Relay.Password)
			settings.AdminToken = redact(settings.AdminToken)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(settings)
		},
	}

	cmd.AddCommand(initCmd, checkCmd)
	return cmd
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
