package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danmuck/brainrot"
	"github.com/spf13/cobra"
)

func newDecodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode protocol lines from stdin and print each frame as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			strict, _ := cmd.Flags().GetBool("strict")
			out := json.NewEncoder(cmd.OutOrStdout())
			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 0, 1024), 64*1024)
			lineNo := 0
			for scanner.Scan() {
				lineNo++
				line := strings.TrimRight(scanner.Text(), "\r")
				if line == "" {
					continue
				}
				f, err := brainrot.Decode(line)
				if err != nil {
					if strict {
						return fmt.Errorf("line %d: %w", lineNo, err)
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "line %d: %v\n", lineNo, err)
					continue
				}
				if err := out.Encode(f); err != nil {
					return err
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().Bool("strict", false, "stop at the first line that fails to decode")
	return cmd
}
