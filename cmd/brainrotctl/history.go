package main

import (
	"encoding/json"

	"github.com/danmuck/brainrot/internal/relay"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent events relayed to Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("redis")
			password, _ := cmd.Flags().GetString("password")
			db, _ := cmd.Flags().GetInt("db")
			channel, _ := cmd.Flags().GetString("channel")
			limit, _ := cmd.Flags().GetInt("limit")

			p, err := relay.New(addr, password, db, channel)
			if err != nil {
				return err
			}
			defer p.Close()

			history, err := p.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, env := range history {
				if err := enc.Encode(env); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().String("redis", "127.0.0.1:6379", "redis address")
	cmd.Flags().String("password", "", "redis password")
	cmd.Flags().Int("db", 0, "redis database")
	cmd.Flags().String("channel", relay.DefaultChannel, "relay channel")
	cmd.Flags().Int("limit", 20, "number of events to print")
	return cmd
}
