package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/mihari/internal/store"

	"github.com/spf13/cobra"
)

var recCmd = &cobra.Command{
	Use:   "rec",
	Short: "Manage recommendations",
}

var recStatusCmd = &cobra.Command{
	Use:   "status <dedupe_key> <new|acknowledged|done|dismissed>",
	Short: "Transition a recommendation's status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.UpdateRecommendationStatus(context.Background(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("recommendation %s -> %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recCmd)
	recCmd.AddCommand(recStatusCmd)
}
