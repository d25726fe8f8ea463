package main

import (
	"context"
	"time"

	"github.com/harunnryd/mihari/internal/pipeline"
	"github.com/harunnryd/mihari/internal/store"

	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [project]",
	Short: "Run the pipeline once, for one project or the whole account",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		runner := pipeline.NewRunner(cfg, st)
		account := accountFlag(cmd)
		now := time.Now().UTC()

		ctx := context.Background()
		if len(args) == 1 {
			return runner.Refresh(ctx, account, args[0], now)
		}
		return runner.RefreshAll(ctx, account, now)
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}
