package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/harunnryd/mihari/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export <project>",
	Short: "Dump a project's derived state to a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		account := accountFlag(cmd)
		project := args[0]
		out, _ := cmd.Flags().GetString("out")
		includeHidden, _ := cmd.Flags().GetBool("include-hidden")
		ctx := context.Background()

		signals, err := st.ListSignals(ctx, account, project)
		if err != nil {
			return err
		}
		scores, err := st.ListScores(ctx, account, project)
		if err != nil {
			return err
		}
		snapshots, err := st.ListSnapshotRange(ctx, account, project, "0000-01-01", "9999-12-31")
		if err != nil {
			return err
		}
		outcomes, err := st.ListOutcomes(ctx, account, project)
		if err != nil {
			return err
		}
		forecasts, err := st.ListForecasts(ctx, account, project, includeHidden)
		if err != nil {
			return err
		}
		recs, err := st.ListRecommendations(ctx, account, project, includeHidden)
		if err != nil {
			return err
		}

		dump, err := json.MarshalIndent(map[string]any{
			"account":         account,
			"project":         project,
			"signals":         signals,
			"scores":          scores,
			"snapshots":       snapshots,
			"case_outcomes":   outcomes,
			"forecasts":       forecasts,
			"recommendations": recs,
		}, "", "  ")
		if err != nil {
			return err
		}

		// Atomic replace keeps a concurrent reader from seeing a torn file.
		if err := atomic.WriteFile(out, bytes.NewReader(dump)); err != nil {
			return err
		}
		slog.Info("Export written", "project", project, "path", out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().String("out", "mihari-export.json", "output file path")
	exportCmd.Flags().Bool("include-hidden", false, "include gate-hidden and unpublishable rows")
}
