package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/harunnryd/mihari/internal/store"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list <project>",
	Short: "Show a project's live signals, scores, forecasts, and recommendations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		account := accountFlag(cmd)
		project := args[0]
		includeHidden, _ := cmd.Flags().GetBool("include-hidden")
		asJSON, _ := cmd.Flags().GetBool("json")
		ctx := context.Background()

		signals, err := st.ListSignals(ctx, account, project)
		if err != nil {
			return err
		}
		scores, err := st.ListScores(ctx, account, project)
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

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"project":         project,
				"signals":         signals,
				"scores":          scores,
				"forecasts":       forecasts,
				"recommendations": recs,
			})
		}

		fmt.Printf("Project %s\n\nSignals:\n", project)
		for _, s := range signals {
			fmt.Printf("  %-26s %8.2f  %s\n", s.Key, s.Value, s.Status)
		}
		fmt.Println("\nScores:")
		for _, s := range scores {
			fmt.Printf("  %-26s %8.1f  %s\n", s.Type, s.Value, s.Level)
		}
		fmt.Println("\nForecasts:")
		for _, f := range forecasts {
			fmt.Printf("  %-14s 7d=%.2f 14d=%.2f 30d=%.2f eta=%.0fd confidence=%.2f\n",
				f.RiskType, f.Probability7d, f.Probability14d, f.Probability30d,
				f.ExpectedTimeToRiskDays, f.Confidence)
		}
		fmt.Println("\nRecommendations:")
		for _, r := range recs {
			gate := r.GateStatus
			if r.GateReason != "" {
				gate += " (" + r.GateReason + ")"
			}
			fmt.Printf("  [P%d] %-26s %-12s %s\n       key=%s\n       %s\n",
				r.Priority, r.Category, r.Status, gate, r.DedupeKey, r.SuggestedTemplate)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().Bool("include-hidden", false, "include gate-hidden recommendations and unpublishable forecasts")
	listCmd.Flags().Bool("json", false, "print machine-readable JSON")
}
