package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/harunnryd/mihari/internal/pipeline"
	"github.com/harunnryd/mihari/internal/scheduler"
	"github.com/harunnryd/mihari/internal/store"

	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduled refresh sweeps until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		runner := pipeline.NewRunner(cfg, st)
		sched, err := scheduler.New(cfg.Scheduler, runner, st, accountFlag(cmd))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := sched.Start(ctx); err != nil {
			return err
		}
		slog.Info("Mihari daemon running", "schedule", cfg.Scheduler.Schedule)

		<-ctx.Done()
		stop()
		return sched.Stop(context.Background())
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
