package main

import (
	"fmt"
	"os"

	"github.com/harunnryd/mihari/internal/config"
	"github.com/harunnryd/mihari/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "mihari",
	Short: "Mihari project-health watchtower",
	Long:  `Mihari folds typed business events into signals, scores, risk forecasts, and evidence-gated recommendations per project.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		logger.Setup(cfg.Log.Level)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mihari/config.yaml)")
	rootCmd.PersistentFlags().String("log.level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("store.path", "", "sqlite database path (default is $HOME/.mihari/mihari.db)")
	rootCmd.PersistentFlags().String("account", "default", "tenant account scope")
}

func accountFlag(cmd *cobra.Command) string {
	account, _ := cmd.Flags().GetString("account")
	if account == "" {
		account = "default"
	}
	return account
}
