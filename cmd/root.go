package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kuroshio-lab/species-sync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "species-sync",
	Short: "Marine species occurrence sync pipeline",
	Long:  "Fetches occurrence records from OBIS and GBIF, enriches them with WoRMS taxonomy, and maintains a deduplicated curated store.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
