package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/saleslist-enrich/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "saleslist-enrich",
	Short: "Enrichment and review pipeline for the sales-list backend",
	Long:  "Collects corporate data from the corporate-number registry, open-data lists and an AI search API, gates findings into review candidates, and tracks every run in a job ledger.",
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
