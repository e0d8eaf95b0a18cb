package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/recruit-intake/internal/config"
	"github.com/sells-group/recruit-intake/internal/selector"
)

var (
	cfg       *config.Config
	tiersFile string
)

var rootCmd = &cobra.Command{
	Use:   "recruit-intake",
	Short: "Resilient recruiting email ingestion",
	Long:  "Accepts recruiting events, extracts candidate profiles via tiered Claude models with a rule-based fallback, and writes idempotent Lead upserts to Salesforce.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		// A tier table file beats whatever the main config carries.
		if tiersFile != "" {
			selCfg, err := selector.LoadConfig(tiersFile)
			if err != nil {
				return err
			}
			cfg.Selector = selCfg
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&tiersFile, "tiers", "", "path to a YAML tier table overriding the main config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
