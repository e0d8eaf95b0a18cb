package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	reconcileInterval time.Duration
	reconcileOnce     bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Sweep partially failed events and re-drive their CRM writes",
	Long:  "Finds ledger entries stuck in partial_failed, replays the CRM write from the cached extraction result, and escalates entries that are too old or have nothing cached. Runs once by default; pass --interval to loop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "reconcile")
		if err != nil {
			return err
		}
		defer env.Close()

		runOnce := func() error {
			report, err := env.Reconciler.Run(cmd.Context())
			if err != nil {
				return eris.Wrap(err, "reconcile sweep")
			}
			out, err := json.Marshal(report)
			if err != nil {
				return eris.Wrap(err, "marshal report")
			}
			fmt.Println(string(out))
			return nil
		}

		if reconcileOnce || reconcileInterval <= 0 {
			return runOnce()
		}

		ticker := time.NewTicker(reconcileInterval)
		defer ticker.Stop()

		zap.L().Info("reconciler loop started", zap.Duration("interval", reconcileInterval))
		for {
			if err := runOnce(); err != nil {
				zap.L().Error("reconcile sweep failed", zap.Error(err))
			}
			select {
			case <-cmd.Context().Done():
				return nil
			case <-ticker.C:
			}
		}
	},
}

// reconcileStatusCmd prints a quick health snapshot from the ledger.
var reconcileStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show intake health over the metrics lookback window",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "ledger")
		if err != nil {
			return err
		}
		defer env.Close()

		snapshot, err := env.Collector.Collect(cmd.Context(), cfg.Server.MetricsLookbackHR)
		if err != nil {
			return eris.Wrap(err, "collect metrics")
		}

		out, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal snapshot")
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	reconcileCmd.Flags().DurationVar(&reconcileInterval, "interval", 0, "loop with this period instead of running once")
	reconcileCmd.Flags().BoolVar(&reconcileOnce, "once", false, "force a single sweep even when --interval is set")
	reconcileCmd.AddCommand(reconcileStatusCmd)
	rootCmd.AddCommand(reconcileCmd)
}
