package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/recruit-intake/internal/ledger"
)

var (
	ledgerStatus string
	ledgerSince  time.Duration
	ledgerLimit  int
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the idempotency ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "ledger")
		if err != nil {
			return err
		}
		defer env.Close()

		filter := ledger.Filter{
			Status: ledger.Status(ledgerStatus),
			Limit:  ledgerLimit,
		}
		if ledgerSince > 0 {
			filter.SeenAfter = time.Now().UTC().Add(-ledgerSince)
		}

		records, err := env.Ledger.List(cmd.Context(), filter)
		if err != nil {
			return eris.Wrap(err, "list ledger")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "EXTERNAL ID\tSTATUS\tTIER\tATTEMPTS\tFIRST SEEN\tLEAD\tERROR")
		for _, rec := range records {
			errSummary := rec.ErrorSummary
			if len(errSummary) > 60 {
				errSummary = errSummary[:57] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				rec.ExternalID,
				rec.Status,
				rec.Tier,
				rec.AttemptCount,
				rec.FirstSeenAt.Format(time.RFC3339),
				rec.DownstreamIDs.LeadID,
				errSummary,
			)
		}
		return w.Flush()
	},
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show <external-id>",
	Short: "Show one ledger entry with its cached extraction result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "ledger")
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Ledger.Get(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrapf(err, "get %s", args[0])
		}

		out := map[string]any{"record": rec}
		profile, decision, err := env.Ledger.GetResult(cmd.Context(), args[0])
		if err == nil {
			out["profile"] = profile
			out["decision"] = decision
		} else if !eris.Is(err, ledger.ErrNotFound) {
			return eris.Wrapf(err, "get result %s", args[0])
		}

		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal entry")
		}
		fmt.Println(string(data))
		return nil
	},
}

var ledgerPurgeCmd = &cobra.Command{
	Use:   "purge <external-id>",
	Short: "Remove a ledger entry and its cached result",
	Long:  "Deletes one entry so the event can be reprocessed from scratch. Manual tooling: the pipeline never purges on its own.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "ledger")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Ledger.Purge(cmd.Context(), args[0]); err != nil {
			return eris.Wrapf(err, "purge %s", args[0])
		}
		fmt.Printf("purged %s\n", args[0])
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run ledger schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("ledger"); err != nil {
			return err
		}
		led, err := initLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer led.Close()

		if err := led.Migrate(cmd.Context()); err != nil {
			return eris.Wrap(err, "migrate ledger")
		}
		fmt.Println("migrations applied")
		return nil
	},
}

func init() {
	ledgerListCmd.Flags().StringVar(&ledgerStatus, "status", "", "filter by status (pending, complete, partial_failed)")
	ledgerListCmd.Flags().DurationVar(&ledgerSince, "since", 0, "only entries first seen within this window")
	ledgerListCmd.Flags().IntVar(&ledgerLimit, "limit", 100, "maximum entries to list")
	ledgerCmd.AddCommand(ledgerListCmd, ledgerShowCmd, ledgerPurgeCmd)
	rootCmd.AddCommand(ledgerCmd, migrateCmd)
}
