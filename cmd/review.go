package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/recruit-intake/pkg/notion"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work with the manual review queue",
}

func openReviewBoard() (*notion.Board, error) {
	board := newReviewBoard()
	if board == nil {
		return nil, eris.New("notion.token and notion.review_db must be configured")
	}
	return board, nil
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open entries in the Notion review queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := openReviewBoard()
		if err != nil {
			return err
		}

		entries, err := board.ListOpen(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "EVENT\tERROR CLASS\tCORRELATION ID\tPAGE")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.EventID, e.ErrorClass, e.CorrelationID, e.PageID)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d open review(s)\n", len(entries))
		return nil
	},
}

var reviewCloseCmd = &cobra.Command{
	Use:   "close <page-id>",
	Short: "Mark a review queue entry done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := openReviewBoard()
		if err != nil {
			return err
		}

		if err := board.Close(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("closed review %s\n", args[0])
		return nil
	},
}

func init() {
	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewCloseCmd)
	rootCmd.AddCommand(reviewCmd)
}
