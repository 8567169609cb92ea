package main

import (
	"errors"

	"deskwatch/internal/journal"
	"deskwatch/internal/report"

	"github.com/spf13/cobra"
)

// historyCmd lists journaled runs.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs from the journal",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer e.close()

	if e.journal == nil {
		return errors.New("no journal configured (use --journal or journal.path in config)")
	}
	runs, err := e.journal.RecentRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	if historyJSON {
		if runs == nil {
			runs = []journal.Run{}
		}
		return writeJSON(runs, "", cmd.OutOrStdout())
	}
	report.Fprint(cmd.OutOrStdout(), report.History(runs, report.DefaultStyles()))
	return nil
}
