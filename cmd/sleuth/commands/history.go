package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/moolen/sleuth/internal/report"
	"github.com/moolen/sleuth/internal/store"
	"github.com/spf13/cobra"
)

var (
	historyLimit    int
	historyScenario string
	historyRunID    string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show archived runs",
	Long: `List archived runs, most recent first, or show a single run in full.

Examples:
  sleuth history --limit 20
  sleuth history --scenario bad-deploy
  sleuth history --run run-6f1c...`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of runs listed")
	historyCmd.Flags().StringVar(&historyScenario, "scenario", "", "Only list runs of this scenario")
	historyCmd.Flags().StringVar(&historyRunID, "run", "", "Show one run in full")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if cfg.Store.Path == "" {
		return errors.New("store.path is not configured")
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	w := cmd.OutOrStdout()

	if historyRunID != "" {
		rec, err := st.GetRun(ctx, historyRunID)
		if err != nil {
			return err
		}
		fmt.Fprint(w, report.Run(rec.Run, rec.Evaluation))
		return nil
	}

	runs, err := st.ListRuns(ctx, store.ListOptions{Scenario: historyScenario, Limit: historyLimit})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs archived yet.")
		return nil
	}
	fmt.Fprint(w, report.Summary(historyEntries(runs)))
	return nil
}

func historyEntries(runs []store.Summary) []report.Entry {
	entries := make([]report.Entry, len(runs))
	for i, r := range runs {
		entries[i] = report.Entry{
			Scenario:  r.Scenario,
			RunID:     r.RunID,
			Status:    r.Status,
			Steps:     r.StepCount,
			Evaluated: r.Evaluated,
			Success:   r.Success,
			Score:     r.Score,
		}
	}
	return entries
}
