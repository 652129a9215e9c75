package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/novi-app/attention/internal/journal"
	"github.com/novi-app/attention/internal/utils"
	"github.com/spf13/cobra"
)

var (
	historyJournal string
	historyLimit   int
	historyReports bool
)

var historyCmd = &cobra.Command{
	Use:   "history <participant_id>",
	Short: "Show a participant's journaled tracking sessions",
	Long: `Lists the sessions journaled by track --journal. Each session holds its throttled
reports followed by a closing snapshot written when tracking stops; the latest
entry is what track --resume continues from.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		fromConfig(cmd, "journal", &historyJournal, Cfg.JournalPath)
		return runHistory(cmd.Context(), args[0])
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyJournal, "journal", "", "SQLite journal path (ATTENTION_JOURNAL)")
	historyCmd.Flags().BoolVarP(&historyReports, "reports", "r", false, "List individual reports instead of sessions")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Maximum reports to list with --reports")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(ctx context.Context, participantID string) error {
	if historyJournal == "" {
		err := errors.New("no journal configured (--journal or ATTENTION_JOURNAL)")
		utils.ShowError("Cannot read history", err, nil)
		return err
	}
	if _, err := os.Stat(historyJournal); err != nil {
		utils.ShowError("Journal does not exist", err, nil)
		return err
	}

	j, err := journal.Open(historyJournal)
	if err != nil {
		utils.ShowError("Failed to open journal", err, nil)
		return err
	}
	defer j.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	defer w.Flush()

	if historyReports {
		entries, err := j.List(ctx, participantID, historyLimit)
		if err != nil {
			utils.ShowError("Failed to list reports", err, nil)
			return err
		}
		if len(entries) == 0 {
			fmt.Printf("No reports journaled for %s.\n", participantID)
			return nil
		}
		fmt.Fprintln(w, "TIME\tSESSION\tSTATUS\tCHECKS\tDISTRACTED\tPEAK")
		fmt.Fprintln(w, "----\t-------\t------\t------\t----------\t----")
		for _, e := range entries {
			r := e.Report
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d%%\t%d%%\n",
				r.EmittedAt.Local().Format("2006-01-02 15:04:05"),
				shortID(e.SessionID),
				r.Status,
				r.Stats.TotalChecks,
				r.Stats.CurrentDistractedPct,
				r.Stats.PeakDistractedPct,
			)
		}
		return nil
	}

	sessions, err := j.Sessions(ctx, participantID)
	if err != nil {
		utils.ShowError("Failed to list sessions", err, nil)
		return err
	}
	if len(sessions) == 0 {
		fmt.Printf("No sessions journaled for %s.\n", participantID)
		return nil
	}
	fmt.Fprintln(w, "SESSION\tSTARTED\tDURATION\tREPORTS\tCHECKS\tFOCUS\tPEAK")
	fmt.Fprintln(w, "-------\t-------\t--------\t-------\t------\t-----\t----")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d%% (%s)\t%d%%\n",
			shortID(s.ID),
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			s.EndedAt.Sub(s.StartedAt).Round(time.Second),
			s.Reports,
			s.Final.TotalChecks,
			s.Final.FocusScore(),
			s.Final.Band(),
			s.Final.PeakDistractedPct,
		)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
