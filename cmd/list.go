package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/novi-app/attention/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:         "list [meeting_id]",
	Short:       "List meetings, or the participants of one meeting",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{annotationDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if len(args) == 1 {
			return runListParticipants(cmd.Context(), args[0])
		}
		return runListMeetings(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runListMeetings(ctx context.Context) error {
	meetings, err := DB.ListMeetings(ctx)
	if err != nil {
		utils.ShowError("Failed to list meetings", err, nil)
		return err
	}

	if len(meetings) == 0 {
		fmt.Println("No meetings found in database.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "MEETING\tPARTICIPANTS\tLAST UPDATE")
	fmt.Fprintln(w, "-------\t------------\t-----------")

	for _, m := range meetings {
		fmt.Fprintf(w, "%s\t%d\t%s\n", m.ID, m.Participants, m.LastUpdate.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runListParticipants(ctx context.Context, meetingID string) error {
	rows, err := DB.ListMeeting(ctx, meetingID)
	if err != nil {
		utils.ShowError("Failed to list participants", err, nil)
		return err
	}

	if len(rows) == 0 {
		fmt.Printf("No participants found for meeting %s.\n", meetingID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCHECKS\tFOCUS\tPEAK\tUPDATED")
	fmt.Fprintln(w, "--\t----\t------\t------\t-----\t----\t-------")

	for _, p := range rows {
		stats := p.Record().Stats()
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d%% (%s)\t%d%%\t%s\n",
			p.ParticipantID,
			p.Name,
			p.Status,
			stats.TotalChecks,
			stats.FocusScore(),
			stats.Band(),
			stats.PeakDistractedPct,
			p.UpdatedAt.Local().Format("15:04:05"),
		)
	}
	return w.Flush()
}
