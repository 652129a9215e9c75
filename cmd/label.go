package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/novi-app/attention/internal/store"
	"github.com/novi-app/attention/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:         "label <meeting_id> <participant_id> <name>",
	Short:       "Change the display name stored for a participant",
	Args:        cobra.ExactArgs(3),
	Annotations: map[string]string{annotationDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runLabel(cmd.Context(), args[0], args[1], args[2])
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

func runLabel(ctx context.Context, meetingID, participantID, name string) error {
	if err := DB.RenameParticipant(ctx, meetingID, participantID, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = fmt.Errorf("participant %s is not in meeting %s: %w", participantID, meetingID, err)
		}
		utils.ShowError("Failed to label participant", err, nil)
		return err
	}

	fmt.Printf("✅ Participant %s labeled as '%s'\n", participantID, name)
	return nil
}
