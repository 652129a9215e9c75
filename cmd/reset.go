package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/novi-app/attention/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetTables  bool
	resetJournal bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset stored state (PostgreSQL tables, local journal)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		reader := bufio.NewReader(os.Stdin)

		// If no flags are set, default to clearing EVERYTHING
		if !resetTables && !resetJournal {
			resetTables = true
			resetJournal = true
		}

		if resetTables {
			if confirm(reader, "⚠️  Are you sure you want to DROP all database tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := connectDB(cmd.Context()); err != nil {
					utils.ShowError("Failed to connect to database", err, nil)
					return err
				}
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset database", err, nil)
					return err
				}
			}
		}

		if resetJournal {
			path := Cfg.JournalPath
			switch {
			case path == "":
				fmt.Fprintln(os.Stderr, "⚠️  No journal configured (ATTENTION_JOURNAL); skipping.")
			case confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete the journal at %s?", path)):
				fmt.Println("🗑️  Clearing Journal...")
				// WAL mode leaves sidecar files next to the database.
				for _, p := range []string{path, path + "-wal", path + "-shm"} {
					removeFile(p)
				}
			}
		}

		fmt.Println("✨ Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetTables, "tables", false, "Drop the PostgreSQL tables")
	resetCmd.Flags().BoolVar(&resetJournal, "journal", false, "Delete the local SQLite journal")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
