package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/novi-app/attention/internal/config"
	"github.com/novi-app/attention/internal/logging"
	"github.com/novi-app/attention/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// annotationDB marks commands that always need the PostgreSQL store.
const annotationDB = "needs-db"

var (
	// DB is the database connection shared by subcommands that need it
	DB *store.Store
	// Cfg is the environment configuration, loaded before any command runs
	Cfg *config.Config
	// Log is the process logger
	Log *logrus.Logger

	dbURL     string
	logLevel  string
	logFormat string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "attention",
	Short:   "Real-time gaze-based attention tracking for meeting participants",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load()
		if err != nil {
			return err
		}

		if !cmd.Flags().Changed("log-level") {
			logLevel = Cfg.LogLevel
		}
		if !cmd.Flags().Changed("log-format") {
			logFormat = Cfg.LogFormat
		}
		Log, err = logging.New(logLevel, logFormat)
		if err != nil {
			return fmt.Errorf("invalid logging configuration: %w", err)
		}

		if !needsDB(cmd) {
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		return connectDB(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
	},
}

// connectDB opens the shared store unless it is already open.
func connectDB(ctx context.Context) error {
	if DB != nil {
		return nil
	}
	url := dbURL
	if url == "" {
		url = Cfg.DSN()
		Log.WithField("dsn", Cfg.DSNForLog()).Debug("Connecting to database")
	}

	var err error
	DB, err = store.New(ctx, url, Log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

// needsDB reports whether cmd connects to PostgreSQL: always when annotated, or when its
// --store flag is set.
func needsDB(cmd *cobra.Command) bool {
	if cmd.Annotations[annotationDB] == "true" {
		return true
	}
	if f := cmd.Flags().Lookup("store"); f != nil {
		return f.Value.String() == "true"
	}
	return false
}

// fromConfig copies v into dst unless the user set the flag explicitly.
func fromConfig[T any](cmd *cobra.Command, flag string, dst *T, v T) {
	if !cmd.Flags().Changed(flag) {
		*dst = v
	}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: built from POSTGRES_* or postgres://localhost:5432/attention)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json); overrides LOG_FORMAT")
}
