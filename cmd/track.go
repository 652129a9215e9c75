package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/novi-app/attention/internal/attention"
	"github.com/novi-app/attention/internal/engine"
	"github.com/novi-app/attention/internal/journal"
	"github.com/novi-app/attention/internal/media"
	"github.com/novi-app/attention/internal/telemetry"
	"github.com/novi-app/attention/internal/utils"
	"github.com/novi-app/attention/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	dispatchQueue   = 64
	dispatchTimeout = 5 * time.Second
	drainTimeout    = 5 * time.Second
)

// TrackOptions holds the configuration of one tracking run.
type TrackOptions struct {
	InputPath       string
	Format          string
	FPS             int
	MeetingID       string
	ParticipantID   string
	Name            string
	EmitInterval    time.Duration
	NoFaceThreshold int
	SinkURL         string
	JournalPath     string
	Resume          bool
	UseStore        bool
	WorkerTimeout   time.Duration
}

var trackOpts TrackOptions

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Track a participant's attention from a video file or capture device",
	Long: `Decodes frames with ffmpeg, runs the face-mesh worker on each one and classifies
gaze as FOCUSED, DISTRACTED or NO FACE. Throttled reports go to every configured
sink: the HTTP telemetry server (--sink-url), PostgreSQL (--store) and the local
journal (--journal). Smoothing and counting advance on the same throttled ticks,
so every check is reported. On exit the final counts are journaled, which is
where --resume picks up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		fromConfig(cmd, "fps", &trackOpts.FPS, Cfg.FPS)
		fromConfig(cmd, "interval", &trackOpts.EmitInterval, Cfg.EmitInterval)
		fromConfig(cmd, "no-face-threshold", &trackOpts.NoFaceThreshold, Cfg.NoFaceThreshold)
		fromConfig(cmd, "sink-url", &trackOpts.SinkURL, Cfg.SinkURL)
		fromConfig(cmd, "journal", &trackOpts.JournalPath, Cfg.JournalPath)
		fromConfig(cmd, "worker-timeout", &trackOpts.WorkerTimeout, Cfg.WorkerTimeout)
		return runTrack(cmd.Context(), trackOpts)
	},
}

func init() {
	f := trackCmd.Flags()
	f.StringVarP(&trackOpts.InputPath, "input", "i", "", "Video file, or capture device when --format is set (e.g. /dev/video0)")
	f.StringVarP(&trackOpts.Format, "format", "f", "", "ffmpeg input format for capture devices (v4l2, avfoundation, dshow)")
	f.IntVar(&trackOpts.FPS, "fps", media.DefaultFPS, "Frames per second to analyze (ATTENTION_FPS)")
	f.StringVarP(&trackOpts.MeetingID, "meeting", "m", "local", "Meeting ID reports are filed under")
	f.StringVarP(&trackOpts.ParticipantID, "participant", "p", "", "Participant ID of the tracked subject")
	f.StringVarP(&trackOpts.Name, "name", "n", "", "Display name (defaults to the participant ID)")
	f.DurationVar(&trackOpts.EmitInterval, "interval", attention.DefaultEmitInterval, "Minimum time between reports (ATTENTION_EMIT_INTERVAL)")
	f.IntVar(&trackOpts.NoFaceThreshold, "no-face-threshold", attention.DefaultNoFaceThreshold, "Consecutive NO FACE frames before the status changes (ATTENTION_NO_FACE_THRESHOLD)")
	f.StringVar(&trackOpts.SinkURL, "sink-url", "", "Base URL of the telemetry server (ATTENTION_SINK_URL)")
	f.StringVar(&trackOpts.JournalPath, "journal", "", "SQLite journal of emitted reports (ATTENTION_JOURNAL)")
	f.BoolVar(&trackOpts.Resume, "resume", false, "Continue counting from the participant's last journaled snapshot (each run journals its final counts on exit)")
	f.BoolVar(&trackOpts.UseStore, "store", false, "Write reports straight to PostgreSQL")
	f.DurationVar(&trackOpts.WorkerTimeout, "worker-timeout", 10*time.Second, "Per-frame landmark worker timeout (ATTENTION_WORKER_TIMEOUT)")

	trackCmd.MarkFlagRequired("input")
	trackCmd.MarkFlagRequired("participant")
	rootCmd.AddCommand(trackCmd)
}

// runTrack wires the media source, landmark worker, engine and telemetry sinks together and
// runs until the input ends or the process is interrupted.
func runTrack(ctx context.Context, opts TrackOptions) error {
	if err := validateTrackFlags(&opts); err != nil {
		utils.ShowError("Invalid arguments", err, nil)
		return err
	}
	log := Log.WithFields(logrus.Fields{"meeting": opts.MeetingID, "participant": opts.ParticipantID})

	// 1. Sinks
	var transports []telemetry.Transport
	if opts.SinkURL != "" {
		transports = append(transports, telemetry.NewHTTPTransport(opts.SinkURL, opts.MeetingID, dispatchTimeout))
	}
	if opts.UseStore {
		transports = append(transports, telemetry.NewStoreTransport(DB, opts.MeetingID))
	}

	var seed *attention.AggregateStats
	if opts.JournalPath != "" {
		j, err := journal.Open(opts.JournalPath)
		if err != nil {
			utils.ShowError("Failed to open journal", err, nil)
			return err
		}
		defer j.Close()
		transports = append(transports, telemetry.NewJournalTransport(j))

		if opts.Resume {
			last, err := j.Latest(ctx, opts.ParticipantID)
			if err != nil {
				utils.ShowError("Failed to read journal", err, nil)
				return err
			}
			if last != nil {
				seed = &last.Report.Stats
				fmt.Fprintf(os.Stderr, "↩️  Resuming from %d checks (%d%% distracted)\n", seed.TotalChecks, seed.CurrentDistractedPct)
			}
		}
	}
	if len(transports) == 0 {
		log.Warn("No telemetry sink configured; reports are only shown locally")
	}

	dispatcher := telemetry.NewDispatcher(log, dispatchQueue, dispatchTimeout, transports...)
	drain := func() {
		dctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := dispatcher.Close(dctx); err != nil {
			log.WithError(err).Warn("Telemetry queue not drained before exit")
		}
	}
	defer drain()

	// 2. Engine
	total := -1
	if opts.Format == "" {
		total = utils.EstimateFrames(opts.InputPath, opts.FPS)
	}
	g := newGauge(total)

	provider := worker.NewProvider(worker.Config{
		Command:     Cfg.WorkerCmd,
		Script:      Cfg.WorkerScript,
		ReadTimeout: opts.WorkerTimeout,
	}, log)
	driver := engine.New(engine.Config{
		SubjectID:       opts.ParticipantID,
		DisplayName:     opts.Name,
		EmitInterval:    opts.EmitInterval,
		NoFaceThreshold: opts.NoFaceThreshold,
	}, provider,
		engine.WithLogger(log),
		engine.WithSink(dispatcher),
		engine.WithPresenter(g),
	)
	defer driver.Close()

	fmt.Fprintln(os.Stderr, "🚀 Starting landmark worker...")
	if err := driver.Init(ctx); err != nil {
		utils.ShowError("Landmark worker failed to start", err, provider.Command())
		return err
	}

	var handle *engine.Handle
	sessionOpts := []engine.SessionOption{
		engine.WithOnStop(func() {
			rctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			// The closing snapshot lands in the journal ahead of the removal signal.
			if r, ok := handle.Report(); ok {
				dispatcher.Finalize(rctx, r)
			}
			dispatcher.Remove(rctx, opts.ParticipantID)
		}),
	}
	if seed != nil {
		sessionOpts = append(sessionOpts, engine.WithSeed(*seed))
	}
	h, err := driver.Enable(sessionOpts...)
	if err != nil {
		utils.ShowError("Failed to start tracking", err, nil)
		return err
	}
	handle = h

	// 3. Frames
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	buffer := opts.FPS
	if opts.Format != "" {
		buffer = 1
	}
	src, err := media.Open(runCtx, media.Options{
		Input:    opts.InputPath,
		Format:   opts.Format,
		FPS:      opts.FPS,
		Buffer:   buffer,
		Realtime: opts.Format != "",
	}, log)
	if err != nil {
		handle.Stop()
		utils.ShowError("Failed to open input", err, nil)
		return err
	}

	runErr := driver.Run(runCtx, src.Frames())
	handle.Stop()
	cancel()
	srcErr := src.Wait()
	g.Finish()
	drain()

	snap := driver.Snapshot()
	read, dropped := src.Counts()
	printTrackSummary(os.Stderr, snap, read, dropped, dispatcher.Stats())

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		utils.ShowError("Tracking failed", runErr, nil)
		return runErr
	}
	if srcErr != nil {
		utils.ShowError("FFmpeg execution failed", srcErr, src.Command())
		return srcErr
	}
	if err := provider.Err(); err != nil {
		utils.ShowError("Landmark worker crashed", err, provider.Command())
		return err
	}
	return nil
}

// validateTrackFlags ensures all CLI arguments are valid before starting heavy processes.
func validateTrackFlags(opts *TrackOptions) error {
	if opts.InputPath == "" {
		return errors.New("--input is required")
	}
	if opts.Format == "" {
		info, err := os.Stat(opts.InputPath)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("input file does not exist: %w", err)
			}
			return fmt.Errorf("unable to access input file: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("input path %s is a directory, expected a video file", opts.InputPath)
		}
	}
	if opts.ParticipantID == "" {
		return errors.New("--participant is required")
	}
	if opts.Name == "" {
		opts.Name = opts.ParticipantID
	}
	if opts.MeetingID == "" {
		return errors.New("--meeting must not be empty")
	}
	if opts.FPS < 1 {
		return fmt.Errorf("invalid fps: must be >= 1, got %d", opts.FPS)
	}
	if opts.EmitInterval <= 0 {
		return fmt.Errorf("invalid interval: must be positive, got %s", opts.EmitInterval)
	}
	if opts.NoFaceThreshold < 1 {
		return fmt.Errorf("invalid no-face-threshold: must be >= 1, got %d", opts.NoFaceThreshold)
	}
	if opts.WorkerTimeout <= 0 {
		return fmt.Errorf("invalid worker-timeout: must be positive, got %s", opts.WorkerTimeout)
	}
	if opts.Resume && opts.JournalPath == "" {
		return errors.New("--resume needs a journal (--journal or ATTENTION_JOURNAL)")
	}
	return nil
}

// gauge renders every processed frame as a progress bar with the live status and focus score.
type gauge struct {
	bar *progressbar.ProgressBar
}

func newGauge(total int) *gauge {
	return &gauge{bar: progressbar.NewOptions(total,
		progressbar.OptionSetDescription("👁️  Starting"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(100*time.Millisecond),
	)}
}

func (g *gauge) Present(u engine.Update) {
	g.bar.Describe(fmt.Sprintf("👁️  %-10s focus %3d%% (%s)", u.Status, u.Stats.FocusScore(), u.Stats.Band()))
	g.bar.Add(1)
}

func (g *gauge) Finish() {
	g.bar.Finish()
}

func printTrackSummary(w io.Writer, snap engine.Snapshot, read, dropped uint64, ts telemetry.Stats) {
	s := snap.Stats
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "📊 ATTENTION SUMMARY\n")
	fmt.Fprintf(w, "---------------------------------------------------------\n")
	fmt.Fprintf(w, "🎞️  Frames read:          %d (%d dropped)\n", read, dropped)
	fmt.Fprintf(w, "✅ Checks:               %d (%d distracted)\n", s.TotalChecks, s.DistractedChecks)
	fmt.Fprintf(w, "🎯 Focus score:          %d%% (%s)\n", s.FocusScore(), s.Band())
	if s.PeakDistractedAt.IsZero() {
		fmt.Fprintf(w, "📈 Peak distraction:     %d%%\n", s.PeakDistractedPct)
	} else {
		fmt.Fprintf(w, "📈 Peak distraction:     %d%% at %s\n", s.PeakDistractedPct, s.PeakDistractedAt.Local().Format("15:04:05"))
	}
	fmt.Fprintf(w, "📡 Reports:              %d sent, %d failed, %d dropped\n", ts.Sent, ts.Failed, ts.Dropped)
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}
