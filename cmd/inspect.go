package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/novi-app/attention/internal/attention"
	"github.com/novi-app/attention/internal/types"
	"github.com/novi-app/attention/internal/utils"
	"github.com/novi-app/attention/internal/worker"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <image_path>",
	Short: "Classify the gaze in a single JPEG image (threshold tuning aid)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runInspect(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(ctx context.Context, imagePath string) error {
	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}
	width, height, err := utils.FrameDimensions(imgData)
	if err != nil {
		utils.ShowError("Input is not a JPEG image", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting landmark worker...")
	p := worker.NewProvider(worker.Config{
		Command:     Cfg.WorkerCmd,
		Script:      Cfg.WorkerScript,
		ReadTimeout: 60 * time.Second,
	}, Log)
	if err := p.Setup(ctx); err != nil {
		utils.ShowError("Failed to start landmark worker", err, p.Command())
		return err
	}
	defer p.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	lms, found, err := p.Detect(ctx, types.Frame{Width: width, Height: height, Data: imgData})
	if err != nil && p.Err() != nil {
		utils.ShowError("Landmark worker crashed", err, p.Command())
		return err
	}

	c := attention.Classify(attention.Observation{
		Landmarks: lms,
		Found:     found,
		Err:       err,
		Width:     width,
		Height:    height,
	})
	printClassification(c, width, height, len(lms))
	return nil
}

func printClassification(c attention.Classification, width, height, points int) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "IMAGE\t%dx%d\n", width, height)
	fmt.Fprintf(w, "LANDMARKS\t%d\n", points)
	fmt.Fprintf(w, "STATUS\t%s\n", c.Status)
	if c.Err != nil {
		fmt.Fprintf(w, "ERROR\t%v\n", c.Err)
	}
	if c.Gaze != nil {
		fmt.Fprintf(w, "GAZE\t%s\n", c.Gaze.Label)
		fmt.Fprintf(w, "HORIZONTAL RATIO\t%.4f\n", c.Gaze.HorizontalRatio)
		fmt.Fprintf(w, "VERTICAL RATIO\t%.4f\n", c.Gaze.VerticalRatio)
	}
	if c.Posture != nil {
		fmt.Fprintf(w, "HEAD YAW\t%.1f°\n", c.Posture.Yaw)
		fmt.Fprintf(w, "HEAD PITCH\t%.1f°\n", c.Posture.Pitch)
	}
}
