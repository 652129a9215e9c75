package utils

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // Register the JPEG decoder for DecodeConfig
	"io"
	"os"
	"os/exec"
	"strconv"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (Python logs)
// This ensures we don't lose critical crash information if a worker dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe
// It prepares the command for execution but does not start it.
func NewSafeCommand(name string, args ...string) *SafeCommand {
	cmd := exec.Command(name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box to stderr and dumps captured process logs if a
// SafeCommand is provided. Commands still return the error so cobra sets the exit code.
func ShowError(context string, err error, s *SafeCommand) {
	writeErrorBox(os.Stderr, context, err, s)
}

func writeErrorBox(w io.Writer, context string, err error, s *SafeCommand) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "🚨 ATTENTION ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(w, "DETAILS: %v\n", err)
	}
	if s != nil && s.Stderr != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(w, "\nWORKER LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// --- 2. Video Engine ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// EstimateFrames predicts how many frames ffmpeg will emit for a file at fps, for the progress bar.
// It returns -1 when the duration is unknown, which switches progressbar to a spinner.
func EstimateFrames(path string, fps int) int {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  ffprobe not found. Progress will be shown as a spinner.\n")
		return -1
	}
	d := GetDuration(path)
	if d <= 0 {
		return -1
	}
	return int(d*float64(fps)) + 1
}

// GetDuration returns the media duration in seconds via ffprobe, or 0 if unknown.
func GetDuration(path string) float64 {
	out, err := exec.Command("ffprobe", "-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", path).Output()
	if err != nil {
		return 0
	}
	d, err := strconv.ParseFloat(string(bytes.TrimSpace(out)), 64)
	if err != nil {
		return 0
	}
	return d
}

// SplitJpeg is the custom splitter for bufio.Scanner
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// NewFFmpegCmd creates a decoder pipe that emits MJPEG frames at a fixed rate on Stdout.
// format selects a capture device demuxer (e.g. "v4l2", "avfoundation"); empty reads a file.
func NewFFmpegCmd(input, format string, fps int) *exec.Cmd {
	// -hide_banner and -loglevel error keep the stderr buffer small
	args := []string{"-hide_banner", "-loglevel", "error"}
	if format != "" {
		args = append(args, "-f", format)
	}
	args = append(args,
		"-i", input,
		"-vf", fmt.Sprintf("fps=%d", fps),
		"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-")
	return exec.Command("ffmpeg", args...)
}

// FrameDimensions reads the pixel size from a JPEG header without decoding the image.
func FrameDimensions(jpeg []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(jpeg))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
