// Package media turns an ffmpeg MJPEG stream into timestamped engine frames.
package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/novi-app/attention/internal/types"
	"github.com/novi-app/attention/internal/utils"
	"github.com/sirupsen/logrus"
)

const megabyte = 1024 * 1024

// DefaultFPS is the analysis rate. With the strict 200ms emit interval, sampling ticks land on
// every 7th frame (about 233ms).
const DefaultFPS = 30

// FrameTimestamp is the stream position of frame seq at the given rate.
func FrameTimestamp(seq uint64, fps int) time.Duration {
	return time.Duration(seq) * (time.Second / time.Duration(fps))
}

// Options configures a capture.
type Options struct {
	Input  string // File path or device name
	Format string // Device demuxer; empty for files
	FPS    int
	Buffer int // Frame channel capacity
	// Realtime drops frames when the consumer falls behind. Files are read with back-pressure
	// instead, since nothing is lost by waiting.
	Realtime bool
}

// Source runs ffmpeg and publishes frames on a channel.
type Source struct {
	opts   Options
	log    logrus.FieldLogger
	cmd    *utils.SafeCommand
	frames chan types.Frame
	done   chan error

	read    atomic.Uint64
	dropped atomic.Uint64
}

// Open starts ffmpeg. The frame channel closes when the stream ends or ctx is cancelled.
func Open(ctx context.Context, opts Options, log logrus.FieldLogger) (*Source, error) {
	if opts.FPS < 1 {
		return nil, fmt.Errorf("fps must be >= 1, got %d", opts.FPS)
	}
	if opts.Buffer < 1 {
		opts.Buffer = 1
	}

	ff := utils.NewFFmpegCmd(opts.Input, opts.Format, opts.FPS)
	sc := &utils.SafeCommand{Cmd: ff, Stderr: &bytes.Buffer{}}
	ff.Stderr = sc.Stderr

	out, err := ff.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create FFmpeg stdout pipe: %w", err)
	}
	if err := ff.Start(); err != nil {
		return nil, fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	s := &Source{
		opts:   opts,
		log:    log,
		cmd:    sc,
		frames: make(chan types.Frame, opts.Buffer),
		done:   make(chan error, 1),
	}

	// Live devices never hit EOF; cancellation has to kill the process.
	stop := context.AfterFunc(ctx, func() { ff.Process.Kill() })

	go func() {
		defer stop()
		scanErr := s.pump(ctx, out)
		waitErr := ff.Wait()
		if scanErr != nil {
			s.done <- scanErr
			return
		}
		if waitErr != nil && ctx.Err() == nil {
			s.done <- fmt.Errorf("ffmpeg: %w", waitErr)
			return
		}
		s.done <- nil
	}()
	return s, nil
}

// Frames returns the frame channel.
func (s *Source) Frames() <-chan types.Frame { return s.frames }

// Wait blocks until ffmpeg has exited and returns its failure, if any.
func (s *Source) Wait() error { return <-s.done }

// Command exposes the ffmpeg wrapper for error reporting.
func (s *Source) Command() *utils.SafeCommand { return s.cmd }

// Counts returns frames read from ffmpeg and frames dropped on a full channel.
func (s *Source) Counts() (read, dropped uint64) {
	return s.read.Load(), s.dropped.Load()
}

// pump splits the stream and publishes frames. It closes the frame channel on return.
func (s *Source) pump(ctx context.Context, r io.Reader) error {
	defer close(s.frames)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	var (
		seq           uint64
		width, height int
	)
	for scanner.Scan() {
		data := make([]byte, len(scanner.Bytes()))
		copy(data, scanner.Bytes())

		// ffmpeg keeps the output size constant, so the header is parsed once.
		if width == 0 {
			w, h, err := utils.FrameDimensions(data)
			if err != nil {
				s.log.WithError(err).Debug("Skipping undecodable frame")
				continue
			}
			width, height = w, h
		}

		f := types.Frame{
			Seq:       seq,
			Timestamp: FrameTimestamp(seq, s.opts.FPS),
			Width:     width,
			Height:    height,
			Data:      data,
		}
		seq++
		s.read.Add(1)

		if s.opts.Realtime {
			select {
			case s.frames <- f:
			case <-ctx.Done():
				return nil
			default:
				s.dropped.Add(1)
			}
			continue
		}
		select {
		case s.frames <- f:
		case <-ctx.Done():
			return nil
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("frame scanner failed: %w", err)
	}
	return nil
}
