package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/novi-app/attention/internal/types"
	"github.com/novi-app/attention/internal/utils" // Using the SafeCommand wrapper
)

// Response status bytes written by the Python worker.
const (
	statusOK    = 0
	statusError = 1
	statusReady = 2
)

// Sanity bounds on decoded payloads.
const (
	maxPayload = 16 * 1024 * 1024
	maxFaces   = 16
	maxPoints  = 1024
)

var (
	// ErrWorker is reported by the worker itself (status 1), e.g. a failed decode.
	ErrWorker = errors.New("landmark worker error")
	// ErrProtocol means the response could not be decoded.
	ErrProtocol = errors.New("landmark worker protocol violation")
)

// Config describes how to launch the worker process.
type Config struct {
	Command        string        // Interpreter, e.g. "python3"
	Script         string        // Path to landmark_worker.py
	ReadTimeout    time.Duration // Per-frame response deadline
	StartupTimeout time.Duration // Deadline for the ready handshake (model load)
}

type LandmarkWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration
}

func NewLandmarkWorker(id int, cfg Config) (*LandmarkWorker, error) {
	py := utils.NewSafeCommand(cfg.Command, "-u", cfg.Script)

	// Create a side-channel pipe (FD 3) so Python's stdout prints cannot corrupt the protocol
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &LandmarkWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

// deadliner is implemented by *os.File pipes; in-memory test pipes skip deadlines.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

func (w *LandmarkWorker) setDeadline(d time.Duration) {
	dl, ok := w.DataPipe.(deadliner)
	if !ok {
		return
	}
	if d <= 0 {
		dl.SetReadDeadline(time.Time{})
		return
	}
	dl.SetReadDeadline(time.Now().Add(d))
}

// readFrame reads one [u32 len][payload] frame from the data pipe.
func (w *LandmarkWorker) readFrame(timeout time.Duration) ([]byte, error) {
	w.setDeadline(timeout)

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where a Python crash (EOF) surfaces
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen == 0 || respLen > maxPayload {
		return nil, fmt.Errorf("%w: payload length %d", ErrProtocol, respLen)
	}
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// AwaitReady blocks until the worker reports that its model is loaded.
func (w *LandmarkWorker) AwaitReady(timeout time.Duration) error {
	body, err := w.readFrame(timeout)
	if err != nil {
		return err
	}
	switch body[0] {
	case statusReady:
		return nil
	case statusError:
		return decodeError(body[1:])
	default:
		return fmt.Errorf("%w: expected ready, got status %d", ErrProtocol, body[0])
	}
}

// Communicate sends one frame and returns the raw response payload.
func (w *LandmarkWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}
	return w.readFrame(w.ReadTimeout)
}

// ProcessFrame sends a JPEG and decodes the face meshes found in it.
// An empty result means no face was detected.
func (w *LandmarkWorker) ProcessFrame(jpeg []byte) ([]types.LandmarkSet, error) {
	body, err := w.Communicate(jpeg)
	if err != nil {
		return nil, err
	}
	return decodeResponse(body)
}

// decodeResponse parses [status u8] then, for OK, [u32 faces] and per face [u32 n][n x (f32 x, f32 y)].
func decodeResponse(body []byte) ([]types.LandmarkSet, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrProtocol)
	}
	switch body[0] {
	case statusOK:
	case statusError:
		return nil, decodeError(body[1:])
	default:
		return nil, fmt.Errorf("%w: unknown status %d", ErrProtocol, body[0])
	}

	rd := bytes.NewReader(body[1:])
	var numFaces uint32
	if err := binary.Read(rd, binary.BigEndian, &numFaces); err != nil {
		return nil, fmt.Errorf("%w: face count: %v", ErrProtocol, err)
	}
	if numFaces > maxFaces {
		return nil, fmt.Errorf("%w: %d faces", ErrProtocol, numFaces)
	}

	faces := make([]types.LandmarkSet, 0, numFaces)
	for i := uint32(0); i < numFaces; i++ {
		var n uint32
		if err := binary.Read(rd, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: face %d point count: %v", ErrProtocol, i, err)
		}
		if n > maxPoints || int(n)*8 > rd.Len() {
			return nil, fmt.Errorf("%w: face %d claims %d points", ErrProtocol, i, n)
		}
		raw := make([]float32, 2*n)
		if err := binary.Read(rd, binary.BigEndian, raw); err != nil {
			return nil, fmt.Errorf("%w: face %d points: %v", ErrProtocol, i, err)
		}
		lms := make(types.LandmarkSet, n)
		for j := range lms {
			lms[j] = types.Point{X: float64(raw[2*j]), Y: float64(raw[2*j+1])}
			if math.IsNaN(lms[j].X) || math.IsNaN(lms[j].Y) {
				return nil, fmt.Errorf("%w: face %d point %d is NaN", ErrProtocol, i, j)
			}
		}
		faces = append(faces, lms)
	}
	return faces, nil
}

// decodeError parses [u32 msgLen][msg].
func decodeError(body []byte) error {
	if len(body) < 4 {
		return fmt.Errorf("%w: truncated error message", ErrWorker)
	}
	msgLen := binary.BigEndian.Uint32(body[:4])
	if int(msgLen) > len(body)-4 {
		msgLen = uint32(len(body) - 4)
	}
	return fmt.Errorf("%w: %s", ErrWorker, string(body[4:4+msgLen]))
}

// Close shuts the worker down and waits for it to exit.
func (w *LandmarkWorker) Close() error {
	w.Stdin.Close() // EOF on stdin tells Python to exit its loop
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
