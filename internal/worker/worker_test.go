package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/novi-app/attention/internal/types"
	"github.com/novi-app/attention/internal/utils"
	"github.com/sirupsen/logrus"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// writeFrame appends a length-prefixed payload, as Python writes it to FD 3.
func writeFrame(dst *MockCloser, payload []byte) {
	binary.Write(dst, binary.BigEndian, uint32(len(payload)))
	dst.Write(payload)
}

func okPayload(faces ...[]types.Point) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, uint32(len(faces)))
	for _, pts := range faces {
		binary.Write(payload, binary.BigEndian, uint32(len(pts)))
		for _, p := range pts {
			binary.Write(payload, binary.BigEndian, [2]float32{float32(p.X), float32(p.Y)})
		}
	}
	return payload.Bytes()
}

func errPayload(msg string) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusError)
	binary.Write(payload, binary.BigEndian, uint32(len(msg)))
	payload.WriteString(msg)
	return payload.Bytes()
}

func newMockWorker() (*LandmarkWorker, *MockCloser, *MockCloser) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	// Cmd is nil because we aren't testing process management, just the protocol
	return &LandmarkWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}, stdinMock, dataPipeMock
}

func TestProcessFrame(t *testing.T) {
	w, stdinMock, dataPipeMock := newMockWorker()

	first := make([]types.Point, 478)
	first[468] = types.Point{X: 0.5, Y: 0.25}
	second := []types.Point{{X: 0.1, Y: 0.2}}
	writeFrame(dataPipeMock, okPayload(first, second))

	inputFrame := []byte{0xDE, 0xAD, 0xBE, 0xEF} // Fake image bytes
	faces, err := w.ProcessFrame(inputFrame)
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}

	// Verify Go sent the correct data TO Python
	sentData := stdinMock.Bytes()
	if len(sentData) != 4+len(inputFrame) {
		t.Errorf("Expected %d bytes sent, got %d", 4+len(inputFrame), len(sentData))
	}
	if binary.BigEndian.Uint32(sentData[:4]) != uint32(len(inputFrame)) {
		t.Errorf("Length header mismatch: %X", sentData[:4])
	}

	if len(faces) != 2 {
		t.Fatalf("Expected 2 faces, got %d", len(faces))
	}
	if len(faces[0]) != 478 {
		t.Errorf("Expected 478 points, got %d", len(faces[0]))
	}
	if math.Abs(faces[0][468].X-0.5) > 1e-6 || math.Abs(faces[0][468].Y-0.25) > 1e-6 {
		t.Errorf("Expected point 468 approx (0.5, 0.25), got %+v", faces[0][468])
	}
}

func TestProcessFrame_NoFace(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()
	writeFrame(dataPipeMock, okPayload())

	faces, err := w.ProcessFrame([]byte("frame"))
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("Expected no faces, got %d", len(faces))
	}
}

func TestProcessFrame_Error(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()
	errMsg := "Python Exception: cannot decode image"
	writeFrame(dataPipeMock, errPayload(errMsg))

	_, err := w.ProcessFrame([]byte("frame"))
	if !errors.Is(err, ErrWorker) {
		t.Fatalf("Expected ErrWorker, got %v", err)
	}
	if err.Error() != "landmark worker error: "+errMsg {
		t.Errorf("Unexpected error message %q", err.Error())
	}
}

func TestProcessFrame_ProtocolViolations(t *testing.T) {
	truncated := okPayload([]types.Point{{X: 0.1, Y: 0.1}, {X: 0.2, Y: 0.2}})
	truncated = truncated[:len(truncated)-4]

	tooMany := new(bytes.Buffer)
	tooMany.WriteByte(statusOK)
	binary.Write(tooMany, binary.BigEndian, uint32(maxFaces+1))

	tests := []struct {
		name    string
		payload []byte
	}{
		{"unknown status", []byte{9}},
		{"missing face count", []byte{statusOK, 0}},
		{"truncated points", truncated},
		{"too many faces", tooMany.Bytes()},
		{"nan point", okPayload([]types.Point{{X: math.NaN(), Y: 0}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _, dataPipeMock := newMockWorker()
			writeFrame(dataPipeMock, tt.payload)
			if _, err := w.ProcessFrame([]byte("frame")); !errors.Is(err, ErrProtocol) {
				t.Errorf("Expected ErrProtocol, got %v", err)
			}
		})
	}
}

func TestProcessFrame_Crash(t *testing.T) {
	w, _, _ := newMockWorker() // Nothing on the data pipe: the process died
	if _, err := w.ProcessFrame([]byte("frame")); !errors.Is(err, io.EOF) {
		t.Errorf("Expected EOF, got %v", err)
	}
}

func TestAwaitReady(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()
	writeFrame(dataPipeMock, []byte{statusReady})
	if err := w.AwaitReady(time.Second); err != nil {
		t.Fatalf("AwaitReady failed: %v", err)
	}

	w, _, dataPipeMock = newMockWorker()
	writeFrame(dataPipeMock, errPayload("No module named 'mediapipe'"))
	if err := w.AwaitReady(time.Second); !errors.Is(err, ErrWorker) {
		t.Errorf("Expected ErrWorker, got %v", err)
	}
}

// fakeWorker scripts provider-level behavior without a process.
type fakeWorker struct {
	readyErr error
	faces    [][]types.LandmarkSet
	errs     []error
	calls    int
	closed   bool
}

func (f *fakeWorker) AwaitReady(time.Duration) error { return f.readyErr }

func (f *fakeWorker) ProcessFrame([]byte) ([]types.LandmarkSet, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.faces) {
		return f.faces[i], nil
	}
	return nil, nil
}

func (f *fakeWorker) Close() error {
	f.closed = true
	return nil
}

func (f *fakeWorker) Command() *utils.SafeCommand { return nil }

func testProvider(fw *fakeWorker) *Provider {
	l := logrus.New()
	l.SetOutput(io.Discard)
	p := NewProvider(Config{Command: "python3", Script: "worker.py"}, l)
	p.spawn = func(int, Config) (frameWorker, error) { return fw, nil }
	return p
}

func TestProvider(t *testing.T) {
	big := types.LandmarkSet{{X: 0.5, Y: 0.5}}
	small := types.LandmarkSet{{X: 0.1, Y: 0.1}}
	fw := &fakeWorker{
		faces: [][]types.LandmarkSet{{big, small}, nil},
		errs:  []error{nil, nil, ErrWorker},
	}
	p := testProvider(fw)
	ctx := context.Background()

	if _, _, err := p.Detect(ctx, types.Frame{}); !errors.Is(err, ErrWorkerDown) {
		t.Errorf("Expected ErrWorkerDown before Setup, got %v", err)
	}
	if err := p.Setup(ctx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	lms, found, err := p.Detect(ctx, types.Frame{})
	if err != nil || !found || lms[0] != big[0] {
		t.Errorf("Expected the first face, got %v %v %v", lms, found, err)
	}
	if _, found, err := p.Detect(ctx, types.Frame{}); err != nil || found {
		t.Errorf("Expected no face, got found=%v err=%v", found, err)
	}
	// A worker-reported error is per frame; the worker stays usable.
	if _, _, err := p.Detect(ctx, types.Frame{}); !errors.Is(err, ErrWorker) {
		t.Errorf("Expected ErrWorker, got %v", err)
	}
	if _, _, err := p.Detect(ctx, types.Frame{}); err != nil {
		t.Errorf("Expected the worker to keep serving, got %v", err)
	}

	if err := p.Close(); err != nil || !fw.closed {
		t.Errorf("Expected Close to stop the worker, err=%v", err)
	}
}

func TestProvider_BrokenPipe(t *testing.T) {
	fw := &fakeWorker{errs: []error{io.ErrUnexpectedEOF}}
	p := testProvider(fw)
	p.Setup(context.Background())

	if _, _, err := p.Detect(context.Background(), types.Frame{}); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Expected the I/O error, got %v", err)
	}
	if _, _, err := p.Detect(context.Background(), types.Frame{}); !errors.Is(err, ErrWorkerDown) {
		t.Errorf("Expected ErrWorkerDown after an I/O failure, got %v", err)
	}
	if fw.calls != 1 {
		t.Errorf("A dead worker must not be called again, got %d calls", fw.calls)
	}
	if !errors.Is(p.Err(), io.ErrUnexpectedEOF) {
		t.Errorf("Err() = %v, want the I/O failure", p.Err())
	}
}

func TestProvider_SetupFailure(t *testing.T) {
	fw := &fakeWorker{readyErr: errors.New("No module named 'mediapipe'")}
	p := testProvider(fw)
	if err := p.Setup(context.Background()); err == nil {
		t.Fatal("Expected Setup to fail")
	}
	if !fw.closed {
		t.Error("Expected the failed worker to be closed")
	}
	if _, _, err := p.Detect(context.Background(), types.Frame{}); !errors.Is(err, ErrWorkerDown) {
		t.Errorf("Expected ErrWorkerDown, got %v", err)
	}
}
