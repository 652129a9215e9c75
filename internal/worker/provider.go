package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/novi-app/attention/internal/types"
	"github.com/novi-app/attention/internal/utils"
	"github.com/sirupsen/logrus"
)

// ErrWorkerDown is returned for frames after the worker process has failed.
var ErrWorkerDown = errors.New("landmark worker is not running")

// Provider adapts a LandmarkWorker to the engine's landmark provider contract.
// Frames are processed one at a time.
type Provider struct {
	cfg   Config
	log   logrus.FieldLogger
	spawn func(id int, cfg Config) (frameWorker, error)

	mu      sync.Mutex
	w       frameWorker
	lastCmd *utils.SafeCommand
	failed  error
}

// frameWorker is the part of LandmarkWorker the provider uses.
type frameWorker interface {
	AwaitReady(timeout time.Duration) error
	ProcessFrame(jpeg []byte) ([]types.LandmarkSet, error)
	Close() error
	Command() *utils.SafeCommand
}

// Command exposes the process wrapper so callers can print captured stderr.
func (w *LandmarkWorker) Command() *utils.SafeCommand { return w.Cmd }

func NewProvider(cfg Config, log logrus.FieldLogger) *Provider {
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 60 * time.Second
	}
	return &Provider{
		cfg: cfg,
		log: log,
		spawn: func(id int, cfg Config) (frameWorker, error) {
			return NewLandmarkWorker(id, cfg)
		},
	}
}

// Setup starts the worker and waits for the model to load.
func (p *Provider) Setup(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, err := p.spawn(0, p.cfg)
	if err != nil {
		return err
	}
	p.lastCmd = w.Command()

	timeout := p.cfg.StartupTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	if err := w.AwaitReady(timeout); err != nil {
		w.Close()
		return fmt.Errorf("worker did not become ready: %w", err)
	}

	p.w = w
	p.failed = nil
	p.log.WithField("script", p.cfg.Script).Debug("Landmark worker ready")
	return nil
}

// Detect returns the first face mesh in the frame. The worker orders faces largest first.
func (p *Provider) Detect(ctx context.Context, frame types.Frame) (types.LandmarkSet, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.w == nil {
		return nil, false, ErrWorkerDown
	}
	if p.failed != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrWorkerDown, p.failed)
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	faces, err := p.w.ProcessFrame(frame.Data)
	if err != nil {
		if !errors.Is(err, ErrWorker) {
			// I/O failure or garbage: the process is unusable from here on.
			p.failed = err
			p.log.WithError(err).Error("Landmark worker failed")
		}
		return nil, false, err
	}
	if len(faces) == 0 {
		return nil, false, nil
	}
	return faces[0], true, nil
}

// Close stops the worker process.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.w == nil {
		return nil
	}
	err := p.w.Close()
	p.w = nil
	return err
}

// Command returns the most recently spawned worker's process wrapper (even after it exited),
// or nil if none was started.
func (p *Provider) Command() *utils.SafeCommand {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCmd
}

// Err returns the failure that took the worker down, or nil while it is healthy.
func (p *Provider) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}
