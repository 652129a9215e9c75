// Package engine drives the per-frame attention pipeline for one tracked subject.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/novi-app/attention/internal/attention"
	"github.com/novi-app/attention/internal/types"
	"github.com/sirupsen/logrus"
)

var (
	// ErrProviderInit wraps a landmark provider setup failure. The driver stays uninitialized.
	ErrProviderInit = errors.New("landmark provider init failed")
	// ErrNotReady is returned by Enable before a successful Init.
	ErrNotReady = errors.New("engine not initialized")
	// ErrAlreadyRunning is returned by Enable while a session is active.
	ErrAlreadyRunning = errors.New("engine already running")
	// ErrNotRunning is returned for frames offered outside an active session.
	ErrNotRunning = errors.New("engine not running")
	// ErrDropped is returned when a frame arrives while the previous one is still in flight.
	ErrDropped = errors.New("frame dropped: previous frame in flight")
)

// LandmarkProvider produces a face mesh per frame.
type LandmarkProvider interface {
	Setup(ctx context.Context) error
	// Detect returns found=false when no face is present. A non-nil error is a provider fault.
	Detect(ctx context.Context, frame types.Frame) (types.LandmarkSet, bool, error)
	Close() error
}

// Sink receives throttled reports. Send is called with the driver lock held; it must not block
// or call back into the driver.
type Sink interface {
	Send(r attention.Report)
}

// Presenter receives every processed frame, unthrottled.
type Presenter interface {
	Present(u Update)
}

// Update is the per-frame result exposed to the presentation layer.
type Update struct {
	Seq       uint64
	Timestamp time.Duration
	Raw       types.FrameStatus // Classifier output before smoothing
	Status    types.FrameStatus
	Gaze      *types.GazeReading
	Posture   *types.HeadPosture
	Stats     attention.AggregateStats
	Emitted   bool // Sampling tick: the frame was smoothed, counted and reported
}

// State is the driver lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config identifies the subject and tunes the pipeline.
type Config struct {
	SubjectID       string
	DisplayName     string
	EmitInterval    time.Duration // Zero uses attention.DefaultEmitInterval
	NoFaceThreshold int           // Zero uses attention.DefaultNoFaceThreshold
}

// Option customizes a Driver.
type Option func(*Driver)

// WithLogger sets the driver logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Driver) { d.log = l }
}

// WithClock replaces the wall clock used for peak and report timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// WithSink attaches the telemetry sink.
func WithSink(s Sink) Option {
	return func(d *Driver) { d.sink = s }
}

// WithPresenter attaches the presentation layer.
func WithPresenter(p Presenter) Option {
	return func(d *Driver) { d.presenter = p }
}

// session is the state set owned by one enable/stop cycle.
type session struct {
	id         string
	smoother   *attention.Smoother
	aggregator *attention.Aggregator
	throttle   *attention.Throttle
	log        logrus.FieldLogger
	status     types.FrameStatus // Last smoothed status
}

// report builds the session's current report. d.mu must be held.
func (s *session) report(d *Driver) attention.Report {
	return attention.Report{
		SessionID:   s.id,
		SubjectID:   d.cfg.SubjectID,
		DisplayName: d.cfg.DisplayName,
		Status:      s.status,
		Stats:       s.aggregator.Stats(),
		EmittedAt:   d.now(),
	}
}

// Driver orchestrates extraction, classification, smoothing, aggregation and throttling.
type Driver struct {
	cfg       Config
	provider  LandmarkProvider
	sink      Sink
	presenter Presenter
	log       logrus.FieldLogger
	now       func() time.Time

	initMu  sync.Mutex
	initErr error

	mu      sync.Mutex
	state   State
	current *session
	handle  *Handle
	status  types.FrameStatus
	stats   attention.AggregateStats

	busy      atomic.Bool
	closeOnce sync.Once
}

// New returns an uninitialized driver.
func New(cfg Config, provider LandmarkProvider, opts ...Option) *Driver {
	d := &Driver{
		cfg:      cfg,
		provider: provider,
		now:      time.Now,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.WithField("subject", cfg.SubjectID)
	return d
}

// Init sets up the landmark provider. A failure is logged once and returned on every later call
// without retrying the provider.
func (d *Driver) Init(ctx context.Context) error {
	d.initMu.Lock()
	defer d.initMu.Unlock()

	if d.initErr != nil {
		return d.initErr
	}
	if d.State() != StateUninitialized {
		return nil
	}

	if err := d.provider.Setup(ctx); err != nil {
		d.initErr = fmt.Errorf("%w: %v", ErrProviderInit, err)
		d.log.WithError(err).Error("Landmark provider setup failed")
		return d.initErr
	}

	d.mu.Lock()
	d.state = StateReady
	d.mu.Unlock()
	d.log.Debug("Landmark provider ready")
	return nil
}

// SessionOption customizes one Enable call.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	seed   *attention.AggregateStats
	onStop func()
}

// WithSeed continues counting from previously persisted statistics.
func WithSeed(s attention.AggregateStats) SessionOption {
	return func(c *sessionConfig) { c.seed = &s }
}

// WithOnStop registers a cleanup hook that runs exactly once when the session stops.
func WithOnStop(fn func()) SessionOption {
	return func(c *sessionConfig) { c.onStop = fn }
}

// Enable starts a tracking session with a fresh state set.
func (d *Driver) Enable(opts ...SessionOption) (*Handle, error) {
	var sc sessionConfig
	for _, opt := range opts {
		opt(&sc)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateUninitialized:
		return nil, ErrNotReady
	case StateRunning:
		return nil, ErrAlreadyRunning
	}

	id := uuid.NewString()
	s := &session{
		id:         id,
		smoother:   attention.NewSmoother(d.cfg.NoFaceThreshold),
		aggregator: attention.NewAggregator(d.now),
		throttle:   attention.NewThrottle(d.cfg.EmitInterval),
		log:        d.log.WithField("session", id),
	}
	if sc.seed != nil {
		if err := s.aggregator.Seed(*sc.seed); err != nil {
			return nil, err
		}
	}

	h := &Handle{d: d, s: s, onStop: sc.onStop}
	d.current = s
	d.handle = h
	d.state = StateRunning
	d.status = ""
	d.stats = s.aggregator.Stats()

	s.log.WithField("seeded", sc.seed != nil).Info("Tracking enabled")
	return h, nil
}

// ProcessFrame runs one frame through the pipeline. Every frame is classified and presented;
// frames the throttle admits are also smoothed, counted and reported. Frames offered while
// another is in flight return ErrDropped and are never queued.
func (d *Driver) ProcessFrame(ctx context.Context, frame types.Frame) (Update, error) {
	if !d.busy.CompareAndSwap(false, true) {
		return Update{}, ErrDropped
	}
	defer d.busy.Store(false)

	d.mu.Lock()
	s := d.current
	d.mu.Unlock()
	if s == nil {
		return Update{}, ErrNotRunning
	}

	lms, found, err := d.provider.Detect(ctx, frame)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Update{}, ctxErr
	}
	c := attention.Classify(attention.Observation{
		Landmarks: lms,
		Found:     found,
		Err:       err,
		Width:     frame.Width,
		Height:    frame.Height,
	})

	d.mu.Lock()
	if d.current != s {
		// Stopped (or re-enabled) while the provider was busy.
		d.mu.Unlock()
		return Update{}, ErrNotRunning
	}
	u := Update{
		Seq:       frame.Seq,
		Timestamp: frame.Timestamp,
		Raw:       c.Status,
		Gaze:      c.Gaze,
		Posture:   c.Posture,
	}
	// Smoothing and counting advance on sampling ticks only.
	if s.throttle.Allow(frame.Timestamp) {
		s.status = s.smoother.Apply(c.Status)
		d.status = s.status
		d.stats = s.aggregator.Observe(s.status)
		u.Emitted = true
		// Under the lock: a concurrent Stop must not queue its cleanup ahead of this report.
		if d.sink != nil {
			d.sink.Send(s.report(d))
		}
	}
	u.Status = d.status
	u.Stats = d.stats
	d.mu.Unlock()

	entry := s.log.WithFields(logrus.Fields{"seq": frame.Seq, "raw": c.Status, "status": u.Status, "sampled": u.Emitted})
	if c.Err != nil {
		entry = entry.WithError(c.Err)
	}
	entry.Debug("Frame classified")

	if d.presenter != nil {
		d.presenter.Present(u)
	}
	return u, nil
}

// Run consumes frames until the channel closes, the context ends or the session stops.
func (d *Driver) Run(ctx context.Context, frames <-chan types.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			_, err := d.ProcessFrame(ctx, f)
			switch {
			case err == nil, errors.Is(err, ErrDropped):
			case errors.Is(err, ErrNotRunning):
				return nil
			default:
				return err
			}
		}
	}
}

// Snapshot is a consistent read of the exposed status and statistics.
type Snapshot struct {
	State     State
	SessionID string
	Status    types.FrameStatus
	Stats     attention.AggregateStats
}

// Snapshot returns the latest exposed values. They survive Stop until the next Enable.
func (d *Driver) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := Snapshot{State: d.state, Status: d.status, Stats: d.stats}
	if d.current != nil {
		snap.SessionID = d.current.id
	}
	return snap
}

// State returns the lifecycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Close stops any active session and releases the landmark provider.
func (d *Driver) Close() error {
	d.mu.Lock()
	h := d.handle
	d.mu.Unlock()
	if h != nil {
		h.Stop()
	}

	var err error
	d.closeOnce.Do(func() {
		err = d.provider.Close()
	})
	return err
}

// Handle controls one tracking session.
type Handle struct {
	d      *Driver
	s      *session
	once   sync.Once
	onStop func()
}

// SessionID identifies the session in logs and journals.
func (h *Handle) SessionID() string { return h.s.id }

// Report returns the session's latest status and statistics as a report. It stays valid after
// Stop; ok is false when no frame was ever sampled.
func (h *Handle) Report() (r attention.Report, ok bool) {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	if h.s.status == "" {
		return attention.Report{}, false
	}
	return h.s.report(h.d), true
}

// Stop ends the session. It is safe to call concurrently and more than once; teardown and the
// cleanup hook run exactly once.
func (h *Handle) Stop() {
	h.once.Do(func() {
		d := h.d
		d.mu.Lock()
		if d.current == h.s {
			d.current = nil
			d.handle = nil
			d.state = StateStopped
		}
		stats := h.s.aggregator.Stats()
		d.mu.Unlock()

		h.s.log.WithFields(logrus.Fields{
			"total":      stats.TotalChecks,
			"distracted": stats.DistractedChecks,
			"peak":       stats.PeakDistractedPct,
		}).Info("Tracking stopped")

		if h.onStop != nil {
			h.onStop()
		}
	})
}
