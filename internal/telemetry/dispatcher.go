// Package telemetry delivers attention reports to one or more sinks without blocking the
// frame loop.
package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/novi-app/attention/internal/attention"
	"github.com/sirupsen/logrus"
)

// DefaultQueueSize bounds the number of undelivered reports.
const DefaultQueueSize = 64

// Transport is one destination for reports.
type Transport interface {
	Name() string
	Publish(ctx context.Context, r attention.Report) error
	Remove(ctx context.Context, participantID string) error
}

// Stats counts delivery outcomes across all transports.
type Stats struct {
	Sent    uint64
	Failed  uint64
	Dropped uint64
}

// Finalizer is implemented by transports that keep the closing report of a session.
type Finalizer interface {
	Finalize(ctx context.Context, r attention.Report) error
}

type envelope struct {
	report        attention.Report
	final         bool
	removeSubject string
}

// Dispatcher fans reports out to transports from a single goroutine, preserving order.
// Transport failures are logged and counted, never returned.
type Dispatcher struct {
	transports []Transport
	log        logrus.FieldLogger
	timeout    time.Duration

	mu      sync.RWMutex
	closed  bool
	queue   chan envelope
	done    chan struct{}
	closing chan struct{}
	once    sync.Once

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// NewDispatcher starts the delivery goroutine. timeout bounds each transport call.
func NewDispatcher(log logrus.FieldLogger, queueSize int, timeout time.Duration, transports ...Transport) *Dispatcher {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := &Dispatcher{
		transports: transports,
		log:        log,
		timeout:    timeout,
		queue:      make(chan envelope, queueSize),
		done:       make(chan struct{}),
		closing:    make(chan struct{}),
	}
	go d.loop()
	return d
}

// Send enqueues a report. It never blocks; when the queue is full the report is dropped.
func (d *Dispatcher) Send(r attention.Report) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}
	select {
	case d.queue <- envelope{report: r}:
	default:
		d.dropped.Add(1)
		d.log.WithField("subject", r.SubjectID).Warn("Telemetry queue full, dropping report")
	}
}

// Remove enqueues a removal signal behind any pending reports. It waits for queue space
// until ctx ends or the dispatcher closes.
func (d *Dispatcher) Remove(ctx context.Context, participantID string) {
	if !d.enqueue(ctx, envelope{removeSubject: participantID}) {
		d.log.WithField("subject", participantID).Warn("Removal signal not queued")
	}
}

// Finalize enqueues the closing report of a session for transports implementing Finalizer.
// Like Remove it waits for queue space instead of dropping.
func (d *Dispatcher) Finalize(ctx context.Context, r attention.Report) {
	if !d.enqueue(ctx, envelope{report: r, final: true}) {
		d.log.WithField("subject", r.SubjectID).Warn("Final report not queued")
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, env envelope) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	// Close signals closing before it takes the write lock, so this wait never holds it up.
	select {
	case d.queue <- env:
		return true
	case <-ctx.Done():
		return false
	case <-d.closing:
		return false
	}
}

// Close stops accepting work and waits for the queue to drain or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.once.Do(func() { close(d.closing) })

	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the delivery counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{Sent: d.sent.Load(), Failed: d.failed.Load(), Dropped: d.dropped.Load()}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for env := range d.queue {
		for _, t := range d.transports {
			d.deliver(t, env)
		}
	}
}

func (d *Dispatcher) deliver(t Transport, env envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var err error
	entry := d.log.WithField("transport", t.Name())
	switch {
	case env.removeSubject != "":
		err = t.Remove(ctx, env.removeSubject)
		entry = entry.WithField("subject", env.removeSubject)
	case env.final:
		f, ok := t.(Finalizer)
		if !ok {
			return
		}
		err = f.Finalize(ctx, env.report)
		entry = entry.WithField("subject", env.report.SubjectID)
	default:
		err = t.Publish(ctx, env.report)
		entry = entry.WithField("subject", env.report.SubjectID)
	}

	if err != nil {
		d.failed.Add(1)
		entry.WithError(err).Warn("Telemetry delivery failed")
		return
	}
	d.sent.Add(1)
}
