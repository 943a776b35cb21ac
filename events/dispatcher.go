// Package events fans board events out to the configured sinks on a bounded
// worker pool.
package events

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"tandem/domain"
)

// Sink receives board events.
type Sink interface {
	Send(ctx context.Context, ev domain.BoardEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev domain.BoardEvent) error

func (f SinkFunc) Send(ctx context.Context, ev domain.BoardEvent) error { return f(ctx, ev) }

// Options sizes the worker pool.
type Options struct {
	Workers        int
	Buffer         int
	SendTimeout    time.Duration
	HandoffTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.Buffer < 0 {
		o.Buffer = 0
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	return o
}

// Dispatcher implements domain.EventPublisher. Events are handed to workers
// through a bounded channel; when it stays full past the hand-off timeout the
// event is delivered inline on the caller's goroutine.
type Dispatcher struct {
	sinks   map[string]Sink
	jobs    chan domain.BoardEvent
	opts    Options
	logger  *log.Logger
	wg      sync.WaitGroup
	closing sync.Once
}

// NewDispatcher starts the workers. Sinks are keyed by a name used in logs.
func NewDispatcher(opts Options, logger *log.Logger, sinks map[string]Sink) *Dispatcher {
	if logger == nil {
		panic("Logger is not initialized")
	}
	opts = opts.withDefaults()
	d := &Dispatcher{
		sinks:  sinks,
		jobs:   make(chan domain.BoardEvent, opts.Buffer),
		opts:   opts,
		logger: logger,
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("event dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v",
		opts.Workers, opts.Buffer, opts.SendTimeout, opts.HandoffTimeout)
	return d
}

// Publish never fails; delivery errors are logged per sink.
func (d *Dispatcher) Publish(ctx context.Context, ev domain.BoardEvent) {
	if d.tryEnqueue(ev) {
		return
	}
	d.logger.WithField("event", ev.ID).Warn("event buffer saturated; delivering inline")
	d.deliver(context.WithoutCancel(ctx), ev, -1)
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.closing.Do(func() {
		close(d.jobs)
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for ev := range d.jobs {
		d.deliver(context.Background(), ev, id)
	}
}

func (d *Dispatcher) deliver(parent context.Context, ev domain.BoardEvent, worker int) {
	for name, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(parent, d.opts.SendTimeout)
		err := sink.Send(ctx, ev)
		cancel()
		if err != nil {
			d.logger.WithFields(log.Fields{
				"sink":    name,
				"event":   ev.ID,
				"type":    ev.Type,
				"project": ev.ProjectID,
				"worker":  worker,
			}).WithError(err).Error("event delivery failed")
		}
	}
}

func (d *Dispatcher) tryEnqueue(ev domain.BoardEvent) bool {
	if ok, closed := trySendNonBlocking(d.jobs, ev); closed {
		return false
	} else if ok {
		return true
	}

	if d.opts.HandoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(d.opts.HandoffTimeout)
	defer timer.Stop()

	ok, _ := sendWithTimer(d.jobs, ev, timer.C)
	return ok
}

func trySendNonBlocking(ch chan domain.BoardEvent, ev domain.BoardEvent) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan domain.BoardEvent, ev domain.BoardEvent, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	case <-timer:
		return false, false
	}
}
