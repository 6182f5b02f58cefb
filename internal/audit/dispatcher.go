// Package audit delivers ledger events to an outbound sink without ever
// blocking or failing the operation that produced them.
package audit

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/authvital/authvital/internal/obs"
)

const (
	defaultQueueSize      = 256
	defaultDeliverTimeout = 5 * time.Second
)

// Sink receives audit events. The log sink below is the default; webhook or
// queue-backed sinks implement the same interface.
type Sink interface {
	Deliver(ctx context.Context, event string, fields map[string]any) error
}

// Dispatcher queues events and delivers them on a background goroutine.
// Emit never blocks: when the queue is full the event is dropped and the
// drop is logged.
type Dispatcher struct {
	sink   Sink
	logger *log.Logger
	queue  chan queuedEvent
	wg     sync.WaitGroup

	// mu orders Emit against Close so no send can hit the closed queue.
	mu      sync.RWMutex
	closed  bool
	closing sync.Once
}

type queuedEvent struct {
	event  string
	fields map[string]any
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithQueueSize overrides the queue capacity.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan queuedEvent, n)
		}
	}
}

// WithLogger overrides the logger used for delivery failures and drops.
func WithLogger(logger *log.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a Dispatcher and starts its worker.
func NewDispatcher(sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:   sink,
		logger: obs.Logger(),
		queue:  make(chan queuedEvent, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.sink == nil {
		d.sink = LogSink{Logger: d.logger}
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Emit queues an event for delivery. Non-blocking; safe for concurrent use,
// including concurrently with or after Close, where the event is dropped.
func (d *Dispatcher) Emit(event string, fields map[string]any) {
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Printf(`{"level":"warn","msg":"audit dispatcher closed, event dropped","event":%q}`, event)
		return
	}
	select {
	case d.queue <- queuedEvent{event: event, fields: copied}:
	default:
		d.logger.Printf(`{"level":"warn","msg":"audit queue full, event dropped","event":%q}`, event)
	}
}

// Close drains the queue and stops the worker.
func (d *Dispatcher) Close() {
	d.closing.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), defaultDeliverTimeout)
		if err := d.sink.Deliver(ctx, ev.event, ev.fields); err != nil {
			d.logger.Printf(`{"level":"warn","msg":"audit delivery failed","event":%q,"error":%q}`, ev.event, err.Error())
		}
		cancel()
	}
}
