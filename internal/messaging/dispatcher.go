package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/thermolink-core/internal/device"
	"github.com/nerrad567/thermolink-core/internal/provisioning"
	"github.com/nerrad567/thermolink-core/internal/telemetry"
)

// handlerTimeout bounds the work done for one inbound message.
const handlerTimeout = 30 * time.Second

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Observer is told about every message the dispatcher sees.
type Observer interface {
	MessageReceived(kind string)
	MessageDropped(reason string)
}

type noopObserver struct{}

func (noopObserver) MessageReceived(string) {}
func (noopObserver) MessageDropped(string)  {}

// Provisioner handles device announcements.
type Provisioner interface {
	Handle(ctx context.Context, req provisioning.Request) (*provisioning.Result, error)
}

// Ingester handles temperature reports.
type Ingester interface {
	Handle(ctx context.Context, report telemetry.Report) (*device.Reading, error)
}

// Options sizes the worker pool.
type Options struct {
	Workers   int
	QueueSize int
}

type envelope struct {
	topic   string
	payload []byte
}

// Dispatcher routes inbound messages to the provisioning and telemetry
// services on a bounded pool of workers.
//
// Deliver blocks while the queue is full, pushing back on the broker
// delivery goroutine instead of buffering without limit. Messages for
// different devices may be handled concurrently and in any order.
type Dispatcher struct {
	provisioner Provisioner
	ingester    Ingester
	workers     int

	queue chan envelope
	done  chan struct{}

	// mu orders Deliver against Close so the queue is never sent on after
	// it has been closed.
	mu        sync.RWMutex
	closed    bool
	started   bool
	closeOnce sync.Once
	wg        sync.WaitGroup

	logger   Logger
	observer Observer
}

// NewDispatcher creates a dispatcher. Call Start before delivering.
func NewDispatcher(provisioner Provisioner, ingester Ingester, opts Options) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	return &Dispatcher{
		provisioner: provisioner,
		ingester:    ingester,
		workers:     opts.Workers,
		queue:       make(chan envelope, opts.QueueSize),
		done:        make(chan struct{}),
		logger:      noopLogger{},
		observer:    noopObserver{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// SetObserver sets the message observer.
func (d *Dispatcher) SetObserver(o Observer) {
	d.observer = o
}

// Start launches the workers. Handlers run with a context detached from
// ctx's cancellation so queued messages can still be stored while the
// process drains during shutdown.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	base := context.WithoutCancel(ctx)
	for range d.workers {
		d.wg.Add(1)
		go d.work(base)
	}
}

// Deliver enqueues a message. It matches the mqtt.Listener signature.
// Messages delivered after Close are dropped.
func (d *Dispatcher) Deliver(topic string, payload []byte) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.observer.MessageDropped("shutting_down")
		return
	}

	// paho may reuse the payload buffer after the callback returns.
	env := envelope{topic: topic, payload: append([]byte(nil), payload...)}
	select {
	case d.queue <- env:
	case <-d.done:
		d.observer.MessageDropped("shutting_down")
	}
}

// Close stops intake and waits for queued messages to be handled.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		// Release any Deliver blocked on a full queue before taking the lock.
		close(d.done)

		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	d.wg.Wait()
}

func (d *Dispatcher) work(base context.Context) {
	defer d.wg.Done()
	for env := range d.queue {
		ctx, cancel := context.WithTimeout(base, handlerTimeout)
		d.Dispatch(ctx, Classify(env.topic, env.payload))
		cancel()
	}
}

// Dispatch handles one classified message synchronously.
// Failures are logged and counted; nothing is returned to the broker.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	d.observer.MessageReceived(string(msg.Kind()))

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("message handler panic recovered", "kind", msg.Kind(), "panic", r)
			d.observer.MessageDropped("panic")
		}
	}()

	switch m := msg.(type) {
	case InitialConfiguration:
		_, err := d.provisioner.Handle(ctx, provisioning.Request{
			MACAddress:   m.MACAddress,
			SecretCode:   m.SecretCode,
			AccountEmail: m.UserEmail,
		})
		if err != nil {
			d.logger.Warn("announcement dropped", "mac", m.MACAddress, "error", err)
			d.observer.MessageDropped("provisioning_rejected")
		}

	case TemperatureReport:
		reading, err := d.ingester.Handle(ctx, telemetry.Report{
			MACAddress: m.MACAddress,
			Value:      m.Value,
			Timestamp:  m.Timestamp,
		})
		if err != nil {
			d.logger.Error("temperature report not stored", "mac", m.MACAddress, "error", err)
			d.observer.MessageDropped("store_failed")
		} else if reading == nil {
			d.observer.MessageDropped("unknown_device")
		}

	case Unrecognized:
		reason := "unknown_topic"
		if errors.Is(m.Reason, ErrMalformedMessage) {
			reason = "malformed"
		}
		d.logger.Warn("message dropped", "topic", m.Topic, "reason", m.Reason)
		d.observer.MessageDropped(reason)

	default:
		d.logger.Error("unhandled message kind", "kind", msg.Kind())
	}
}
