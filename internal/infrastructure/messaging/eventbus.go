// Package messaging implements the in-process event bus that carries scoring
// events from the award command to their subscribers.
package messaging

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/alem-hub/scoring-engine/internal/domain/shared"
	"github.com/alem-hub/scoring-engine/pkg/logger"
)

var (
	ErrEventBusClosed = errors.New("event bus is closed")
	ErrHandlerPanic   = errors.New("event handler panicked")
)

// Observer receives bus activity, typically to export metrics.
type Observer interface {
	EventPublished(eventType string)
	HandlerExecuted(eventType string, took time.Duration, err error)
}

// Options configures a Bus.
type Options struct {
	// Async hands deliveries to a worker pool. Otherwise Publish runs every
	// handler before returning.
	Async bool
	// Workers is the pool size in async mode. Default 10.
	Workers int
	// QueueSize bounds pending deliveries; Publish blocks while it is full.
	// Default 1024.
	QueueSize int

	Logger   *logger.Logger
	Observer Observer
}

type delivery struct {
	event   shared.Event
	handler shared.EventHandler
}

// Bus is a single-process shared.EventBus. Handler errors and panics are
// logged and reported to the Observer; they never reach the publisher.
type Bus struct {
	log      *logger.Logger
	observer Observer

	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	wildcard []shared.EventHandler
	closed   bool

	queue   chan delivery // nil in sync mode
	workers sync.WaitGroup
}

func NewBus(opts Options) *Bus {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	b := &Bus{
		log:      opts.Logger.With(logger.Component("eventbus")),
		observer: opts.Observer,
		byType:   make(map[shared.EventType][]shared.EventHandler),
	}
	if !opts.Async {
		return b
	}

	if opts.Workers <= 0 {
		opts.Workers = 10
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	b.queue = make(chan delivery, opts.QueueSize)
	b.workers.Add(opts.Workers)
	for range opts.Workers {
		go b.work()
	}
	return b
}

func (b *Bus) work() {
	defer b.workers.Done()
	for d := range b.queue {
		b.deliver(d)
	}
}

func (b *Bus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.subscribe(handler, func() {
		b.byType[eventType] = append(b.byType[eventType], handler)
	})
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler shared.EventHandler) error {
	return b.subscribe(handler, func() {
		b.wildcard = append(b.wildcard, handler)
	})
}

func (b *Bus) subscribe(handler shared.EventHandler, add func()) error {
	if handler == nil {
		return errors.New("event handler is nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	add()
	return nil
}

// Publish delivers event to the handlers of its type, then to the wildcard
// handlers, in subscription order.
func (b *Bus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event is nil")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrEventBusClosed
	}

	typed := b.byType[event.EventType()]
	targets := make([]shared.EventHandler, 0, len(typed)+len(b.wildcard))
	targets = append(append(targets, typed...), b.wildcard...)

	if b.observer != nil {
		b.observer.EventPublished(string(event.EventType()))
	}
	for _, h := range targets {
		d := delivery{event: event, handler: h}
		if b.queue != nil {
			// Close takes the write lock before closing the queue, so the
			// read lock held here keeps the send safe.
			b.queue <- d
			continue
		}
		b.deliver(d)
	}
	return nil
}

func (b *Bus) deliver(d delivery) {
	start := time.Now()
	err := b.run(d)
	if b.observer != nil {
		b.observer.HandlerExecuted(string(d.event.EventType()), time.Since(start), err)
	}
	if err != nil {
		b.log.Error("event handler failed",
			logger.String("event_type", string(d.event.EventType())),
			logger.String("event_id", d.event.EventID()),
			logger.Err(err),
		)
	}
}

func (b *Bus) run(d delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			b.log.Error("event handler panic", logger.String("stack", string(debug.Stack())))
		}
	}()
	return d.handler(d.event)
}

// Close rejects further publishes and waits for queued deliveries. It is
// safe to call more than once.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.queue != nil {
		close(b.queue)
	}
	b.mu.Unlock()

	b.workers.Wait()
	b.log.Info("event bus closed")
	return nil
}

var _ shared.EventBus = (*Bus)(nil)
