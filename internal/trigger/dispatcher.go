// Package trigger delivers order-created events to the match engine.
//
// The dispatcher models the change-notification contract of the backing
// store: at-least-once delivery, no ordering guarantee, each event handled
// in isolation. A handler error is an infrastructure failure and the event
// is re-enqueued up to a bounded attempt count; benign outcomes (no match,
// settlement conflict, malformed order) complete the event on first
// delivery because the handler reports them as success.
package trigger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lendmatch/match-engine/internal/metrics"
)

// Handler processes one order-created event. Returning an error requests
// redelivery.
type Handler func(ctx context.Context, orderID string) error

// Event is one order-created delivery.
type Event struct {
	OrderID string
	Attempt int
}

// Dispatcher fans order-created events out to a pool of workers.
type Dispatcher struct {
	handler     Handler
	events      chan Event
	quit        chan struct{}
	wg          sync.WaitGroup
	workers     int
	maxAttempts int
	backoff     time.Duration
}

// NewDispatcher creates a dispatcher with the given worker count.
func NewDispatcher(handler Handler, workers int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		handler:     handler,
		events:      make(chan Event, 256),
		quit:        make(chan struct{}),
		workers:     workers,
		maxAttempts: 5,
		backoff:     100 * time.Millisecond,
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
}

// Stop shuts the workers down after in-flight events finish. Events still
// queued are dropped; a store-backed trigger would redeliver them on
// restart.
func (d *Dispatcher) Stop() {
	close(d.quit)
	d.wg.Wait()
}

// Publish enqueues an order-created event. Non-blocking: if the buffer is
// full the event is dropped and logged (the order stays pending and is
// still matchable when a later event arrives for its counterpart).
func (d *Dispatcher) Publish(orderID string) {
	select {
	case d.events <- Event{OrderID: orderID, Attempt: 1}:
	case <-d.quit:
	default:
		slog.Warn("event buffer full, dropping order event", "order_id", orderID)
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case ev := <-d.events:
			d.deliver(ev)
		}
	}
}

// deliver invokes the handler, re-enqueueing on infrastructure failure.
func (d *Dispatcher) deliver(ev Event) {
	err := d.handler(context.Background(), ev.OrderID)
	if err == nil {
		return
	}

	if ev.Attempt >= d.maxAttempts {
		slog.Error("dropping order event after repeated failures",
			"order_id", ev.OrderID,
			"attempts", ev.Attempt,
			"err", err,
		)
		return
	}

	metrics.EventRedeliveries.Inc()
	slog.Warn("order event failed, redelivering",
		"order_id", ev.OrderID,
		"attempt", ev.Attempt,
		"err", err,
	)

	select {
	case <-time.After(d.backoff * time.Duration(ev.Attempt)):
	case <-d.quit:
		return
	}

	select {
	case d.events <- Event{OrderID: ev.OrderID, Attempt: ev.Attempt + 1}:
	case <-d.quit:
	default:
		slog.Error("event buffer full, dropping failed event", "order_id", ev.OrderID)
	}
}
