package eventsink

import (
	"log/slog"
	"sync"

	"github.com/tthsd/tthsd/internal/metrics"
)

// Sink receives one fully-encoded event as a pair of JSON strings. Both the
// in-process callback and the remote socket are expressed as a Sink so the
// dispatcher need not know which is which.
type Sink func(eventJSON, dataJSON string)

type queuedEvent struct {
	ev   Event
	data any
}

// Dispatcher serializes event emission for one Session: a single consumer
// goroutine drains a bounded queue and fans each event out to every
// registered Sink in order, so callback invocations never interleave on the
// wire for one session even though many Task workers enqueue concurrently.
type Dispatcher struct {
	log *slog.Logger

	mu    sync.Mutex
	sinks []Sink

	queue chan queuedEvent
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewDispatcher starts the dispatcher's drain loop immediately. cap is the
// per-session queue capacity (SPEC_FULL.md §4.7 default: 1024).
func NewDispatcher(cap int, log *slog.Logger) *Dispatcher {
	if cap <= 0 {
		cap = 1024
	}
	d := &Dispatcher{
		log:   log,
		queue: make(chan queuedEvent, cap),
		done:  make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// AddSink registers a delivery channel. Safe to call while events are in flight.
func (d *Dispatcher) AddSink(s Sink) {
	if s == nil {
		return
	}
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()
}

// Emit enqueues an event. Lossless event types (everything but `update`)
// block briefly on a saturated queue rather than drop; an `update` event is
// dropped when the queue is full: this call declines to enqueue the new
// update, and events already queued are kept (no older update is replaced).
func (d *Dispatcher) Emit(ev Event, data any) {
	item := queuedEvent{ev: ev, data: data}
	if ev.Type.Lossless() {
		d.queue <- item
		return
	}
	select {
	case d.queue <- item:
	default:
		metrics.EventsDropped.WithLabelValues(string(ev.Type)).Inc()
		if d.log != nil {
			d.log.Warn("dropped update event: session queue full", "task_id", ev.ID)
		}
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case item, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(item)
		case <-d.done:
			// Drain whatever is already queued before exiting so a Stop
			// right after a terminal event does not swallow it.
			for {
				select {
				case item, ok := <-d.queue:
					if !ok {
						return
					}
					d.deliver(item)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(item queuedEvent) {
	eventJSON, dataJSON, err := Encode(item.ev, item.data)
	if err != nil {
		if d.log != nil {
			d.log.Error("failed to encode event", "error", err, "type", item.ev.Type)
		}
		return
	}
	metrics.EventsEmitted.WithLabelValues(string(item.ev.Type)).Inc()

	d.mu.Lock()
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.Unlock()

	for _, s := range sinks {
		s(eventJSON, dataJSON)
	}
}

// Close signals the drain loop to flush the queue and stop, then waits for
// it to finish. After Close returns, no sink is invoked again — this is the
// guarantee stop_download relies on ("callback must not be called after
// stop_download returns").
func (d *Dispatcher) Close() {
	close(d.done)
	d.wg.Wait()
}
