// Package dispatcher routes campaign commands to handlers. Handlers run on
// the caller's goroutine unless registered Buffered, in which case each
// command gets its own queue and worker goroutine.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrQueueFull      = errors.New("queue full")
	ErrClosed         = errors.New("dispatcher closed")
)

// Queued is the result of a dispatch to a buffered handler.
const Queued = "queued"

const meterName = "github.com/OCAP2/campaign/internal/dispatcher"

// Event is one command from the host bridge, a player action or an internal
// producer such as the tick loop. Data is either raw JSON straight off the
// wire or an already typed value.
type Event struct {
	Command   string
	Data      any
	Timestamp time.Time
}

// Decode returns the event data as T, unmarshalling raw JSON if needed.
func Decode[T any](e Event) (T, error) {
	var v T
	var raw []byte
	switch d := e.Data.(type) {
	case T:
		return d, nil
	case *T:
		if d == nil {
			return v, fmt.Errorf("%s: nil payload", e.Command)
		}
		return *d, nil
	case json.RawMessage:
		raw = d
	case []byte:
		raw = d
	default:
		return v, fmt.Errorf("%s: unexpected payload type %T", e.Command, e.Data)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%s: decoding payload: %w", e.Command, err)
	}
	return v, nil
}

// HandlerFunc processes an event and returns a result.
type HandlerFunc func(Event) (any, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*route)

// Buffered runs the handler on its own goroutine behind a queue of size
// events. Dispatch returns Queued without waiting.
func Buffered(size int) Option {
	return func(r *route) { r.size = size }
}

// Blocking makes dispatch to a full buffered queue wait instead of failing
// with ErrQueueFull.
func Blocking() Option {
	return func(r *route) { r.blocking = true }
}

// Logged logs every call at debug level and failures at error level.
func Logged() Option {
	return func(r *route) { r.logged = true }
}

type route struct {
	command  string
	h        HandlerFunc
	size     int
	blocking bool
	logged   bool
	attrs    metric.MeasurementOption
	queue    chan Event
}

// Dispatcher routes events to registered handlers. Register everything
// before the first Dispatch.
type Dispatcher struct {
	logger Logger
	routes map[string]*route

	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
	duration  metric.Float64Histogram

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a dispatcher. Metrics go to the global OTel meter, a no-op
// until a provider is installed.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		logger: logger,
		routes: make(map[string]*route),
	}
	if err := d.initMetrics(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dispatcher) initMetrics() error {
	m := otel.Meter(meterName)

	var err error
	if d.queueSize, err = m.Int64ObservableGauge("dispatcher.queue.size",
		metric.WithDescription("Events waiting in a buffered handler queue"),
	); err != nil {
		return fmt.Errorf("creating queue size gauge: %w", err)
	}
	if _, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for cmd, n := range d.Pending() {
			o.ObserveInt64(d.queueSize, int64(n), metric.WithAttributes(attribute.String("command", cmd)))
		}
		return nil
	}, d.queueSize); err != nil {
		return fmt.Errorf("registering queue callback: %w", err)
	}
	if d.processed, err = m.Int64Counter("dispatcher.events.processed",
		metric.WithDescription("Events handled"),
	); err != nil {
		return fmt.Errorf("creating processed counter: %w", err)
	}
	if d.dropped, err = m.Int64Counter("dispatcher.events.dropped",
		metric.WithDescription("Events dropped because the queue was full"),
	); err != nil {
		return fmt.Errorf("creating dropped counter: %w", err)
	}
	if d.duration, err = m.Float64Histogram("dispatcher.handle.duration",
		metric.WithDescription("Time spent in a handler"),
		metric.WithUnit("ms"),
	); err != nil {
		return fmt.Errorf("creating duration histogram: %w", err)
	}
	return nil
}

// Register adds the handler for command, replacing any earlier one.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	r := &route{
		command: command,
		h:       h,
		attrs:   metric.WithAttributes(attribute.String("command", command)),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.size > 0 {
		r.queue = make(chan Event, r.size)
		d.wg.Add(1)
		go d.drain(r)
	}

	d.mu.Lock()
	d.routes[command] = r
	d.mu.Unlock()
}

// Dispatch runs the handler of e.Command, or queues e for a buffered one.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	d.mu.RLock()
	r, ok := d.routes[e.Command]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, e.Command)
	}
	if r.queue == nil {
		return d.call(r, e)
	}
	return d.enqueue(r, e)
}

// HasHandler returns true if a handler is registered for the command.
func (d *Dispatcher) HasHandler(command string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.routes[command]
	return ok
}

// Commands lists the registered commands in order.
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.routes))
	for cmd := range d.routes {
		out = append(out, cmd)
	}
	slices.Sort(out)
	return out
}

// Pending returns the queue length of every buffered command.
func (d *Dispatcher) Pending() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]int)
	for cmd, r := range d.routes {
		if r.queue != nil {
			out[cmd] = len(r.queue)
		}
	}
	return out
}

// enqueue holds the read lock while sending so Close cannot close the
// queue underneath a blocked sender.
func (d *Dispatcher) enqueue(r *route, e Event) (any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, fmt.Errorf("%w: %s", ErrClosed, r.command)
	}
	if r.blocking {
		r.queue <- e
		return Queued, nil
	}
	select {
	case r.queue <- e:
		return Queued, nil
	default:
		d.dropped.Add(context.Background(), 1, r.attrs)
		return nil, fmt.Errorf("%w: %s", ErrQueueFull, r.command)
	}
}

func (d *Dispatcher) drain(r *route) {
	defer d.wg.Done()
	for e := range r.queue {
		if _, err := d.call(r, e); err != nil && !r.logged {
			d.logger.Error("buffered handler failed", "command", r.command, "error", err)
		}
	}
}

func (d *Dispatcher) call(r *route, e Event) (any, error) {
	start := time.Now()
	if r.logged {
		d.logger.Debug("handling event", "command", r.command)
	}

	result, err := r.h(e)

	took := time.Since(start)
	ctx := context.Background()
	d.processed.Add(ctx, 1, r.attrs)
	d.duration.Record(ctx, float64(took.Microseconds())/1000, r.attrs)
	if r.logged {
		if err != nil {
			d.logger.Error("event failed", "command", r.command, "duration", took, "error", err)
		} else {
			d.logger.Debug("event complete", "command", r.command, "duration", took)
		}
	}
	return result, err
}

// Close stops accepting buffered events and waits until every buffered
// handler has drained its queue. Unbuffered handlers keep working.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, r := range d.routes {
		if r.queue != nil {
			close(r.queue)
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
}
