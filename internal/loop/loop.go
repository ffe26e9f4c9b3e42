// Package loop owns the World and drives it: it drains host events into
// the dispatcher, runs the periodic World operations and hands stats and
// snapshots to the asynchronous sinks.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/OCAP2/campaign/internal/config"
	"github.com/OCAP2/campaign/internal/dispatcher"
	"github.com/OCAP2/campaign/internal/mission"
	"github.com/OCAP2/campaign/internal/worker"
	"github.com/OCAP2/campaign/internal/world"
	"github.com/OCAP2/campaign/pkg/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/OCAP2/campaign/internal/loop"

// maxEventsPerTick bounds how many host events one tick handles so a
// burst cannot starve the spawn queue.
const maxEventsPerTick = 500

// Default timings used when the configuration leaves them zero.
const (
	DefaultTick             = time.Second
	DefaultSlowTick         = 10 * time.Second
	DefaultSnapshotInterval = time.Minute
)

// Spectators moves players out of their aircraft. The host bridge
// implements it; without one forced moves are only logged.
type Spectators interface {
	ForceToSpectators(ctx context.Context, ucid core.Ucid) error
}

// Dependencies holds everything the runner needs.
type Dependencies struct {
	World      *world.World
	Dispatcher *dispatcher.Dispatcher
	// Events are host events; nil when nothing pushes any.
	Events  <-chan dispatcher.Event
	Host    core.Host
	Mission *mission.Context
	Logger  *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Runner is the single goroutine allowed to touch the World.
type Runner struct {
	cfg  config.LoopConfig
	deps Dependencies
	log  *slog.Logger

	lastSlow     time.Time
	lastSnapshot time.Time

	status atomic.Pointer[world.Status]

	ticks     metric.Int64Counter
	tickTime  metric.Float64Histogram
	snapshots metric.Int64Counter
}

// New creates a runner. Zero timings fall back to the defaults.
func New(cfg config.LoopConfig, deps Dependencies) (*Runner, error) {
	if deps.World == nil {
		return nil, errors.New("world is required")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.SlowTick <= 0 {
		cfg.SlowTick = DefaultSlowTick
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = DefaultSnapshotInterval
	}

	r := &Runner{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger.With("component", "loop"),
	}
	r.storeStatus()
	if err := r.initMetrics(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runner) initMetrics() error {
	m := otel.Meter(instrumentationName)

	var err error
	r.ticks, err = m.Int64Counter("loop.ticks", metric.WithDescription("Ticks run"))
	if err != nil {
		return fmt.Errorf("creating tick counter: %w", err)
	}
	r.tickTime, err = m.Float64Histogram("loop.tick.duration",
		metric.WithDescription("Time spent in one tick"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("creating tick histogram: %w", err)
	}
	r.snapshots, err = m.Int64Counter("loop.snapshots", metric.WithDescription("Snapshots handed to the writer"))
	if err != nil {
		return fmt.Errorf("creating snapshot counter: %w", err)
	}

	queue, err := m.Int64ObservableGauge("world.queue.size",
		metric.WithDescription("Groups waiting in the spawn queues"),
	)
	if err != nil {
		return fmt.Errorf("creating queue gauge: %w", err)
	}
	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := r.Status()
		o.ObserveInt64(queue, int64(st.Spawn), metric.WithAttributes(attribute.String("queue", "spawn")))
		o.ObserveInt64(queue, int64(st.Despawn), metric.WithAttributes(attribute.String("queue", "despawn")))
		o.ObserveInt64(queue, int64(st.Delayed), metric.WithAttributes(attribute.String("queue", "delayed")))
		return nil
	}, queue)
	if err != nil {
		return fmt.Errorf("registering queue callback: %w", err)
	}
	return nil
}

// Status returns the world summary of the last tick. Safe from any goroutine.
func (r *Runner) Status() world.Status {
	return *r.status.Load()
}

func (r *Runner) storeStatus() {
	st := r.deps.World.Status()
	r.status.Store(&st)
}

// Run ticks until ctx is done, then takes a final snapshot.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Tick)
	defer ticker.Stop()

	r.log.Info("Tick loop started", "tick", r.cfg.Tick, "slowTick", r.cfg.SlowTick, "snapshotInterval", r.cfg.SnapshotInterval)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("Tick loop stopping")
			return r.Shutdown()
		case <-ticker.C:
			r.Tick(ctx, r.deps.Now())
		}
	}
}

// Tick runs one cycle: host events first, then the spawn queue and
// position refresh, every SlowTick the objective checks, then markup,
// spectators, stats and at most one snapshot.
func (r *Runner) Tick(ctx context.Context, now time.Time) {
	start := time.Now()
	w := r.deps.World
	if r.deps.Mission != nil {
		r.deps.Mission.NextTick()
	}

	r.drainEvents(now)

	w.ProcessSpawnQueue(ctx, now)
	w.UpdateUnitPositions(ctx, now)
	w.UpdatePlayerPositions(ctx, now)

	if now.Sub(r.lastSlow) >= r.cfg.SlowTick {
		r.lastSlow = now
		r.slowTick(ctx, now)
	}

	w.UpdateMarkup(ctx)
	r.forceSpectators(ctx, now)
	r.flushStats()

	if now.Sub(r.lastSnapshot) >= r.cfg.SnapshotInterval {
		if r.snapshot(now) {
			r.lastSnapshot = now
		}
	}

	r.storeStatus()
	r.ticks.Add(ctx, 1)
	r.tickTime.Record(ctx, float64(time.Since(start).Microseconds())/1000)
}

func (r *Runner) drainEvents(now time.Time) {
	if r.deps.Events == nil {
		return
	}
	for range maxEventsPerTick {
		select {
		case e, ok := <-r.deps.Events:
			if !ok {
				return
			}
			if e.Timestamp.IsZero() {
				e.Timestamp = now
			}
			if !r.deps.Dispatcher.HasHandler(e.Command) {
				r.log.Debug("No handler for host event", "command", e.Command)
				continue
			}
			if _, err := r.deps.Dispatcher.Dispatch(e); err != nil {
				r.log.Warn("Host event failed", "command", e.Command, "error", err)
			}
		default:
			return
		}
	}
}

func (r *Runner) slowTick(ctx context.Context, now time.Time) {
	w := r.deps.World

	threatened, cleared := w.CullOrRespawnObjectives(ctx, now)
	for _, oid := range threatened {
		if obj, err := w.Objective(oid); err == nil {
			r.log.Debug("Objective threatened", "objective", obj.Name)
		}
	}
	for _, oid := range cleared {
		if obj, err := w.Objective(oid); err == nil {
			r.log.Debug("Objective no longer threatened", "objective", obj.Name)
		}
	}

	captures, err := w.CheckCapture(now)
	if err != nil {
		r.log.Error("Capture check failed", "error", err)
	}
	for _, c := range captures {
		r.log.Info("Objective captured", "objective", c.Name, "from", c.From, "to", c.To, "players", len(c.Players))
		r.broadcast(ctx, fmt.Sprintf("%s has been captured by %s", c.Name, c.To))
	}

	if err := w.MaybeDoRepairs(now); err != nil {
		r.log.Error("Repairs failed", "error", err)
	}

	if w.LogisticsTick(now) {
		r.log.Debug("Logistics tick done")
	}
}

func (r *Runner) broadcast(ctx context.Context, text string) {
	if r.deps.Host == nil {
		return
	}
	if err := r.deps.Host.Message(ctx, core.Message{Text: text, Seconds: 30}); err != nil {
		r.log.Warn("Failed to broadcast", "text", text, "error", err)
	}
}

func (r *Runner) forceSpectators(ctx context.Context, now time.Time) {
	ucids := r.deps.World.PlayersToForceToSpectators(now)
	if len(ucids) == 0 {
		return
	}
	sp, ok := r.deps.Host.(Spectators)
	if !ok {
		r.log.Warn("Host cannot move players to spectators", "players", len(ucids))
		return
	}
	for _, ucid := range ucids {
		if err := sp.ForceToSpectators(ctx, ucid); err != nil {
			r.log.Warn("Failed to move player to spectators", "ucid", ucid, "error", err)
		}
	}
}

func (r *Runner) flushStats() {
	stats := r.deps.World.TakeStats()
	if len(stats) == 0 || !r.deps.Dispatcher.HasHandler(worker.CommandStat) {
		return
	}
	for _, st := range stats {
		if _, err := r.deps.Dispatcher.Dispatch(dispatcher.Event{Command: worker.CommandStat, Data: st, Timestamp: st.Time}); err != nil {
			r.log.Debug("Stat dropped", "kind", st.Kind, "error", err)
		}
	}
}

// snapshot hands a snapshot of a dirty world to the writer and reports
// whether one was taken.
func (r *Runner) snapshot(now time.Time) bool {
	snap, err := r.deps.World.MaybeSnapshot(now)
	if err != nil {
		r.log.Error("Failed to take snapshot", "error", err)
		return false
	}
	if snap == nil {
		return false
	}
	if _, err := r.deps.Dispatcher.Dispatch(dispatcher.Event{Command: worker.CommandSnapshot, Data: snap, Timestamp: now}); err != nil {
		r.log.Error("Failed to queue snapshot", "error", err)
		r.deps.World.MarkDirty()
		return false
	}
	r.snapshots.Add(context.Background(), 1)
	return true
}

// Shutdown queues a last snapshot whether or not the world changed.
func (r *Runner) Shutdown() error {
	r.flushStats()
	r.deps.World.MarkDirty()
	if !r.snapshot(r.deps.Now()) {
		return errors.New("final snapshot was not taken")
	}
	r.storeStatus()
	return nil
}
