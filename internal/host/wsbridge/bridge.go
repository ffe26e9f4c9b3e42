// Package wsbridge implements core.Host over a WebSocket to the bridge
// script running inside the simulator.
package wsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/OCAP2/campaign/internal/cache"
	"github.com/OCAP2/campaign/internal/config"
	"github.com/OCAP2/campaign/internal/dispatcher"
	"github.com/OCAP2/campaign/internal/wsconn"
	"github.com/OCAP2/campaign/pkg/core"
	"github.com/OCAP2/campaign/pkg/streaming"
)

const (
	eventChSize         = 4096
	defaultQueryTimeout = 2 * time.Second
)

// Bridge is the host engine reached over a WebSocket. Queries are
// request/ack pairs matched by id; instance states and game events are
// pushed by the host.
type Bridge struct {
	conn      *wsconn.Conn
	cfg       config.HostConfig
	nextID    atomic.Uint64
	instances *cache.InstanceCache
	marks     *cache.MarkCache
	events    chan dispatcher.Event
	now       func() time.Time
	logger    *slog.Logger
}

var _ core.Host = (*Bridge)(nil)

// New creates an unconnected bridge.
func New(cfg config.HostConfig, logger *slog.Logger) *Bridge {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	b := &Bridge{
		cfg:       cfg,
		instances: cache.NewInstanceCache(),
		marks:     cache.NewMarkCache(),
		events:    make(chan dispatcher.Event, eventChSize),
		now:       time.Now,
		logger:    logger,
	}
	b.conn = wsconn.New(logger, b.handle)
	b.conn.SetReplay(b.replayMarks)
	return b
}

// Init connects to the host.
func (b *Bridge) Init() error {
	return b.conn.Dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the host.
func (b *Bridge) Close() error {
	return b.conn.Close()
}

// Events delivers game events pushed by the host. The tick loop drains it
// and dispatches each event between ticks.
func (b *Bridge) Events() <-chan dispatcher.Event {
	return b.events
}

func (b *Bridge) handle(env streaming.Envelope) {
	switch env.Type {
	case streaming.TypeInstanceState:
		var p streaming.InstanceStatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			b.logger.Warn("Malformed instance state", "error", err)
			return
		}
		at := b.now()
		for id, st := range p.States {
			b.instances.Set(id, st, at)
		}
		for _, id := range p.Gone {
			b.instances.Delete(id)
		}
	case streaming.TypeHostEvent:
		var ev streaming.HostEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			b.logger.Warn("Malformed host event", "error", err)
			return
		}
		e := dispatcher.Event{Command: ev.Command, Data: ev.Data, Timestamp: b.now()}
		select {
		case b.events <- e:
		default:
			b.logger.Warn("Host event channel full, dropping", "command", ev.Command)
		}
	default:
		b.logger.Debug("Unhandled host message", "type", env.Type)
	}
}

func (b *Bridge) replayMarks() [][]byte {
	var out [][]byte
	for _, m := range b.marks.All() {
		data, err := streaming.Marshal(streaming.TypeMark, 0, m)
		if err != nil {
			continue
		}
		out = append(out, data)
	}
	return out
}

// request sends a typed request and decodes the ack payload into result
// when it is non-nil.
func (b *Bridge) request(ctx context.Context, msgType string, payload, result any) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.QueryTimeout)
	defer cancel()

	id := b.nextID.Add(1)
	data, err := streaming.Marshal(msgType, id, payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}
	ack, err := b.conn.Request(ctx, id, data)
	if err != nil {
		return fmt.Errorf("%s: %w", msgType, err)
	}
	if result != nil {
		if err := json.Unmarshal(ack.Payload, result); err != nil {
			return fmt.Errorf("%s: decoding result: %w", msgType, err)
		}
	}
	return nil
}

func (b *Bridge) Spawn(ctx context.Context, req core.SpawnRequest) error {
	return b.request(ctx, streaming.TypeSpawn, req, nil)
}

func (b *Bridge) Despawn(ctx context.Context, d core.Despawn) error {
	return b.request(ctx, streaming.TypeDespawn, d, nil)
}

// Instance returns the last pushed state of id.
func (b *Bridge) Instance(_ context.Context, id core.ObjectID) (core.InstanceState, error) {
	st, _, ok := b.instances.Get(id)
	if !ok {
		return core.InstanceState{}, fmt.Errorf("%w: %s", core.ErrUnknownInstance, id)
	}
	return st, nil
}

// LineOfSight reports false when the host does not answer in time.
func (b *Bridge) LineOfSight(ctx context.Context, a, c core.Vector3) bool {
	var res streaming.BoolResult
	if err := b.request(ctx, streaming.TypeLineOfSight, streaming.LineOfSightRequest{A: a, B: c}, &res); err != nil {
		b.logger.Warn("Line of sight query failed", "error", err)
		return false
	}
	return res.Value
}

// IsWater reports false when the host does not answer in time.
func (b *Bridge) IsWater(ctx context.Context, pos core.Vector2) bool {
	var res streaming.BoolResult
	if err := b.request(ctx, streaming.TypeIsWater, streaming.IsWaterRequest{Pos: pos}, &res); err != nil {
		b.logger.Warn("Water query failed", "error", err)
		return false
	}
	return res.Value
}

func (b *Bridge) Mark(ctx context.Context, m core.Mark) error {
	if err := b.request(ctx, streaming.TypeMark, m, nil); err != nil {
		return err
	}
	b.marks.Set(m)
	return nil
}

func (b *Bridge) RemoveMark(ctx context.Context, id core.MarkID) error {
	if !b.marks.Delete(id) {
		return nil
	}
	return b.request(ctx, streaming.TypeRemoveMark, streaming.RemoveMarkRequest{ID: id}, nil)
}

// Message is fire and forget.
func (b *Bridge) Message(_ context.Context, m core.Message) error {
	data, err := streaming.Marshal(streaming.TypeMessage, 0, m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	b.conn.Send(data)
	return nil
}

// ForceToSpectators moves ucid to the spectator slots.
func (b *Bridge) ForceToSpectators(ctx context.Context, ucid core.Ucid) error {
	return b.request(ctx, streaming.TypeSpectators, streaming.SpectatorsRequest{Ucid: ucid}, nil)
}
