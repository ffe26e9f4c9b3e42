// Package world is the campaign state: the persisted entity store, the
// ephemeral runtime index that ties it to live host objects, and every
// operation the tick loop and event handlers run against it.
//
// A World is not safe for concurrent use. It is owned by the tick loop.
package world

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/OCAP2/campaign/internal/config"
	"github.com/OCAP2/campaign/internal/geo"
	"github.com/OCAP2/campaign/pkg/core"
)

// ErrNotFound is wrapped by every failed lookup.
var ErrNotFound = errors.New("not found")

// Business rule violations returned to the player that triggered them.
var (
	ErrInWater            = errors.New("position is in water")
	ErrNotNearLogistics   = errors.New("not near friendly logistics")
	ErrMustLand           = errors.New("you must land first")
	ErrCargoFull          = errors.New("cargo is full")
	ErrNoCargo            = errors.New("nothing on board")
	ErrNoCrates           = errors.New("no crates nearby")
	ErrNoTroops           = errors.New("no troops nearby")
	ErrLimitReached       = errors.New("limit reached")
	ErrTooClose           = errors.New("too close")
	ErrInsufficientPoints = errors.New("not enough points")
	ErrNotInSlot          = errors.New("player is not in a slot")
	ErrTooFast            = errors.New("moving too fast to drop cargo")
	ErrTooHigh            = errors.New("too high to drop cargo")
	ErrThreatened         = errors.New("objective is threatened")
	ErrNoPads             = errors.New("no free pad templates")
)

// NotFoundError names the entity a lookup failed for.
type NotFoundError struct {
	Kind string
	ID   any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: id}
}

func getOrNotFound[K comparable, V any](m map[K]*V, id K, kind string) (*V, error) {
	v, ok := m[id]
	if !ok || v == nil {
		return nil, notFound(kind, id)
	}
	return v, nil
}

// Dependencies holds everything a World needs.
type Dependencies struct {
	Config    *config.WorldConfig
	Host      core.Host
	Templates Templates
	// Projection names FARPs after their map grid. Optional.
	Projection *geo.Projection
	Logger     *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// World is the campaign state.
type World struct {
	cfg       *config.WorldConfig
	host      core.Host
	templates Templates
	proj      *geo.Projection
	log       *slog.Logger
	now       func() time.Time

	p *Persisted
	e *ephemeral
}

// New creates an empty world. Fill it with Import or Load.
func New(deps Dependencies) (*World, error) {
	if deps.Config == nil {
		return nil, errors.New("world config is required")
	}
	if deps.Host == nil {
		return nil, errors.New("host is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Templates == nil {
		deps.Templates = Templates{}
	}
	w := &World{
		cfg:       deps.Config,
		host:      deps.Host,
		templates: deps.Templates,
		proj:      deps.Projection,
		log:       deps.Logger.With("component", "world"),
		now:       deps.Now,
		p:         newPersisted(),
	}
	w.e = newEphemeral(deps.Config)
	return w, nil
}

// Load replaces the state with a snapshot written by Snapshot. Nothing is
// instantiated on the host; call RespawnAfterLoad for that.
func (w *World) Load(data []byte) error {
	p := newPersisted()
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}
	p.fill()
	w.p = p
	w.e = newEphemeral(w.cfg)
	for _, oid := range p.Farps.Sorted() {
		if obj, ok := p.Objectives[oid]; ok && obj.Farp != nil {
			w.e.usedPads[obj.Farp.PadTemplate] = struct{}{}
		}
	}
	w.adjustWarehouses()
	return nil
}

// Snapshot encodes the persisted state.
func (w *World) Snapshot() ([]byte, error) {
	return json.Marshal(w.p)
}

// Summary counts the persisted entities.
func (w *World) Summary() core.SnapshotSummary {
	return core.SnapshotSummary{
		Objectives: len(w.p.Objectives),
		Groups:     len(w.p.Groups),
		Units:      len(w.p.Units),
		Players:    len(w.p.Players),
	}
}

// MarkDirty flags the state as changed since the last snapshot.
func (w *World) MarkDirty() { w.e.dirty = true }

// TakeDirty reports and clears the dirty flag.
func (w *World) TakeDirty() bool {
	d := w.e.dirty
	w.e.dirty = false
	return d
}

// MaybeSnapshot returns a snapshot of the state when it changed since the
// last call, nil otherwise.
func (w *World) MaybeSnapshot(now time.Time) (*core.Snapshot, error) {
	if !w.e.dirty {
		return nil, nil
	}
	data, err := w.Snapshot()
	if err != nil {
		return nil, err
	}
	w.e.dirty = false
	return &core.Snapshot{TakenAt: now, Summary: w.Summary(), Data: data}, nil
}

// TakeStats returns and clears the stats emitted since the last call.
func (w *World) TakeStats() []core.Stat {
	st := w.e.stats
	w.e.stats = nil
	return st
}

func (w *World) stat(st core.Stat) {
	if st.Time.IsZero() {
		st.Time = w.now()
	}
	w.e.stats = append(w.e.stats, st)
}

// Objective returns the objective with id, or ErrNotFound.
func (w *World) Objective(id core.ObjectiveID) (*core.Objective, error) {
	return getOrNotFound(w.p.Objectives, id, "objective")
}

// Group returns the group with id, or ErrNotFound.
func (w *World) Group(id core.GroupID) (*core.Group, error) {
	return getOrNotFound(w.p.Groups, id, "group")
}

// Unit returns the unit with id, or ErrNotFound.
func (w *World) Unit(id core.UnitID) (*core.Unit, error) {
	return getOrNotFound(w.p.Units, id, "unit")
}

// Player returns the registered player with ucid, or ErrNotFound.
func (w *World) Player(ucid core.Ucid) (*core.Player, error) {
	return getOrNotFound(w.p.Players, ucid, "player")
}

// ObjectiveByName looks an objective up by its unique name.
func (w *World) ObjectiveByName(name string) (*core.Objective, error) {
	id, ok := w.p.ObjectivesByName[name]
	if !ok {
		return nil, notFound("objective", name)
	}
	return w.Objective(id)
}

// GroupByName looks a group up by its unique name.
func (w *World) GroupByName(name string) (*core.Group, error) {
	id, ok := w.p.GroupsByName[name]
	if !ok {
		return nil, notFound("group", name)
	}
	return w.Group(id)
}

// UnitByName looks a unit up by its unique name.
func (w *World) UnitByName(name string) (*core.Unit, error) {
	id, ok := w.p.UnitsByName[name]
	if !ok {
		return nil, notFound("unit", name)
	}
	return w.Unit(id)
}

// Objectives returns every objective ordered by id.
func (w *World) Objectives() []*core.Objective {
	out := make([]*core.Objective, 0, len(w.p.Objectives))
	for _, id := range sortedKeys(w.p.Objectives) {
		out = append(out, w.p.Objectives[id])
	}
	return out
}

// Players returns every registered player ordered by ucid.
func (w *World) Players() []*core.Player {
	out := make([]*core.Player, 0, len(w.p.Players))
	for _, id := range sortedKeys(w.p.Players) {
		out = append(out, w.p.Players[id])
	}
	return out
}

// Status is a point in time summary of the world, safe to hand to other
// goroutines.
type Status struct {
	Objectives map[core.Side]int
	Players    map[core.Side]int
	Groups     int
	Units      int
	Spawn      int
	Despawn    int
	Delayed    int
}

// Status summarizes the world.
func (w *World) Status() Status {
	s := Status{
		Objectives: make(map[core.Side]int),
		Players:    make(map[core.Side]int),
		Groups:     len(w.p.Groups),
		Units:      len(w.p.Units),
	}
	for _, obj := range w.p.Objectives {
		s.Objectives[obj.Owner]++
	}
	for _, p := range w.p.Players {
		s.Players[p.Side]++
	}
	s.Spawn, s.Despawn, s.Delayed = w.QueueLens()
	return s
}

// headingDir is the unit vector pointing along heading h.
func headingDir(h float64) core.Vector2 {
	s, c := math.Sincos(h)
	return core.Vector2{X: c, Y: s}
}
