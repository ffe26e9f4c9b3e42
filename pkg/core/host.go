// pkg/core/host.go
package core

import (
	"context"
	"errors"
)

// ErrUnknownInstance is returned by a Host asked about an object it does not know.
var ErrUnknownInstance = errors.New("unknown instance")

// Host is the simulation engine that actually creates and destroys
// entities. Calls are made from the tick loop and must not block long.
type Host interface {
	Spawn(ctx context.Context, req SpawnRequest) error
	Despawn(ctx context.Context, d Despawn) error
	Instance(ctx context.Context, id ObjectID) (InstanceState, error)
	LineOfSight(ctx context.Context, a, b Vector3) bool
	IsWater(ctx context.Context, pos Vector2) bool
	Mark(ctx context.Context, m Mark) error
	RemoveMark(ctx context.Context, id MarkID) error
	Message(ctx context.Context, m Message) error
}

// SpawnUnit is one unit of a SpawnRequest.
type SpawnUnit struct {
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	Pos     Vector2 `json:"pos"`
	Alt     float64 `json:"alt,omitempty"`
	Heading float64 `json:"heading"`
}

// SpawnRequest asks the host to instantiate a group.
type SpawnRequest struct {
	Group    string      `json:"group"`
	Template string      `json:"template"`
	Side     Side        `json:"side"`
	Static   bool        `json:"static"`
	Air      bool        `json:"air,omitempty"`
	Units    []SpawnUnit `json:"units"`
}

// Despawn names what to destroy. Exactly one field is set: statics are
// removed one unit at a time, everything else by group.
type Despawn struct {
	Group  string `json:"group,omitempty"`
	Static string `json:"static,omitempty"`
}

func DespawnGroup(name string) Despawn  { return Despawn{Group: name} }
func DespawnStatic(name string) Despawn { return Despawn{Static: name} }

// InstanceState is what the host reports about a live object.
type InstanceState struct {
	Position Vector3 `json:"position"`
	Velocity Vector3 `json:"velocity"`
	Heading  float64 `json:"heading"`
	InAir    bool    `json:"inAir"`
	AGL      float64 `json:"agl"`
	Type     string  `json:"type"`
}

// MarkKind is the shape of a map mark.
type MarkKind string

const (
	MarkCircle MarkKind = "circle"
	MarkText   MarkKind = "text"
	MarkLine   MarkKind = "line"
)

// Mark is a map annotation visible to one side, or to all when Side is Neutral.
type Mark struct {
	ID     MarkID     `json:"id"`
	Kind   MarkKind   `json:"kind"`
	Side   Side       `json:"side"`
	Pos    Vector2    `json:"pos"`
	Radius float64    `json:"radius,omitempty"`
	To     *Vector2   `json:"to,omitempty"` // far end of a line
	Color  [4]float64 `json:"color"`
	Text   string     `json:"text,omitempty"`
}

// Message is chat or screen text sent to players.
type Message struct {
	// To is a player, a side or a slot. Everyone when all are empty.
	Player  *Ucid   `json:"player,omitempty"`
	Side    *Side   `json:"side,omitempty"`
	Slot    *SlotID `json:"slot,omitempty"`
	Text    string  `json:"text"`
	Seconds int     `json:"seconds"`
}

// TemplateUnit is one unit of a group template as read from the mission.
type TemplateUnit struct {
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	Pos     Vector2 `json:"pos"`
	Heading float64 `json:"heading"`
}

// Template is a group layout read from the mission.
type Template struct {
	Name   string         `json:"name"`
	Side   Side           `json:"side"`
	Static bool           `json:"static"`
	Air    bool           `json:"air,omitempty"`
	Units  []TemplateUnit `json:"units"`
}
