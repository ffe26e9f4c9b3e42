package streaming

import (
	"encoding/json"
	"time"

	"github.com/OCAP2/campaign/pkg/core"
)

// Message types sent to the stat stream server.
const (
	TypeStartSession = "start_session"
	TypeEndSession   = "end_session"
	TypeStat         = "stat"
	TypeSnapshot     = "snapshot"
)

// Message types exchanged with the in-sim host bridge. Requests carry an id
// and are answered with an ack for the same id.
const (
	TypeSpawn         = "spawn"
	TypeDespawn       = "despawn"
	TypeLineOfSight   = "line_of_sight"
	TypeIsWater       = "is_water"
	TypeMark          = "mark"
	TypeRemoveMark    = "remove_mark"
	TypeMessage       = "message"
	TypeSpectators    = "force_spectators"
	TypeInstanceState = "instance_state"
	TypeHostEvent     = "event"
)

// TypeAck is the type of every acknowledgement.
const TypeAck = "ack"

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	ID      uint64          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AckMessage is the peer's acknowledgement response. Requests with an id
// are matched by ID, the stream handshake by For.
type AckMessage struct {
	Type    string          `json:"type"` // always "ack"
	For     string          `json:"for"`  // the message type being acknowledged
	ID      uint64          `json:"id,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StartSessionPayload identifies the campaign session being streamed.
type StartSessionPayload struct {
	SessionID string    `json:"sessionId"`
	Campaign  string    `json:"campaign"`
	StartedAt time.Time `json:"startedAt"`
}

// SnapshotPayload announces that a snapshot was written.
type SnapshotPayload struct {
	ID      string               `json:"id"`
	TakenAt time.Time            `json:"takenAt"`
	Summary core.SnapshotSummary `json:"summary"`
}

// LineOfSightRequest asks whether b is visible from a.
type LineOfSightRequest struct {
	A core.Vector3 `json:"a"`
	B core.Vector3 `json:"b"`
}

// IsWaterRequest asks whether the surface at Pos is water.
type IsWaterRequest struct {
	Pos core.Vector2 `json:"pos"`
}

// RemoveMarkRequest removes a map mark.
type RemoveMarkRequest struct {
	ID core.MarkID `json:"id"`
}

// SpectatorsRequest moves a player out of their aircraft.
type SpectatorsRequest struct {
	Ucid core.Ucid `json:"ucid"`
}

// BoolResult is the ack payload of yes/no queries.
type BoolResult struct {
	Value bool `json:"value"`
}

// InstanceStatePayload is pushed by the host with fresh states of live
// objects. Gone lists objects that no longer exist.
type InstanceStatePayload struct {
	States map[core.ObjectID]core.InstanceState `json:"states"`
	Gone   []core.ObjectID                      `json:"gone,omitempty"`
}

// HostEvent is a game event pushed by the host, routed by Command.
type HostEvent struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data"`
}

// Marshal builds a JSON-encoded Envelope from a message type and payload.
func Marshal(msgType string, id uint64, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Type: msgType, ID: id, Payload: raw})
}
