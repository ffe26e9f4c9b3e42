// pkg/core/player.go
package core

import (
	"strings"
	"time"
)

// MaxAltNames bounds the alternate names remembered per player.
const MaxAltNames = 5

// LifeState is the life pool of one life type.
type LifeState struct {
	ResetAt time.Time `json:"resetAt"`
	Lives   uint8     `json:"lives"`
}

// Player is a registered participant.
type Player struct {
	Ucid         Ucid                   `json:"ucid"`
	Name         string                 `json:"name"`
	AltNames     []string               `json:"altNames,omitempty"`
	Side         Side                   `json:"side"`
	SideSwitches *int                   `json:"sideSwitches,omitempty"`
	Lives        map[LifeType]LifeState `json:"lives"`
	Crates       []GroupID              `json:"crates,omitempty"`
	Points       int                    `json:"points"`

	CurrentSlot *SlotID          `json:"-"`
	Instance    *InstancedPlayer `json:"-"`
}

// SeenName records name as the current name, keeping the previous one
// among the alternates.
func (p *Player) SeenName(name string) {
	if name == "" || name == p.Name {
		return
	}
	alts := []string{p.Name}
	for _, n := range p.AltNames {
		if n != name && n != p.Name {
			alts = append(alts, n)
		}
	}
	if len(alts) > MaxAltNames {
		alts = alts[:MaxAltNames]
	}
	p.AltNames = alts
	p.Name = name
}

// InstancedPlayer is the last known state of a player's aircraft.
type InstancedPlayer struct {
	Position Vector3      `json:"position"`
	Velocity Vector3      `json:"velocity"`
	Heading  float64      `json:"heading"`
	Typ      string       `json:"type"`
	InAir    bool         `json:"inAir"`
	LandedAt *ObjectiveID `json:"landedAt,omitempty"`
	// AGL is the height above ground in meters.
	AGL float64 `json:"agl"`
}

// Pos is the position on the map plane.
func (i *InstancedPlayer) Pos() Vector2 { return i.Position.Flat() }

// SpeedKMH is the ground speed in km/h.
func (i *InstancedPlayer) SpeedKMH() float64 { return i.Velocity.Length() * 3.6 }

// ProjectedPos returns where the aircraft will be after d at its current velocity.
func (i *InstancedPlayer) ProjectedPos(d time.Duration) Vector2 {
	return i.Position.Add(i.Velocity.Scale(d.Seconds())).Flat()
}

// SlotKindOf classifies a slot id the way the host names its special slots.
func SlotKindOf(slot SlotID) SlotKind {
	s := string(slot)
	switch {
	case s == "" || s == "0":
		return SlotSpectator
	case strings.HasPrefix(s, "instructor_"):
		return SlotInstructor
	case strings.HasPrefix(s, "artillery_commander_"):
		return SlotArtilleryCommand
	case strings.HasPrefix(s, "forward_observer_"):
		return SlotForwardObserver
	case strings.HasPrefix(s, "observer_"):
		return SlotObserver
	}
	return SlotNormal
}
