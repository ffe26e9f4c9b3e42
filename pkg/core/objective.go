// pkg/core/objective.go
package core

import (
	"fmt"
	"time"
)

// ZoneKind selects the shape of a Zone.
type ZoneKind string

const (
	ZoneCircle ZoneKind = "circle"
	ZoneQuad   ZoneKind = "quad"
)

// Zone is the area of an objective. Circle zones use Center and Radius,
// quad zones use Points (in ring order) and Center as their centroid.
type Zone struct {
	Kind   ZoneKind   `json:"kind"`
	Center Vector2    `json:"center"`
	Radius float64    `json:"radius,omitempty"`
	Points [4]Vector2 `json:"points,omitempty"`
}

// CircleZone builds a circular zone.
func CircleZone(center Vector2, radius float64) Zone {
	return Zone{Kind: ZoneCircle, Center: center, Radius: radius}
}

// BoundingRadius is the radius of the smallest circle around Center
// containing the zone.
func (z Zone) BoundingRadius() float64 {
	if z.Kind != ZoneQuad {
		return z.Radius
	}
	r := 0.0
	for _, p := range z.Points {
		r = max(r, z.Center.Distance(p))
	}
	return r
}

// ObjectiveKind is the category of an objective.
type ObjectiveKind string

const (
	KindAirbase   ObjectiveKind = "Airbase"
	KindFob       ObjectiveKind = "Fob"
	KindFarp      ObjectiveKind = "Farp"
	KindLogistics ObjectiveKind = "Logistics"
)

// ParseObjectiveKind parses the name used in mission trigger zones.
func ParseObjectiveKind(s string) (ObjectiveKind, error) {
	switch s {
	case "AB", "Airbase":
		return KindAirbase, nil
	case "FO", "Fob":
		return KindFob, nil
	case "LO", "Logistics":
		return KindLogistics, nil
	case "Farp":
		return KindFarp, nil
	}
	return "", fmt.Errorf("invalid objective kind: %q", s)
}

// FarpInfo is carried by FARP objectives.
type FarpInfo struct {
	Deployable  Deployable `json:"deployable"`
	PadTemplate string     `json:"padTemplate"`
}

// Inventory is the stock of one item at an objective.
type Inventory struct {
	Stored   uint32 `json:"stored"`
	Capacity uint32 `json:"capacity"`
}

// Percent is how full the inventory is, false when it holds nothing by
// design.
func (i Inventory) Percent() (uint8, bool) {
	if i.Capacity == 0 {
		return 0, false
	}
	return uint8(min(100, uint64(i.Stored)*100/uint64(i.Capacity))), true
}

// Add stores n more, up to the capacity.
func (i *Inventory) Add(n uint32) {
	i.Stored = uint32(min(uint64(i.Capacity), uint64(i.Stored)+uint64(n)))
}

// Sub removes n, stopping at zero.
func (i *Inventory) Sub(n uint32) {
	i.Stored -= min(n, i.Stored)
}

// Warehouse is the supply record of an objective. Non hub objectives are
// fed by their Supplier, a logistics hub lists what it feeds in
// Destinations.
type Warehouse struct {
	Equipment    map[string]Inventory `json:"equipment,omitempty"`
	Liquids      map[string]Inventory `json:"liquids,omitempty"`
	Supplier     *ObjectiveID         `json:"supplier,omitempty"`
	Destinations []ObjectiveID        `json:"destinations,omitempty"`
}

// Item returns the inventory of a piece of equipment or a liquid.
func (w *Warehouse) Item(liquid bool, name string) Inventory {
	if liquid {
		return w.Liquids[name]
	}
	return w.Equipment[name]
}

// SetItem replaces the inventory of a piece of equipment or a liquid.
func (w *Warehouse) SetItem(liquid bool, name string, inv Inventory) {
	m := &w.Equipment
	if liquid {
		m = &w.Liquids
	}
	if *m == nil {
		*m = make(map[string]Inventory)
	}
	(*m)[name] = inv
}

// Objective is a capturable location.
type Objective struct {
	ID     ObjectiveID   `json:"id"`
	Name   string        `json:"name"`
	Pos    Vector2       `json:"pos"`
	Zone   Zone          `json:"zone"`
	Owner  Side          `json:"owner"`
	Kind   ObjectiveKind `json:"kind"`
	Farp   *FarpInfo     `json:"farp,omitempty"`
	Health uint8         `json:"health"`
	Logi   uint8         `json:"logi"`
	// Groups is the garrison of each side; only the owner's set is active.
	Groups         map[Side][]GroupID  `json:"groups"`
	Slots          map[SlotID]SlotInfo `json:"slots"`
	Threatened     bool                `json:"threatened"`
	LastThreatened time.Time           `json:"lastThreatened"`
	LastChange     time.Time           `json:"lastChange"`
	LastActivate   time.Time           `json:"lastActivate"`
	Warehouse      Warehouse           `json:"warehouse"`
	// Supply and Fuel are the mean fill of the equipment and liquid stocks.
	Supply uint8 `json:"supply"`
	Fuel   uint8 `json:"fuel"`

	Spawned   bool `json:"-"`
	NeedsMark bool `json:"-"`
}

// Captureable reports whether the objective can change hands.
func (o *Objective) Captureable() bool { return o.Logi == 0 }

// IsHub reports whether the objective is a logistics hub.
func (o *Objective) IsHub() bool { return o.Kind == KindLogistics }

// IsFarp reports whether the objective was built by players.
func (o *Objective) IsFarp() bool { return o.Kind == KindFarp }

// Garrison returns the active garrison.
func (o *Objective) Garrison() []GroupID { return o.Groups[o.Owner] }

// SlotKind distinguishes pilot slots from the special roles.
type SlotKind string

const (
	SlotNormal           SlotKind = "normal"
	SlotSpectator        SlotKind = "spectator"
	SlotObserver         SlotKind = "observer"
	SlotInstructor       SlotKind = "instructor"
	SlotArtilleryCommand SlotKind = "artillery_commander"
	SlotForwardObserver  SlotKind = "forward_observer"
)

// IsSpecial reports whether the slot bypasses authorization.
func (k SlotKind) IsSpecial() bool { return k != SlotNormal }

// SlotInfo describes one pilot slot.
type SlotInfo struct {
	ID        SlotID      `json:"id"`
	Kind      SlotKind    `json:"kind"`
	Side      Side        `json:"side"`
	Objective ObjectiveID `json:"objective"`
	UnitType  string      `json:"unitType"`
	LifeType  LifeType    `json:"lifeType"`
}
