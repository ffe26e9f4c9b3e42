// pkg/core/stat.go
package core

import "time"

// StatKind names a state transition worth recording.
type StatKind string

const (
	StatRegistered      StatKind = "registered"
	StatSideSwitch      StatKind = "side_switch"
	StatConnected       StatKind = "connected"
	StatDisconnected    StatKind = "disconnected"
	StatSlot            StatKind = "slot"
	StatDeslot          StatKind = "deslot"
	StatTakeoff         StatKind = "takeoff"
	StatLand            StatKind = "land"
	StatLivesReset      StatKind = "lives_reset"
	StatPoints          StatKind = "points"
	StatCapture         StatKind = "capture"
	StatObjectiveHealth StatKind = "objective_health"
	StatObjectiveDelete StatKind = "objective_delete"
	StatRepair          StatKind = "repair"
	StatThreat          StatKind = "threat"
	StatGroupAdd        StatKind = "group_add"
	StatGroupDelete     StatKind = "group_delete"
	StatUnitDead        StatKind = "unit_dead"
	StatCrateSpawn      StatKind = "crate_spawn"
	StatCargo           StatKind = "cargo"
	StatDeploy          StatKind = "deploy"
	StatFarp            StatKind = "farp"
	StatSupplyTransfer  StatKind = "supply_transfer"
	StatSupplyDelivery  StatKind = "supply_delivery"
)

// Stat is one recorded event. Only the fields relevant to Kind are set.
type Stat struct {
	Time      time.Time    `json:"time"`
	Kind      StatKind     `json:"kind"`
	Side      Side         `json:"side"`
	Player    *Ucid        `json:"player,omitempty"`
	Objective *ObjectiveID `json:"objective,omitempty"`
	Group     *GroupID     `json:"group,omitempty"`
	Unit      *UnitID      `json:"unit,omitempty"`
	Value     int          `json:"value,omitempty"`
	Detail    string       `json:"detail,omitempty"`
}

// Ptr returns a pointer to v, for filling optional fields.
func Ptr[T any](v T) *T { return &v }
