package core

import "strconv"

// ObjectiveID identifies an objective for the lifetime of the campaign.
type ObjectiveID int64

// GroupID identifies a group for the lifetime of the campaign.
type GroupID int64

// UnitID identifies a unit for the lifetime of the campaign.
type UnitID int64

// Ucid is the stable cross-session identity of a player.
type Ucid string

// SlotID identifies a player slot in the mission.
type SlotID string

// ObjectID is a host-engine handle to a live instance. It is only valid
// while the instance exists and is never persisted.
type ObjectID string

// MarkID identifies a map marker placed through the host.
type MarkID int64

func (id ObjectiveID) String() string { return "obj" + strconv.FormatInt(int64(id), 10) }
func (id GroupID) String() string     { return "gid" + strconv.FormatInt(int64(id), 10) }
func (id UnitID) String() string      { return "uid" + strconv.FormatInt(int64(id), 10) }
