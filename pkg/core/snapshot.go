// pkg/core/snapshot.go
package core

import (
	"errors"
	"time"
)

// ErrNoSnapshot is returned by a store that has never been written.
var ErrNoSnapshot = errors.New("no snapshot stored")

// SnapshotSummary counts the entities in a snapshot.
type SnapshotSummary struct {
	Objectives int `json:"objectives"`
	Groups     int `json:"groups"`
	Units      int `json:"units"`
	Players    int `json:"players"`
}

// Snapshot is one serialized copy of the persisted campaign state.
type Snapshot struct {
	ID        string          `json:"id"`
	Campaign  string          `json:"campaign"`
	SessionID string          `json:"sessionId"`
	TakenAt   time.Time       `json:"takenAt"`
	Summary   SnapshotSummary `json:"summary"`
	// Data is the JSON encoding of the state.
	Data []byte `json:"-"`
}
