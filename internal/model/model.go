package model

import (
	"time"

	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Session{},
	&Snapshot{},
}

// Session is one run of the campaign process
type Session struct {
	ID        string     `json:"id" gorm:"primaryKey;size:36"`
	Campaign  string     `json:"campaign" gorm:"size:127;index:idx_session_campaign"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt"`
}

func (*Session) TableName() string {
	return "sessions"
}

// Snapshot is one persisted copy of the campaign state. Data holds the
// JSON encoded state; Summary holds entity counts for quick inspection.
type Snapshot struct {
	ID        string         `json:"id" gorm:"primaryKey;size:26"`
	Campaign  string         `json:"campaign" gorm:"size:127;index:idx_snapshot_campaign_taken,priority:1"`
	SessionID string         `json:"sessionId" gorm:"size:36"`
	TakenAt   time.Time      `json:"takenAt" gorm:"index:idx_snapshot_campaign_taken,priority:2"`
	Size      int            `json:"size"`
	Summary   datatypes.JSON `json:"summary"`
	Data      datatypes.JSON `json:"data"`
}

func (*Snapshot) TableName() string {
	return "snapshots"
}
