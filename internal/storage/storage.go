// internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/OCAP2/campaign/pkg/core"
)

// Backend is the interface all snapshot stores must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Save stores snap as the newest snapshot of its campaign.
	Save(ctx context.Context, snap *core.Snapshot) error
	// Load returns the newest snapshot, or core.ErrNoSnapshot.
	Load(ctx context.Context) (*core.Snapshot, error)
}

// SessionTracker is an optional interface for backends that keep a record
// of process sessions next to the snapshots.
type SessionTracker interface {
	StartSession(ctx context.Context, id string, startedAt time.Time) error
	EndSession(ctx context.Context, id string, endedAt time.Time) error
}
