package worker

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/OCAP2/campaign/internal/mission"
	"github.com/OCAP2/campaign/internal/storage"
	"github.com/OCAP2/campaign/pkg/core"
	"github.com/oklog/ulid/v2"
)

// StatSink receives every stat, e.g. the influx manager.
type StatSink interface {
	WriteStat(ctx context.Context, st core.Stat) error
}

// Publisher streams stats and snapshot notices, e.g. the websocket stream.
type Publisher interface {
	PublishStat(st core.Stat) error
	PublishSnapshot(snap *core.Snapshot) error
}

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Backend   storage.Backend
	Mission   *mission.Context
	Logger    *slog.Logger
	StatSinks []StatSink
	Publisher Publisher
}

// Manager runs the work that leaves the tick loop: writing snapshots and
// fanning stats out to the sinks.
type Manager struct {
	deps Dependencies

	mu           sync.Mutex
	entropy      *ulid.MonotonicEntropy
	lastWrite    time.Duration
	lastSnapshot *core.Snapshot
	saved        int
	failed       int
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{
		deps:    deps,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewSnapshotID returns a lexically sortable id for a snapshot taken at t.
// A zero t stands for now.
func (m *Manager) NewSnapshotID(t time.Time) (string, error) {
	if t.IsZero() {
		t = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), m.entropy)
	if err != nil {
		return "", fmt.Errorf("snapshot id for %s: %w", t.Format(time.RFC3339), err)
	}
	return id.String(), nil
}

// Stats is a point in time view of the snapshot writer.
type Stats struct {
	LastWriteDuration time.Duration
	LastSnapshotID    string
	LastSnapshotAt    time.Time
	Saved             int
	Failed            int
}

// GetStats returns the snapshot writer counters for monitoring.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{LastWriteDuration: m.lastWrite, Saved: m.saved, Failed: m.failed}
	if m.lastSnapshot != nil {
		s.LastSnapshotID = m.lastSnapshot.ID
		s.LastSnapshotAt = m.lastSnapshot.TakenAt
	}
	return s
}

func (m *Manager) recordWrite(snap *core.Snapshot, d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastWrite = d
	if err != nil {
		m.failed++
		return
	}
	m.saved++
	m.lastSnapshot = snap
}
