package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/OCAP2/campaign/internal/dispatcher"
	"github.com/OCAP2/campaign/pkg/core"
)

// Commands handled off the tick loop.
const (
	CommandStat     = ":STAT:"
	CommandSnapshot = ":SNAPSHOT:"
)

const saveTimeout = time.Minute

// RegisterHandlers registers the sink handlers with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	// Stats are high volume and may be dropped under pressure
	d.Register(CommandStat, m.handleStat, dispatcher.Buffered(10000))

	// Snapshots must not be lost, a full queue stalls the loop instead
	d.Register(CommandSnapshot, m.handleSnapshot, dispatcher.Buffered(4), dispatcher.Blocking(), dispatcher.Logged())
}

func (m *Manager) handleStat(e dispatcher.Event) (any, error) {
	st, err := dispatcher.Decode[core.Stat](e)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	for _, sink := range m.deps.StatSinks {
		if err := sink.WriteStat(ctx, st); err != nil {
			m.deps.Logger.Warn("Failed to write stat", "kind", st.Kind, "error", err)
		}
	}
	if m.deps.Publisher != nil {
		if err := m.deps.Publisher.PublishStat(st); err != nil {
			m.deps.Logger.Warn("Failed to publish stat", "kind", st.Kind, "error", err)
		}
	}
	return nil, nil
}

func (m *Manager) handleSnapshot(e dispatcher.Event) (any, error) {
	snap, err := dispatcher.Decode[*core.Snapshot](e)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("%s: nil snapshot", e.Command)
	}

	if snap.ID == "" {
		if snap.ID, err = m.NewSnapshotID(snap.TakenAt); err != nil {
			return nil, err
		}
	}
	if m.deps.Mission != nil {
		if snap.SessionID == "" {
			snap.SessionID = m.deps.Mission.SessionID()
		}
		if snap.Campaign == "" {
			snap.Campaign = m.deps.Mission.Campaign()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	start := time.Now()
	err = m.deps.Backend.Save(ctx, snap)
	m.recordWrite(snap, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to save snapshot %s: %w", snap.ID, err)
	}

	m.deps.Logger.Debug("Snapshot saved", "id", snap.ID, "bytes", len(snap.Data), "duration", time.Since(start))

	if m.deps.Publisher != nil {
		if err := m.deps.Publisher.PublishSnapshot(snap); err != nil {
			m.deps.Logger.Warn("Failed to publish snapshot", "id", snap.ID, "error", err)
		}
	}
	return snap.ID, nil
}
