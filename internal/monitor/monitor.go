package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/OCAP2/campaign/internal/influx"
	"github.com/OCAP2/campaign/internal/mission"
	"github.com/OCAP2/campaign/internal/worker"
	"github.com/OCAP2/campaign/internal/world"
	"github.com/OCAP2/campaign/pkg/core"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	defaultInterval = 10 * time.Second
	statusFileName  = "status.txt"
)

// StatusSource returns the world summary of the last tick.
type StatusSource interface {
	Status() world.Status
}

// WriterStats exposes the snapshot writer counters.
type WriterStats interface {
	GetStats() worker.Stats
}

// PendingSource reports how many events wait in each buffered handler.
type PendingSource interface {
	Pending() map[string]int
}

// PointWriter stores status points, e.g. the influx manager.
type PointWriter interface {
	WritePoint(ctx context.Context, bucket string, point *influxdb2_write.Point) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	World   StatusSource
	Writer  WriterStats
	Buffers PendingSource
	Mission *mission.Context
	Points  PointWriter
	Logger  *slog.Logger
	// StatusDir receives status.txt; empty disables the file.
	StatusDir string
	Interval  time.Duration
	Now       func() time.Time
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = defaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Report is one status sample.
type Report struct {
	Time       time.Time          `json:"time"`
	SessionID  string             `json:"sessionId,omitempty"`
	Campaign   string             `json:"campaign,omitempty"`
	Tick       uint64             `json:"tick"`
	Objectives map[string]int     `json:"objectives"`
	Players    map[string]int     `json:"players"`
	Groups     int                `json:"groups"`
	Units      int                `json:"units"`
	Queues     map[string]int     `json:"queues"`
	Buffers    map[string]int     `json:"buffers,omitempty"`
	Snapshots  SnapshotWriterInfo `json:"snapshots"`
}

// SnapshotWriterInfo summarizes the snapshot writer.
type SnapshotWriterInfo struct {
	Saved             int       `json:"saved"`
	Failed            int       `json:"failed"`
	LastID            string    `json:"lastId,omitempty"`
	LastAt            time.Time `json:"lastAt"`
	LastWriteDuration float64   `json:"lastWriteDurationMs"`
}

// GetProgramStatus samples the world and the writer.
func (s *Service) GetProgramStatus() Report {
	r := Report{
		Time:       s.deps.Now().UTC(),
		Objectives: map[string]int{},
		Players:    map[string]int{},
		Queues:     map[string]int{},
	}
	if mc := s.deps.Mission; mc != nil {
		r.SessionID = mc.SessionID()
		r.Campaign = mc.Campaign()
		r.Tick = mc.Tick()
	}
	if s.deps.World != nil {
		st := s.deps.World.Status()
		for side, n := range st.Objectives {
			r.Objectives[side.String()] = n
		}
		for side, n := range st.Players {
			r.Players[side.String()] = n
		}
		r.Groups = st.Groups
		r.Units = st.Units
		r.Queues["spawn"] = st.Spawn
		r.Queues["despawn"] = st.Despawn
		r.Queues["delayed"] = st.Delayed
	}
	if s.deps.Buffers != nil {
		r.Buffers = s.deps.Buffers.Pending()
	}
	if s.deps.Writer != nil {
		ws := s.deps.Writer.GetStats()
		r.Snapshots = SnapshotWriterInfo{
			Saved:             ws.Saved,
			Failed:            ws.Failed,
			LastID:            ws.LastSnapshotID,
			LastAt:            ws.LastSnapshotAt,
			LastWriteDuration: float64(ws.LastWriteDuration.Microseconds()) / 1000,
		}
	}
	return r
}

// points turns a report into one status point per side plus one for the
// whole process.
func points(r Report) []*influxdb2_write.Point {
	var out []*influxdb2_write.Point
	for _, side := range []core.Side{core.Blue, core.Red, core.Neutral} {
		out = append(out, influx.StatusPoint(r.Time, side, map[string]any{
			"objectives": r.Objectives[side.String()],
			"players":    r.Players[side.String()],
		}))
	}
	p := influxdb2_write.NewPointWithMeasurement("process").
		AddField("groups", r.Groups).
		AddField("units", r.Units).
		AddField("spawn_queue", r.Queues["spawn"]).
		AddField("despawn_queue", r.Queues["despawn"]).
		AddField("delayed_queue", r.Queues["delayed"]).
		AddField("snapshots_saved", r.Snapshots.Saved).
		AddField("snapshots_failed", r.Snapshots.Failed).
		AddField("last_write_ms", r.Snapshots.LastWriteDuration).
		SetTime(r.Time)
	for cmd, n := range r.Buffers {
		p.AddField("buffer"+strings.ReplaceAll(strings.ToLower(cmd), ":", "_"), n)
	}
	if r.SessionID != "" {
		p.AddTag("session", r.SessionID)
	}
	return append(out, p)
}

// Sample takes one report, rewrites the status file and writes the points.
func (s *Service) Sample(ctx context.Context) Report {
	r := s.GetProgramStatus()
	if err := s.writeStatusFile(r); err != nil {
		s.deps.Logger.Error("Error writing status file", "error", err)
	}
	if s.deps.Points != nil {
		for _, p := range points(r) {
			if err := s.deps.Points.WritePoint(ctx, influx.StatusBucket, p); err != nil {
				s.deps.Logger.Debug("Status point dropped", "error", err)
				break
			}
		}
	}
	s.deps.Logger.Debug("Campaign status",
		"tick", r.Tick,
		"groups", r.Groups,
		"units", r.Units,
		"spawnQueue", r.Queues["spawn"],
		"snapshotsSaved", r.Snapshots.Saved,
	)
	return r
}

func (s *Service) writeStatusFile(r Report) error {
	if s.deps.StatusDir == "" {
		return nil
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return os.WriteFile(filepath.Join(s.deps.StatusDir, statusFileName), append(data, '\n'), 0o644)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)

		s.deps.Logger.Debug("Starting status monitor goroutine", "interval", s.deps.Interval)
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.Sample(context.Background())
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for it to exit
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
