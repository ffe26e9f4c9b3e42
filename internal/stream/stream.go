// Package stream publishes campaign stats and snapshot notices to a
// WebSocket server for live dashboards.
package stream

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/OCAP2/campaign/internal/config"
	"github.com/OCAP2/campaign/internal/mission"
	"github.com/OCAP2/campaign/internal/wsconn"
	"github.com/OCAP2/campaign/pkg/core"
	"github.com/OCAP2/campaign/pkg/streaming"
)

const ackTimeout = 10 * time.Second

// Publisher streams stats over WebSocket.
type Publisher struct {
	conn       *wsconn.Conn
	cfg        config.StreamConfig
	ackTimeout time.Duration
}

// New creates a new stream publisher.
func New(cfg config.StreamConfig, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:       wsconn.New(logger, nil),
		cfg:        cfg,
		ackTimeout: ackTimeout,
	}
}

// Init connects to the WebSocket server.
func (p *Publisher) Init() error {
	return p.conn.Dial(p.cfg.URL, p.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (p *Publisher) Close() error {
	return p.conn.Close()
}

// sendEnvelope marshals the payload into an Envelope and pushes it
// to the write loop (fire-and-forget).
func (p *Publisher) sendEnvelope(msgType string, payload any) error {
	data, err := streaming.Marshal(msgType, 0, payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}
	p.conn.Send(data)
	return nil
}

// StartSession announces the session and waits for server ack. The
// announcement is replayed after every reconnect.
func (p *Publisher) StartSession(mc *mission.Context) error {
	data, err := streaming.Marshal(streaming.TypeStartSession, 0, streaming.StartSessionPayload{
		SessionID: mc.SessionID(),
		Campaign:  mc.Campaign(),
		StartedAt: mc.StartedAt(),
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", streaming.TypeStartSession, err)
	}

	p.conn.SetReplay(func() [][]byte { return [][]byte{data} })

	return p.conn.SendAndWait(data, streaming.TypeStartSession, p.ackTimeout)
}

// EndSession sends end_session and waits for server ack.
func (p *Publisher) EndSession() error {
	p.conn.SetReplay(nil)

	data, err := streaming.Marshal(streaming.TypeEndSession, 0, nil)
	if err != nil {
		return err
	}
	return p.conn.SendAndWait(data, streaming.TypeEndSession, p.ackTimeout)
}

// PublishStat streams one stat.
func (p *Publisher) PublishStat(st core.Stat) error {
	return p.sendEnvelope(streaming.TypeStat, st)
}

// PublishSnapshot announces a written snapshot.
func (p *Publisher) PublishSnapshot(snap *core.Snapshot) error {
	return p.sendEnvelope(streaming.TypeSnapshot, streaming.SnapshotPayload{
		ID:      snap.ID,
		TakenAt: snap.TakenAt,
		Summary: snap.Summary,
	})
}
