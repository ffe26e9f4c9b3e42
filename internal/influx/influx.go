// Package influx ships campaign stats and status samples to InfluxDB. When
// the server is down at startup the points go to a gzip line protocol file
// that can be imported later.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/OCAP2/campaign/internal/config"
	"github.com/OCAP2/campaign/pkg/core"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
)

// StatusBucket receives the periodic campaign status points.
const StatusBucket = "campaign_status"

// campaigns run for months
const retention = 365 * 24 * time.Hour

var (
	ErrDisabled   = errors.New("influx.enabled is false")
	ErrNotStarted = errors.New("influx manager not connected")
)

// sink is where points end up: the live server or the backup file.
type sink interface {
	write(bucket string, p *influxdb2_write.Point) error
	close() error
}

type Manager struct {
	cfg        config.InfluxConfig
	buckets    []string
	backupPath string
	log        zerolog.Logger

	client influxdb2.Client
	mu     sync.Mutex
	out    sink
}

// NewManager prepares a manager for the stats bucket of cfg and the status
// bucket. Nothing is written before Connect.
func NewManager(cfg config.InfluxConfig, log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		cfg:        cfg,
		buckets:    []string{cfg.Bucket, StatusBucket},
		backupPath: backupPath,
		log:        log,
	}
}

// Live reports whether points go to the server rather than the backup file.
func (m *Manager) Live() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.out.(*live)
	return ok
}

// Connect pings the server and makes sure the org and buckets exist. An
// unreachable server is not an error: points are written to the backup
// file instead.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.client = influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port),
		m.cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(500).SetFlushInterval(1000),
	)

	if ok, err := m.client.Ping(ctx); err != nil || !ok {
		m.log.Warn().Err(err).Str("backupPath", m.backupPath).
			Msg("InfluxDB unreachable, writing to backup file")
		b, err := openBackup(m.backupPath)
		if err != nil {
			return err
		}
		m.use(b)
		return nil
	}

	if err := m.ensureBuckets(ctx); err != nil {
		return err
	}
	m.use(m.newLive())
	m.log.Info().Strs("buckets", m.buckets).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) use(s sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.out = s
}

func (m *Manager) ensureBuckets(ctx context.Context) error {
	orgs := m.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.log.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
		if org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org); err != nil {
			return fmt.Errorf("creating organization %s: %w", m.cfg.Org, err)
		}
	}

	buckets := m.client.BucketsAPI()
	expire := domain.RetentionRuleTypeExpire
	for _, name := range m.buckets {
		if _, err := buckets.FindBucketByName(ctx, name); err == nil {
			continue
		}
		m.log.Info().Str("bucket", name).Msg("Bucket not found, creating")
		rule := domain.RetentionRule{Type: &expire, EverySeconds: int64(retention / time.Second)}
		if _, err := buckets.CreateBucketWithName(ctx, org, name, rule); err != nil {
			return fmt.Errorf("creating bucket %s: %w", name, err)
		}
	}
	return nil
}

// WritePoint queues point for bucket. Errors from the server show up in the
// log, not here.
func (m *Manager) WritePoint(_ context.Context, bucket string, point *influxdb2_write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.out == nil {
		return ErrNotStarted
	}
	return m.out.write(bucket, point)
}

// WriteStat records a campaign stat in the stats bucket.
func (m *Manager) WriteStat(ctx context.Context, st core.Stat) error {
	return m.WritePoint(ctx, m.cfg.Bucket, StatPoint(st))
}

// Close flushes pending points and releases the client and backup file.
func (m *Manager) Close() error {
	m.mu.Lock()
	out := m.out
	m.out = nil
	m.mu.Unlock()

	var err error
	if out != nil {
		err = out.close()
	}
	if m.client != nil {
		m.client.Close()
	}
	return err
}

// live writes through the client's batching write APIs, one per bucket.
type live struct {
	writers map[string]influxdb2_api.WriteAPI
}

func (m *Manager) newLive() *live {
	l := &live{writers: make(map[string]influxdb2_api.WriteAPI, len(m.buckets))}
	for _, bucket := range m.buckets {
		w := m.client.WriteAPI(m.cfg.Org, bucket)
		l.writers[bucket] = w
		go func() {
			for err := range w.Errors() {
				m.log.Error().Err(err).Str("bucket", bucket).Msg("Error sending data to InfluxDB")
			}
		}()
	}
	return l
}

func (l *live) write(bucket string, p *influxdb2_write.Point) error {
	w, ok := l.writers[bucket]
	if !ok {
		return fmt.Errorf("influxDB bucket %q not registered", bucket)
	}
	w.WritePoint(p)
	return nil
}

func (l *live) close() error {
	for _, w := range l.writers {
		w.Flush()
	}
	return nil
}

// backup appends line protocol to a gzip stream. The bucket is not kept;
// stats and status points differ by measurement name.
type backup struct {
	gz   *gzip.Writer
	file *os.File
}

func openBackup(path string) (*backup, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("error creating backup file: %w", err)
	}
	return &backup{gz: gzip.NewWriter(f), file: f}, nil
}

func (b *backup) write(_ string, p *influxdb2_write.Point) error {
	line := influxdb2_write.PointToLineProtocol(p, time.Nanosecond)
	if _, err := b.gz.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

func (b *backup) close() error {
	err := b.gz.Close()
	if b.file != nil {
		err = errors.Join(err, b.file.Close())
	}
	return err
}

// StatPoint converts a stat into a point in the "stat" measurement,
// tagged by kind and side.
func StatPoint(st core.Stat) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement("stat").
		AddTag("kind", string(st.Kind)).
		AddTag("side", st.Side.String()).
		AddField("value", st.Value).
		SetTime(st.Time)
	if st.Player != nil {
		p.AddTag("player", string(*st.Player))
	}
	if st.Objective != nil {
		p.AddField("objective", int64(*st.Objective))
	}
	if st.Group != nil {
		p.AddField("group", int64(*st.Group))
	}
	if st.Unit != nil {
		p.AddField("unit", int64(*st.Unit))
	}
	if st.Detail != "" {
		p.AddField("detail", st.Detail)
	}
	return p
}

// StatusPoint converts per side counters into a status point.
func StatusPoint(at time.Time, side core.Side, fields map[string]any) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement("status").
		AddTag("side", side.String()).
		SetTime(at)
	for k, v := range fields {
		p.AddField(k, v)
	}
	return p
}
