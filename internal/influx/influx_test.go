package influx

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OCAP2/campaign/internal/config"
	"github.com/OCAP2/campaign/pkg/core"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tagsOf(t *testing.T, st core.Stat) (map[string]string, map[string]any) {
	t.Helper()
	p := StatPoint(st)
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	return tags, fields
}

func TestStatPoint(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := core.Stat{
		Time:      at,
		Kind:      core.StatCapture,
		Side:      core.Blue,
		Player:    core.Ptr(core.Ucid("abc")),
		Objective: core.Ptr(core.ObjectiveID(7)),
		Value:     1,
		Detail:    "Kutaisi",
	}

	p := StatPoint(st)
	assert.Equal(t, "stat", p.Name())
	assert.Equal(t, at, p.Time())

	tags, fields := tagsOf(t, st)
	assert.Equal(t, "capture", tags["kind"])
	assert.Equal(t, "blue", tags["side"])
	assert.Equal(t, "abc", tags["player"])
	assert.Equal(t, int64(7), fields["objective"])
	assert.Equal(t, int64(1), fields["value"])
	assert.Equal(t, "Kutaisi", fields["detail"])
	assert.NotContains(t, fields, "group")
	assert.NotContains(t, fields, "unit")
}

func TestStatPoint_Minimal(t *testing.T) {
	tags, fields := tagsOf(t, core.Stat{Kind: core.StatUnitDead, Side: core.Red, Unit: core.Ptr(core.UnitID(3))})
	assert.NotContains(t, tags, "player")
	assert.Equal(t, "red", tags["side"])
	assert.Equal(t, int64(3), fields["unit"])
	assert.NotContains(t, fields, "detail")
}

func TestStatusPoint(t *testing.T) {
	p := StatusPoint(time.Unix(100, 0), core.Red, map[string]any{"objectives": 4})
	assert.Equal(t, "status", p.Name())
	require.Len(t, p.FieldList(), 1)
	assert.Equal(t, "objectives", p.FieldList()[0].Key)
}

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(config.InfluxConfig{Bucket: "stats"}, zerolog.Nop(), "")
	assert.ErrorIs(t, m.Connect(context.Background()), ErrDisabled)
	assert.False(t, m.Live())
	assert.Equal(t, []string{"stats", StatusBucket}, m.buckets)
}

func TestConnect_UnreachableFallsBackToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "influx_backup.log.gz")
	m := NewManager(config.InfluxConfig{
		Enabled:  true,
		Protocol: "http",
		Host:     "127.0.0.1",
		Port:     "1",
		Bucket:   "stats",
	}, zerolog.Nop(), path)

	require.NoError(t, m.Connect(context.Background()))
	assert.False(t, m.Live())
	require.NoError(t, m.WritePoint(context.Background(), StatusBucket,
		StatusPoint(time.Unix(5, 0), core.Blue, map[string]any{"players": 3})))
	require.NoError(t, m.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r, err := gzip.NewReader(f)
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Contains(t, string(out), "status,side=blue players=3i 5000000000")
}

func TestWritePoint_NotConnected(t *testing.T) {
	m := NewManager(config.InfluxConfig{Bucket: "stats"}, zerolog.Nop(), "")
	err := m.WriteStat(context.Background(), core.Stat{Kind: core.StatPoints})
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestWritePoint_Backup(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(config.InfluxConfig{Bucket: "stats"}, zerolog.Nop(), "")
	m.use(&backup{gz: gzip.NewWriter(&buf)})

	err := m.WriteStat(context.Background(), core.Stat{
		Time:  time.Unix(1, 0),
		Kind:  core.StatPoints,
		Side:  core.Blue,
		Value: 25,
	})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	r, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)

	line := string(out)
	assert.Contains(t, line, "stat,")
	assert.Contains(t, line, "kind=points")
	assert.Contains(t, line, "value=25i")
	assert.Contains(t, line, "1000000000")
}

func TestLiveWrite_UnknownBucket(t *testing.T) {
	l := &live{writers: map[string]influxdb2_api.WriteAPI{}}
	assert.ErrorContains(t, l.write("nope", StatusPoint(time.Now(), core.Red, nil)), `"nope"`)
}
