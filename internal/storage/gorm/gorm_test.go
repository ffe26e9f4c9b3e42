package gormstorage

import (
	"context"
	"testing"
	"time"

	"github.com/OCAP2/campaign/pkg/core"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestBackend(t *testing.T, campaign string) *Backend {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	return New(Dependencies{DB: db, Campaign: campaign})
}

func TestInit_NoDB(t *testing.T) {
	b := New(Dependencies{})
	require.Error(t, b.Init())
	assert.NoError(t, b.Close())
}

func TestNotInitialized(t *testing.T) {
	b := newTestBackend(t, "c")
	ctx := context.Background()

	assert.Error(t, b.Save(ctx, &core.Snapshot{ID: "x"}))
	_, err := b.Load(ctx)
	assert.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	b := newTestBackend(t, "caucasus")
	require.NoError(t, b.Init())
	defer b.Close()
	ctx := context.Background()

	_, err := b.Load(ctx)
	require.ErrorIs(t, err, core.ErrNoSnapshot)

	taken := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, b.Save(ctx, &core.Snapshot{
		ID:        "01HX",
		SessionID: "sess",
		TakenAt:   taken,
		Summary:   core.SnapshotSummary{Objectives: 12, Players: 3},
		Data:      []byte(`{"objectives":{}}`),
	}))

	snap, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "01HX", snap.ID)
	assert.Equal(t, "caucasus", snap.Campaign, "campaign falls back to the backend's")
	assert.Equal(t, "sess", snap.SessionID)
	assert.True(t, taken.Equal(snap.TakenAt))
	assert.Equal(t, 12, snap.Summary.Objectives)
	assert.JSONEq(t, `{"objectives":{}}`, string(snap.Data))
}

func TestLoad_OtherCampaignIgnored(t *testing.T) {
	b := newTestBackend(t, "syria")
	require.NoError(t, b.Init())
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, &core.Snapshot{ID: "1", Campaign: "caucasus", TakenAt: time.Now(), Data: []byte(`{}`)}))

	_, err := b.Load(ctx)
	assert.ErrorIs(t, err, core.ErrNoSnapshot)
}

func TestSave_DuplicateID(t *testing.T) {
	b := newTestBackend(t, "c")
	require.NoError(t, b.Init())
	defer b.Close()
	ctx := context.Background()

	snap := &core.Snapshot{ID: "dup", TakenAt: time.Now(), Data: []byte(`{}`)}
	require.NoError(t, b.Save(ctx, snap))
	assert.Error(t, b.Save(ctx, snap))
}
