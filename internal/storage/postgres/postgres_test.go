package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/OCAP2/campaign/internal/config"
	"github.com/OCAP2/campaign/internal/model"
	"github.com/OCAP2/campaign/pkg/core"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// testDB opens a private in-memory database standing in for postgres.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func TestNew(t *testing.T) {
	b := New(Dependencies{Campaign: "c"})
	require.NotNil(t, b)
	assert.NoError(t, b.Close(), "closing before init is a no-op")
}

func TestInit_Unreachable(t *testing.T) {
	b := New(Dependencies{Campaign: "c", Conn: config.DBConfig{
		Host:     "127.0.0.1",
		Port:     "1",
		Username: "postgres",
		Database: "campaign",
		SSLMode:  "disable",
	}})

	err := b.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
	assert.NoError(t, b.Close())
}

func TestInitClose(t *testing.T) {
	b := New(Dependencies{DB: testDB(t), Campaign: "c"})

	require.NoError(t, b.Init())
	require.NotNil(t, b.Backend)
	assert.True(t, b.deps.DB.Migrator().HasTable("snapshots"))
	assert.True(t, b.deps.DB.Migrator().HasTable("sessions"))

	require.NoError(t, b.Close())
}

func TestSaveLoadWithRetention(t *testing.T) {
	b := New(Dependencies{DB: testDB(t), Campaign: "caucasus", Keep: 2})
	require.NoError(t, b.Init())
	defer b.Close()
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, b.Save(ctx, &core.Snapshot{
			ID:      id,
			TakenAt: base.Add(time.Duration(i) * time.Minute),
			Summary: core.SnapshotSummary{Groups: i},
			Data:    []byte(fmt.Sprintf(`{"n":%d}`, i)),
		}))
	}

	snap, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", snap.ID)
	assert.Equal(t, "caucasus", snap.Campaign)
	assert.Equal(t, 2, snap.Summary.Groups)
	assert.JSONEq(t, `{"n":2}`, string(snap.Data))

	var n int64
	require.NoError(t, b.deps.DB.Table("snapshots").Count(&n).Error)
	assert.Equal(t, int64(2), n, "oldest snapshot should be pruned")
}

func TestSessions(t *testing.T) {
	b := New(Dependencies{DB: testDB(t), Campaign: "c"})
	require.NoError(t, b.Init())
	defer b.Close()
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, b.StartSession(ctx, "s1", start))
	// starting twice is harmless
	require.NoError(t, b.StartSession(ctx, "s1", start))
	require.NoError(t, b.EndSession(ctx, "s1", start.Add(time.Hour)))

	var s model.Session
	require.NoError(t, b.deps.DB.First(&s, "id = ?", "s1").Error)
	assert.Equal(t, "c", s.Campaign)
	require.NotNil(t, s.EndedAt)
	assert.WithinDuration(t, start.Add(time.Hour), *s.EndedAt, time.Second)
}

func TestLoad_Empty(t *testing.T) {
	b := New(Dependencies{DB: testDB(t), Campaign: "c"})
	require.NoError(t, b.Init())
	defer b.Close()

	_, err := b.Load(context.Background())
	assert.ErrorIs(t, err, core.ErrNoSnapshot)
}
