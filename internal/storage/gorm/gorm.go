// Package gormstorage implements the storage.Backend interface on top of any
// GORM dialect. The SQLite and PostgreSQL backends embed it.
package gormstorage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/OCAP2/campaign/internal/database"
	"github.com/OCAP2/campaign/internal/model"
	"github.com/OCAP2/campaign/pkg/core"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB       *gorm.DB
	Campaign string
	// Keep is the number of snapshots retained per campaign; 0 keeps all.
	Keep   int
	Logger *slog.Logger
}

// Backend stores snapshots as rows of the snapshots table.
type Backend struct {
	deps    Dependencies
	dbReady bool
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{
		deps: deps,
	}
}

// DB exposes the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init runs schema migration.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("gorm backend has no database")
	}
	if err := database.Migrate(b.deps.DB); err != nil {
		return err
	}
	b.dbReady = true
	return nil
}

// Close releases the connection pool.
func (b *Backend) Close() error {
	if b.deps.DB == nil {
		return nil
	}
	sqlDB, err := b.deps.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	return sqlDB.Close()
}

// Save inserts snap and prunes old rows beyond the retention count.
func (b *Backend) Save(ctx context.Context, snap *core.Snapshot) error {
	if !b.dbReady {
		return fmt.Errorf("gorm backend not initialized")
	}
	summary, err := json.Marshal(snap.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	row := model.Snapshot{
		ID:        snap.ID,
		Campaign:  b.campaign(snap),
		SessionID: snap.SessionID,
		TakenAt:   snap.TakenAt.UTC(),
		Size:      len(snap.Data),
		Summary:   datatypes.JSON(summary),
		Data:      datatypes.JSON(snap.Data),
	}

	db := b.deps.DB.WithContext(ctx)
	if err := db.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert snapshot %s: %w", snap.ID, err)
	}
	if b.deps.Keep > 0 {
		if err := b.prune(db, row.Campaign); err != nil {
			b.deps.Logger.Warn("Failed to prune snapshots", "error", err)
		}
	}
	return nil
}

func (b *Backend) prune(db *gorm.DB, campaign string) error {
	var ids []string
	err := db.Model(&model.Snapshot{}).
		Where("campaign = ?", campaign).
		Order("taken_at DESC").
		Pluck("id", &ids).Error
	if err != nil || len(ids) <= b.deps.Keep {
		return err
	}
	return db.Where("id IN ?", ids[b.deps.Keep:]).Delete(&model.Snapshot{}).Error
}

// Load returns the newest snapshot of the campaign.
func (b *Backend) Load(ctx context.Context) (*core.Snapshot, error) {
	if !b.dbReady {
		return nil, fmt.Errorf("gorm backend not initialized")
	}
	var row model.Snapshot
	err := b.deps.DB.WithContext(ctx).
		Where("campaign = ?", b.deps.Campaign).
		Order("taken_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	snap := &core.Snapshot{
		ID:        row.ID,
		Campaign:  row.Campaign,
		SessionID: row.SessionID,
		TakenAt:   row.TakenAt,
		Data:      []byte(row.Data),
	}
	if len(row.Summary) > 0 {
		if err := json.Unmarshal(row.Summary, &snap.Summary); err != nil {
			return nil, fmt.Errorf("corrupt snapshot summary %s: %w", row.ID, err)
		}
	}
	return snap, nil
}

// StartSession records a new process session.
func (b *Backend) StartSession(ctx context.Context, id string, startedAt time.Time) error {
	s := model.Session{ID: id, Campaign: b.deps.Campaign, StartedAt: startedAt.UTC()}
	return b.deps.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&s).Error
}

// EndSession stamps the end time of a session.
func (b *Backend) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	return b.deps.DB.WithContext(ctx).
		Model(&model.Session{}).
		Where("id = ?", id).
		Update("ended_at", endedAt.UTC()).Error
}

func (b *Backend) campaign(snap *core.Snapshot) string {
	if snap.Campaign != "" {
		return snap.Campaign
	}
	return b.deps.Campaign
}
