// Package postgres stores snapshots in PostgreSQL so several campaign
// servers can share one database, each under its own campaign key.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/OCAP2/campaign/internal/config"
	"github.com/OCAP2/campaign/internal/database"
	gormstorage "github.com/OCAP2/campaign/internal/storage/gorm"

	"gorm.io/gorm"
)

const connectTimeout = 10 * time.Second

type Dependencies struct {
	// DB is used as is when set; otherwise Init connects with Conn.
	DB       *gorm.DB
	Conn     config.DBConfig
	Campaign string
	Keep     int
	Logger   *slog.Logger
}

// Backend is the GORM backend plus connection handling. Its methods are
// usable after Init.
type Backend struct {
	*gormstorage.Backend
	deps Dependencies
}

func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{deps: deps}
}

func (b *Backend) Init() error {
	if b.deps.DB == nil {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		db, err := database.OpenPostgres(ctx, b.deps.Conn)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres %s:%s: %w", b.deps.Conn.Host, b.deps.Conn.Port, err)
		}
		b.deps.DB = db
	}

	b.Backend = gormstorage.New(gormstorage.Dependencies{
		DB:       b.deps.DB,
		Campaign: b.deps.Campaign,
		Keep:     b.deps.Keep,
		Logger:   b.deps.Logger,
	})
	if err := b.Backend.Init(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	b.deps.Logger.Info("Snapshot database ready", "dialect", b.deps.DB.Name(), "keep", b.deps.Keep)
	return nil
}

// Close is a no-op before Init.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	return b.Backend.Close()
}
