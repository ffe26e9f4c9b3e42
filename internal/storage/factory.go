package storage

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/OCAP2/campaign/internal/config"
	filestorage "github.com/OCAP2/campaign/internal/storage/file"
	"github.com/OCAP2/campaign/internal/storage/postgres"
	sqlitestorage "github.com/OCAP2/campaign/internal/storage/sqlite"
)

// Values of storage.type.
const (
	TypeFile     = "file"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

var ErrUnknownBackend = errors.New("unknown storage type")

// NewBackend picks the snapshot store named by cfg.Type, the file store
// when unset. Snapshots are keyed by cfg.Campaign so several campaigns can
// share one database.
func NewBackend(cfg config.StorageConfig, logger *slog.Logger) (Backend, error) {
	if cfg.Campaign == "" {
		cfg.Campaign = "campaign"
	}
	logger = logger.With("backend", cfg.Type, "campaign", cfg.Campaign)

	switch cfg.Type {
	case TypeFile, "":
		return filestorage.New(cfg.File, cfg.Campaign, logger), nil
	case TypeSQLite:
		return sqlitestorage.New(cfg.SQLite, cfg.Campaign, cfg.Keep, logger)
	case TypePostgres:
		return postgres.New(postgres.Dependencies{
			Conn:     cfg.Postgres,
			Campaign: cfg.Campaign,
			Keep:     cfg.Keep,
			Logger:   logger,
		}), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Type)
}
