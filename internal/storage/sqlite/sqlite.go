// Package sqlitestorage keeps snapshots in an in-memory SQLite database
// built on the GORM backend, and mirrors it to a file on disk with VACUUM
// INTO. Init restores the file into memory when the process restarts.
package sqlitestorage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OCAP2/campaign/internal/config"
	"github.com/OCAP2/campaign/internal/database"
	"github.com/OCAP2/campaign/internal/model"
	gormstorage "github.com/OCAP2/campaign/internal/storage/gorm"
	"github.com/OCAP2/campaign/pkg/core"

	"gorm.io/gorm"
)

// tables copied back from the dump, parents first
var tables = []string{"sessions", "snapshots"}

type Backend struct {
	*gormstorage.Backend
	db  *gorm.DB
	cfg config.SQLiteConfig
	log *slog.Logger

	// dirty is set by Save and cleared by a successful dump
	dirty  atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg config.SQLiteConfig, campaign string, keep int, logger *slog.Logger) (*Backend, error) {
	db, err := database.OpenMemorySQLite(campaign)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite DB: %w", err)
	}
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{
			DB:       db,
			Campaign: campaign,
			Keep:     keep,
			Logger:   logger,
		}),
		db:  db,
		cfg: cfg,
		log: logger,
	}, nil
}

func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}
	if err := b.restore(); err != nil {
		return fmt.Errorf("failed to restore sqlite dump: %w", err)
	}
	if b.cfg.DumpPath == "" || b.cfg.DumpInterval <= 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.wg.Add(1)
	go b.dumpLoop(ctx)
	return nil
}

// Save stores the snapshot in memory. It reaches disk with the next dump.
func (b *Backend) Save(ctx context.Context, snap *core.Snapshot) error {
	if err := b.Backend.Save(ctx, snap); err != nil {
		return err
	}
	b.dirty.Store(true)
	return nil
}

// Close stops the dump loop, writes pending snapshots to disk and closes the
// database.
func (b *Backend) Close() error {
	if b.cancel != nil {
		b.cancel()
		b.wg.Wait()
	}
	var errs []error
	if b.cfg.DumpPath != "" {
		errs = append(errs, b.dump(true))
	}
	errs = append(errs, b.Backend.Close())
	return errors.Join(errs...)
}

// dump writes the database to disk if anything changed since the last dump,
// or unconditionally when force is set.
func (b *Backend) dump(force bool) error {
	if !b.dirty.Swap(false) && !force {
		return nil
	}
	start := time.Now()
	if err := database.DumpSQLite(b.db, b.cfg.DumpPath); err != nil {
		b.dirty.Store(true)
		return err
	}
	b.log.Debug("Dumped snapshots to disk", "path", b.cfg.DumpPath, "duration", time.Since(start))
	return nil
}

func (b *Backend) dumpLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.dump(false); err != nil {
				b.log.Error("Error dumping to disk", "error", err)
			}
		}
	}
}

// restore fills an empty in-memory database from the dump file.
func (b *Backend) restore() error {
	if b.cfg.DumpPath == "" {
		return nil
	}
	if _, err := os.Stat(b.cfg.DumpPath); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	var n int64
	if err := b.db.Model(&model.Snapshot{}).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// ATTACH is per connection
	return b.db.Connection(func(tx *gorm.DB) error {
		if err := tx.Exec("ATTACH DATABASE ? AS disk", b.cfg.DumpPath).Error; err != nil {
			return err
		}
		defer tx.Exec("DETACH DATABASE disk")

		for _, table := range tables {
			if err := tx.Exec("INSERT OR IGNORE INTO " + table + " SELECT * FROM disk." + table).Error; err != nil {
				return fmt.Errorf("copying %s: %w", table, err)
			}
		}
		b.log.Info("Restored sqlite dump", "path", b.cfg.DumpPath)
		return nil
	})
}
