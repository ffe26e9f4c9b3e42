package main

import (
	"path/filepath"

	"github.com/OCAP2/campaign/internal/config"
)

// storageConfig reads the snapshot backend settings. CAMPAIGN_SAVE_DIR moves
// the file backend and the SQLite dump next to each other.
func storageConfig(pe processEnv) config.StorageConfig {
	cfg := config.GetStorageConfig()
	if pe.SaveDir == "" {
		return cfg
	}
	cfg.File.Dir = pe.SaveDir
	if cfg.SQLite.DumpPath != "" {
		cfg.SQLite.DumpPath = filepath.Join(pe.SaveDir, filepath.Base(cfg.SQLite.DumpPath))
	}
	return cfg
}
