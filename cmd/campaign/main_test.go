package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OCAP2/campaign/internal/config"
	"github.com/OCAP2/campaign/pkg/core"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageConfig_SaveDirOverride(t *testing.T) {
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	_ = config.Load(dir)

	cfg := storageConfig(processEnv{})
	assert.Equal(t, "./saves", cfg.File.Dir)

	cfg = storageConfig(processEnv{SaveDir: "/srv/saves"})
	assert.Equal(t, "/srv/saves", cfg.File.Dir)
	assert.Equal(t, filepath.Join("/srv/saves", "campaign.db"), cfg.SQLite.DumpPath)
}

func TestReadBootstrap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bootstrap.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"templates": [{"name": "BLOGI", "side": "blue", "units": [{"name": "BLOGI-a", "type": "truck"}]}],
		"objectives": [],
		"slots": []
	}`), 0o644))

	b, err := readBootstrap(path)
	require.NoError(t, err)
	require.Len(t, b.Templates, 1)
	assert.Equal(t, "BLOGI", b.Templates[0].Name)

	_, err = readBootstrap(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	snap := &core.Snapshot{
		ID:      "01J0000000000000000000000",
		TakenAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		Summary: core.SnapshotSummary{Objectives: 4, Groups: 10, Units: 31, Players: 2},
	}

	require.NoError(t, printSummary(&buf, snap))
	assert.Contains(t, buf.String(), "taken 2026-03-14 12:00:00")
	assert.Contains(t, buf.String(), "units 31")
}

func TestExportSnapshot(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, exportSnapshot(&buf, &core.Snapshot{Data: []byte(`{"objectives":{}}`)}))
	assert.Equal(t, "{\n  \"objectives\": {}\n}\n", buf.String())

	assert.Error(t, exportSnapshot(&buf, &core.Snapshot{ID: "x", Data: []byte(`{`)}))
}
