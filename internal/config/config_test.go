package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OCAP2/campaign/pkg/core"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "campaign.cfg.json"), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"db": { "host": "10.0.0.1", "port": "5433" }
	}`)

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./logs", viper.GetString("logsDir"))
	assert.Equal(t, "localhost", viper.GetString("db.host"))
	assert.Equal(t, "campaign", viper.GetString("db.database"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, "localhost:12201", viper.GetString("graylog.address"))
	assert.Equal(t, "file", viper.GetString("storage.type"))
	assert.Equal(t, "3m", viper.GetString("storage.sqlite.dumpInterval"))
	assert.Equal(t, "campaign", viper.GetString("otel.serviceName"))
}

func TestGetDBConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"db": { "host": "db.internal", "password": "hunter2", "sslMode": "require" }
	}`)))

	c := GetDBConfig()
	assert.Equal(t, 10, c.MaxOpenConns)
	assert.Equal(t,
		"host=db.internal port=5432 user=postgres password=hunter2 dbname=campaign sslmode=require",
		c.DSN())
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestGetters(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	viper.Set("testInt", 42)
	viper.Set("testBool", true)

	assert.Equal(t, "testValue", GetString("testKey"))
	assert.Equal(t, 42, GetInt("testInt"))
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"storage": {
			"type": "sqlite",
			"campaign": "caucasus",
			"file": { "dir": "/tmp/out", "compress": false },
			"sqlite": { "dumpInterval": "10m" }
		}
	}`)))

	sc := GetStorageConfig()
	assert.Equal(t, "sqlite", sc.Type)
	assert.Equal(t, "caucasus", sc.Campaign)
	assert.Equal(t, "/tmp/out", sc.File.Dir)
	assert.Equal(t, false, sc.File.Compress)
	assert.Equal(t, true, sc.File.Backups)
	assert.Equal(t, 10*time.Minute, sc.SQLite.DumpInterval)
}

func TestGetOTelConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetOTelConfig()
	assert.Equal(t, false, cfg.Enabled)
	assert.Equal(t, "campaign", cfg.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
	assert.Equal(t, true, cfg.Insecure)
}

func TestGetLoopAndHostConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	lc := GetLoopConfig()
	assert.Equal(t, time.Second, lc.Tick)
	assert.Equal(t, 10*time.Second, lc.SlowTick)

	hc := GetHostConfig()
	assert.Equal(t, 2*time.Second, hc.QueryTimeout)
}

func TestGetWorldConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"world": {
			"repairTime": "20m",
			"sideSwitches": -1,
			"threatenedDistance": { "FA-18C_hornet": 40000 },
			"cargo": { "UH-1H": { "troopSlots": 1, "crateSlots": 1, "totalSlots": 2 } },
			"lifeTypes": { "UH-1H": "Logistics" },
			"defaultLives": { "Logistics": { "lives": 3, "resetAfter": "6h" } },
			"unitClassification": { "Ural-375": ["Logistics", "Driveable"] },
			"deployables": {
				"red": [{ "path": ["SAM", "SA-11"], "template": "RSA11", "crates": [{ "name": "SA-11 crate", "weight": 1000, "required": 2 }] }]
			},
			"admins": ["abc"]
		}
	}`)))

	wc, err := GetWorldConfig()
	require.NoError(t, err)

	assert.Equal(t, 20*time.Minute, wc.RepairTime)
	assert.Equal(t, 5*time.Minute, wc.CullAfter)
	assert.Nil(t, wc.DefaultSideSwitches())
	assert.Equal(t, 40000.0, wc.ThreatDistanceOf("FA-18C_hornet"))
	assert.Equal(t, 20000.0, wc.ThreatDistanceOf("Su-25T"))

	cc, ok := wc.CargoOf("UH-1H")
	require.True(t, ok)
	assert.Equal(t, 2, cc.TotalSlots)

	assert.Equal(t, core.LifeLogistics, wc.LifeTypeOf("UH-1H"))
	assert.Equal(t, core.LifeStandard, wc.LifeTypeOf("F-16C_50"))
	lives, ok := wc.LivesOf(core.LifeLogistics)
	require.True(t, ok)
	assert.Equal(t, uint8(3), lives.Lives)
	assert.Equal(t, 6*time.Hour, lives.ResetAfter)

	tags, ok := wc.UnitTagsOf("Ural-375")
	require.True(t, ok)
	assert.True(t, tags.Has(core.TagLogistics))
	assert.True(t, tags.Has(core.TagDriveable))

	ds := wc.DeployablesOf(core.Red)
	require.Len(t, ds, 1)
	assert.Equal(t, "SA-11", ds[0].Name())
	assert.Equal(t, 2, ds[0].Crates[0].Required)
	assert.Empty(t, wc.DeployablesOf(core.Blue))

	assert.True(t, wc.IsAdmin("abc"))
	assert.False(t, wc.IsAdmin("xyz"))
}

func TestGetWorldConfig_CostWithoutPoints(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"world": {
			"troops": { "blue": [{ "name": "Rifles", "template": "BINF", "cost": 10 }] }
		}
	}`)))

	_, err := GetWorldConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "points are disabled")
}

func TestGetWorldConfig_UnknownTag(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"world": { "unitClassification": { "T-72B": ["Tank"] } }
	}`)))

	_, err := GetWorldConfig()
	require.Error(t, err)
}

func TestGetWorldConfig_Warehouse(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"world": {
			"warehouse": {
				"hubMax": 10,
				"airbaseMax": 4,
				"ticksPerDelivery": 3,
				"supplyTransferSize": 25,
				"supplyTransferCrate": { "blue": { "name": "Supply Transfer", "weight": 1500, "required": 1 } },
				"production": { "blue": { "equipment": { "mk82": 10 }, "liquids": { "jet": 100 } } }
			}
		}
	}`)))

	wc, err := GetWorldConfig()
	require.NoError(t, err)
	require.NotNil(t, wc.Warehouse)
	assert.Equal(t, 10*time.Minute, wc.Warehouse.Tick, "tick defaults to ten minutes")
	assert.Equal(t, uint32(100), wc.Warehouse.Capacity(true, 10))
	assert.Equal(t, uint32(40), wc.Warehouse.Capacity(false, 10))

	p, ok := wc.ProductionOf(core.Blue)
	require.True(t, ok)
	assert.Equal(t, uint32(100), p.Liquids["jet"])
	_, ok = wc.ProductionOf(core.Red)
	assert.False(t, ok)

	cr, ok := wc.SupplyTransferCrateOf(core.Blue)
	require.True(t, ok)
	assert.Equal(t, "Supply Transfer", cr.Name)
}

func TestGetWorldConfig_WarehouseRules(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"zero max", `{ "hubMax": 0, "airbaseMax": 4, "supplyTransferSize": 25 }`, "must be positive"},
		{"transfer size", `{ "hubMax": 10, "airbaseMax": 4, "supplyTransferSize": 150 }`, "not a percentage"},
		{"crate name clash", `{ "hubMax": 10, "airbaseMax": 4, "supplyTransferSize": 25,
			"supplyTransferCrate": { "blue": { "name": "Repair" } } }`, "name of the repair crate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(viper.Reset)
			require.NoError(t, Load(writeConfig(t, `{ "world": {
				"repairCrate": { "blue": { "name": "Repair" } },
				"warehouse": `+tt.body+` } }`)))

			_, err := GetWorldConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
