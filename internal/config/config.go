package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OCAP2/campaign/pkg/core"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// FileConfig holds file snapshot backend settings
type FileConfig struct {
	Dir      string `json:"dir" mapstructure:"dir"`
	Compress bool   `json:"compress" mapstructure:"compress"`
	Backups  bool   `json:"backups" mapstructure:"backups"`
}

// SQLiteConfig holds SQLite snapshot backend settings
type SQLiteConfig struct {
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
}

// StorageConfig selects and configures the snapshot backend
type StorageConfig struct {
	Type     string       `json:"type" mapstructure:"type"`
	Campaign string       `json:"campaign" mapstructure:"campaign"`
	Keep     int          `json:"keep" mapstructure:"keep"`
	File     FileConfig   `json:"file" mapstructure:"file"`
	SQLite   SQLiteConfig `json:"sqlite" mapstructure:"sqlite"`
	// Postgres is read from the top-level db section.
	Postgres DBConfig `json:"-" mapstructure:"-"`
}

// DBConfig holds the PostgreSQL connection used by the postgres backend
type DBConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         string `json:"port" mapstructure:"port"`
	Username     string `json:"username" mapstructure:"username"`
	Password     string `json:"password" mapstructure:"password"`
	Database     string `json:"database" mapstructure:"database"`
	SSLMode      string `json:"sslMode" mapstructure:"sslMode"`
	MaxOpenConns int    `json:"maxOpenConns" mapstructure:"maxOpenConns"`
}

// DSN renders the config as a libpq keyword/value string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// InfluxConfig holds InfluxDB stat sink settings
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
}

// GraylogConfig holds GELF log shipping settings
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// HostConfig holds the simulation bridge connection settings
type HostConfig struct {
	URL          string        `json:"url" mapstructure:"url"`
	Secret       string        `json:"secret" mapstructure:"secret"`
	QueryTimeout time.Duration `json:"queryTimeout" mapstructure:"queryTimeout"`
}

// StreamConfig holds the stat stream settings
type StreamConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	URL     string `json:"url" mapstructure:"url"`
	Secret  string `json:"secret" mapstructure:"secret"`
}

// LoopConfig holds tick loop timing
type LoopConfig struct {
	Tick             time.Duration `json:"tick" mapstructure:"tick"`
	SlowTick         time.Duration `json:"slowTick" mapstructure:"slowTick"`
	SnapshotInterval time.Duration `json:"snapshotInterval" mapstructure:"snapshotInterval"`
	MonitorInterval  time.Duration `json:"monitorInterval" mapstructure:"monitorInterval"`
}

// LifeConfig is the life pool of one life type
type LifeConfig struct {
	Lives      uint8         `json:"lives" mapstructure:"lives"`
	ResetAfter time.Duration `json:"resetAfter" mapstructure:"resetAfter"`
}

// PointsConfig enables the points economy
type PointsConfig struct {
	NewPlayerJoin     int  `json:"newPlayerJoin" mapstructure:"newPlayerJoin"`
	AirKill           int  `json:"airKill" mapstructure:"airKill"`
	GroundKill        int  `json:"groundKill" mapstructure:"groundKill"`
	Capture           int  `json:"capture" mapstructure:"capture"`
	LogisticsRepair   int  `json:"logisticsRepair" mapstructure:"logisticsRepair"`
	LogisticsTransfer int  `json:"logisticsTransfer" mapstructure:"logisticsTransfer"`
	Strict            bool `json:"strict" mapstructure:"strict"`
}

// Production is what a side receives at its logistics hubs every
// delivery. Aircraft are only stocked at hubs and at objectives with slots
// of that type.
type Production struct {
	Equipment map[string]uint32 `json:"equipment" mapstructure:"equipment"`
	Aircraft  map[string]uint32 `json:"aircraft" mapstructure:"aircraft"`
	Liquids   map[string]uint32 `json:"liquids" mapstructure:"liquids"`
}

// WarehouseConfig enables the supply system
type WarehouseConfig struct {
	// HubMax and AirbaseMax cap stock as a multiple of one delivery.
	HubMax     uint32 `json:"hubMax" mapstructure:"hubMax"`
	AirbaseMax uint32 `json:"airbaseMax" mapstructure:"airbaseMax"`
	// Tick is how often supplies move from hubs to their objectives.
	Tick time.Duration `json:"tick" mapstructure:"tick"`
	// TicksPerDelivery is how many ticks pass between production deliveries.
	TicksPerDelivery    uint32                `json:"ticksPerDelivery" mapstructure:"ticksPerDelivery"`
	SupplyTransferCrate map[string]core.Crate `json:"supplyTransferCrate" mapstructure:"supplyTransferCrate"`
	// SupplyTransferSize is the percentage of each stock a transfer crate moves.
	SupplyTransferSize uint8                 `json:"supplyTransferSize" mapstructure:"supplyTransferSize"`
	Production         map[string]Production `json:"production" mapstructure:"production"`
}

// Capacity is the stock limit of an item delivered qty at a time.
func (c *WarehouseConfig) Capacity(hub bool, qty uint32) uint32 {
	if hub {
		return qty * c.HubMax
	}
	return qty * c.AirbaseMax
}

// MapConfig anchors map coordinates on the globe for grid names
type MapConfig struct {
	OriginLat float64 `json:"originLat" mapstructure:"originLat"`
	OriginLon float64 `json:"originLon" mapstructure:"originLon"`
}

// WorldConfig holds the campaign rules. Keys naming unit types and life
// types are stored lower case; use the accessor methods to look them up.
type WorldConfig struct {
	RepairTime                time.Duration                 `json:"repairTime" mapstructure:"repairTime"`
	RepairCrate               map[string]core.Crate         `json:"repairCrate" mapstructure:"repairCrate"`
	CullAfter                 time.Duration                 `json:"cullAfter" mapstructure:"cullAfter"`
	UnitCullDistance          float64                       `json:"unitCullDistance" mapstructure:"unitCullDistance"`
	GroundVehicleCullDistance float64                       `json:"groundVehicleCullDistance" mapstructure:"groundVehicleCullDistance"`
	ThreatenedDistance        map[string]float64            `json:"threatenedDistance" mapstructure:"threatenedDistance"`
	DefaultThreatDistance     float64                       `json:"defaultThreatDistance" mapstructure:"defaultThreatDistance"`
	ThreatenedCooldown        time.Duration                 `json:"threatenedCooldown" mapstructure:"threatenedCooldown"`
	CrateLoadDistance         float64                       `json:"crateLoadDistance" mapstructure:"crateLoadDistance"`
	CrateDropDistance         float64                       `json:"crateDropDistance" mapstructure:"crateDropDistance"`
	CrateSpread               float64                       `json:"crateSpread" mapstructure:"crateSpread"`
	LogisticsExclusion        float64                       `json:"logisticsExclusion" mapstructure:"logisticsExclusion"`
	SideSwitches              int                           `json:"sideSwitches" mapstructure:"sideSwitches"`
	MaxCrates                 int                           `json:"maxCrates" mapstructure:"maxCrates"`
	LifeTypes                 map[string]core.LifeType      `json:"lifeTypes" mapstructure:"lifeTypes"`
	DefaultLives              map[string]LifeConfig         `json:"defaultLives" mapstructure:"defaultLives"`
	Cargo                     map[string]core.CargoCapacity `json:"cargo" mapstructure:"cargo"`
	CrateTemplate             map[string]string             `json:"crateTemplate" mapstructure:"crateTemplate"`
	Deployables               map[string][]core.Deployable  `json:"deployables" mapstructure:"deployables"`
	Troops                    map[string][]core.Troop       `json:"troops" mapstructure:"troops"`
	UnitClassification        map[string][]string           `json:"unitClassification" mapstructure:"unitClassification"`
	Points                    *PointsConfig                 `json:"points" mapstructure:"points"`
	Warehouse                 *WarehouseConfig              `json:"warehouse" mapstructure:"warehouse"`
	Admins                    []string                      `json:"admins" mapstructure:"admins"`
	Map                       MapConfig                     `json:"map" mapstructure:"map"`

	unitTags map[string]core.UnitTags
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	// Set default values
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")
	viper.SetDefault("bootstrapFile", "bootstrap.json")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "campaign")
	viper.SetDefault("db.sslMode", "disable")
	viper.SetDefault("db.maxOpenConns", 10)

	viper.SetDefault("storage.type", "file")
	viper.SetDefault("storage.campaign", "campaign")
	viper.SetDefault("storage.keep", 100)
	viper.SetDefault("storage.file.dir", "./saves")
	viper.SetDefault("storage.file.compress", true)
	viper.SetDefault("storage.file.backups", true)
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.dumpPath", "./saves/campaign.db")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "campaign-metrics")
	viper.SetDefault("influx.bucket", "campaign-stats")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "campaign")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("host.url", "ws://localhost:9100/bridge")
	viper.SetDefault("host.secret", "")
	viper.SetDefault("host.queryTimeout", "2s")

	viper.SetDefault("stream.enabled", false)
	viper.SetDefault("stream.url", "ws://localhost:5000/api/v1/campaign/stream")
	viper.SetDefault("stream.secret", "")

	viper.SetDefault("loop.tick", "1s")
	viper.SetDefault("loop.slowTick", "10s")
	viper.SetDefault("loop.snapshotInterval", "10s")
	viper.SetDefault("loop.monitorInterval", "1m")

	viper.SetDefault("world.repairTime", "30m")
	viper.SetDefault("world.cullAfter", "5m")
	viper.SetDefault("world.unitCullDistance", 70000)
	viper.SetDefault("world.groundVehicleCullDistance", 8000)
	viper.SetDefault("world.defaultThreatDistance", 20000)
	viper.SetDefault("world.threatenedCooldown", "2m")
	viper.SetDefault("world.crateLoadDistance", 50)
	viper.SetDefault("world.crateDropDistance", 20)
	viper.SetDefault("world.crateSpread", 250)
	viper.SetDefault("world.logisticsExclusion", 10000)
	viper.SetDefault("world.sideSwitches", 1)
	viper.SetDefault("world.maxCrates", 4)

	viper.SetConfigName("campaign.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// WatchLogLevel calls fn with the new logLevel whenever the config file is
// rewritten on disk. Other keys need a restart.
func WatchLogLevel(fn func(level string)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Has(fsnotify.Write) || e.Has(fsnotify.Create) {
			fn(viper.GetString("logLevel"))
		}
	})
	viper.WatchConfig()
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetStorageConfig returns the snapshot backend configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type:     viper.GetString("storage.type"),
		Campaign: viper.GetString("storage.campaign"),
		Keep:     viper.GetInt("storage.keep"),
		File: FileConfig{
			Dir:      viper.GetString("storage.file.dir"),
			Compress: viper.GetBool("storage.file.compress"),
			Backups:  viper.GetBool("storage.file.backups"),
		},
		SQLite: SQLiteConfig{
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
		},
		Postgres: GetDBConfig(),
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetDBConfig returns the PostgreSQL connection settings.
func GetDBConfig() DBConfig {
	return DBConfig{
		Host:         viper.GetString("db.host"),
		Port:         viper.GetString("db.port"),
		Username:     viper.GetString("db.username"),
		Password:     viper.GetString("db.password"),
		Database:     viper.GetString("db.database"),
		SSLMode:      viper.GetString("db.sslMode"),
		MaxOpenConns: viper.GetInt("db.maxOpenConns"),
	}
}

// GetInfluxConfig returns the InfluxDB configuration.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Protocol: viper.GetString("influx.protocol"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetGraylogConfig returns the GELF configuration.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetHostConfig returns the simulation bridge configuration.
func GetHostConfig() HostConfig {
	return HostConfig{
		URL:          viper.GetString("host.url"),
		Secret:       viper.GetString("host.secret"),
		QueryTimeout: viper.GetDuration("host.queryTimeout"),
	}
}

// GetStreamConfig returns the stat stream configuration.
func GetStreamConfig() StreamConfig {
	return StreamConfig{
		Enabled: viper.GetBool("stream.enabled"),
		URL:     viper.GetString("stream.url"),
		Secret:  viper.GetString("stream.secret"),
	}
}

// GetLoopConfig returns the tick loop configuration.
func GetLoopConfig() LoopConfig {
	return LoopConfig{
		Tick:             viper.GetDuration("loop.tick"),
		SlowTick:         viper.GetDuration("loop.slowTick"),
		SnapshotInterval: viper.GetDuration("loop.snapshotInterval"),
		MonitorInterval:  viper.GetDuration("loop.monitorInterval"),
	}
}

// GetWorldConfig decodes and validates the campaign rules.
func GetWorldConfig() (WorldConfig, error) {
	var cfg WorldConfig
	if err := viper.UnmarshalKey("world", &cfg); err != nil {
		return cfg, fmt.Errorf("error decoding world config: %w", err)
	}
	if err := cfg.init(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// init parses unit classification and checks cross field rules.
func (c *WorldConfig) init() error {
	c.unitTags = make(map[string]core.UnitTags, len(c.UnitClassification))
	for typ, names := range c.UnitClassification {
		var tags core.UnitTags
		for _, n := range names {
			t, err := core.ParseUnitTag(n)
			if err != nil {
				return fmt.Errorf("unit classification of %s: %w", typ, err)
			}
			tags = tags.With(core.Tags(t))
		}
		c.unitTags[strings.ToLower(typ)] = tags
	}
	if wc := c.Warehouse; wc != nil {
		if wc.HubMax == 0 || wc.AirbaseMax == 0 {
			return errors.New("warehouse hubMax and airbaseMax must be positive")
		}
		if wc.SupplyTransferSize == 0 || wc.SupplyTransferSize > 100 {
			return fmt.Errorf("warehouse supplyTransferSize %d is not a percentage", wc.SupplyTransferSize)
		}
		if wc.Tick <= 0 {
			wc.Tick = 10 * time.Minute
		}
		for side, cr := range wc.SupplyTransferCrate {
			if rc, ok := c.RepairCrate[side]; ok && rc.Name == cr.Name {
				return fmt.Errorf("supply transfer crate of %s has the name of the repair crate", side)
			}
		}
	}
	if c.Points == nil {
		for side, ds := range c.Deployables {
			for _, d := range ds {
				if d.Cost != 0 || d.RepairCost != 0 {
					return fmt.Errorf("deployable %s of %s has a cost but points are disabled", d.Name(), side)
				}
			}
		}
		for side, ts := range c.Troops {
			for _, t := range ts {
				if t.Cost != 0 {
					return fmt.Errorf("troop %s of %s has a cost but points are disabled", t.Name, side)
				}
			}
		}
	}
	return nil
}

// SetUnitTags classifies a unit type. Used by tests and bootstrap tooling.
func (c *WorldConfig) SetUnitTags(typ string, tags core.UnitTags) {
	if c.unitTags == nil {
		c.unitTags = make(map[string]core.UnitTags)
	}
	c.unitTags[strings.ToLower(typ)] = tags
}

// UnitTagsOf returns the classification of a unit type.
func (c *WorldConfig) UnitTagsOf(typ string) (core.UnitTags, bool) {
	t, ok := c.unitTags[strings.ToLower(typ)]
	return t, ok
}

// CargoOf returns the cargo capacity of a vehicle type.
func (c *WorldConfig) CargoOf(typ string) (core.CargoCapacity, bool) {
	cc, ok := c.Cargo[strings.ToLower(typ)]
	return cc, ok
}

// LifeTypeOf returns the life type of a vehicle type, Standard if unlisted.
func (c *WorldConfig) LifeTypeOf(typ string) core.LifeType {
	if lt, ok := c.LifeTypes[strings.ToLower(typ)]; ok {
		return lt
	}
	return core.LifeStandard
}

// LivesOf returns the life pool configuration of a life type.
func (c *WorldConfig) LivesOf(lt core.LifeType) (LifeConfig, bool) {
	l, ok := c.DefaultLives[strings.ToLower(string(lt))]
	return l, ok
}

// ThreatDistanceOf returns how far a unit type threatens objectives.
func (c *WorldConfig) ThreatDistanceOf(typ string) float64 {
	if d, ok := c.ThreatenedDistance[strings.ToLower(typ)]; ok {
		return d
	}
	return c.DefaultThreatDistance
}

// DeployablesOf returns the deployables available to a side.
func (c *WorldConfig) DeployablesOf(side core.Side) []core.Deployable {
	return c.Deployables[side.String()]
}

// TroopsOf returns the troop types available to a side.
func (c *WorldConfig) TroopsOf(side core.Side) []core.Troop {
	return c.Troops[side.String()]
}

// RepairCrateOf returns the base repair crate of a side.
func (c *WorldConfig) RepairCrateOf(side core.Side) (core.Crate, bool) {
	cr, ok := c.RepairCrate[side.String()]
	return cr, ok
}

// ProductionOf returns the production of a side, false when the supply
// system is off or the side produces nothing.
func (c *WorldConfig) ProductionOf(side core.Side) (Production, bool) {
	if c.Warehouse == nil {
		return Production{}, false
	}
	p, ok := c.Warehouse.Production[side.String()]
	return p, ok
}

// SupplyTransferCrateOf returns the supply transfer crate of a side.
func (c *WorldConfig) SupplyTransferCrateOf(side core.Side) (core.Crate, bool) {
	if c.Warehouse == nil {
		return core.Crate{}, false
	}
	cr, ok := c.Warehouse.SupplyTransferCrate[side.String()]
	return cr, ok
}

// CrateTemplateOf returns the template crates of a side spawn from.
func (c *WorldConfig) CrateTemplateOf(side core.Side) string {
	return c.CrateTemplate[side.String()]
}

// DefaultSideSwitches returns the switch budget of a new player, nil when unlimited.
func (c *WorldConfig) DefaultSideSwitches() *int {
	if c.SideSwitches < 0 {
		return nil
	}
	n := c.SideSwitches
	return &n
}

// IsAdmin reports whether ucid may run admin commands.
func (c *WorldConfig) IsAdmin(ucid core.Ucid) bool {
	for _, a := range c.Admins {
		if a == string(ucid) {
			return true
		}
	}
	return false
}
