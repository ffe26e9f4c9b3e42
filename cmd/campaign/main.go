package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/OCAP2/campaign/internal/config"
	"github.com/OCAP2/campaign/internal/dispatcher"
	"github.com/OCAP2/campaign/internal/geo"
	"github.com/OCAP2/campaign/internal/handlers"
	"github.com/OCAP2/campaign/internal/host/wsbridge"
	"github.com/OCAP2/campaign/internal/influx"
	"github.com/OCAP2/campaign/internal/logging"
	"github.com/OCAP2/campaign/internal/loop"
	"github.com/OCAP2/campaign/internal/mission"
	"github.com/OCAP2/campaign/internal/monitor"
	intOtel "github.com/OCAP2/campaign/internal/otel"
	"github.com/OCAP2/campaign/internal/storage"
	"github.com/OCAP2/campaign/internal/stream"
	"github.com/OCAP2/campaign/internal/worker"
	"github.com/OCAP2/campaign/internal/world"
	"github.com/OCAP2/campaign/pkg/core"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	ServiceName string = "campaign"
)

// processEnv holds the paths that come from the environment rather than the
// config file.
type processEnv struct {
	ConfigDir string `env:"CAMPAIGN_CONFIG_DIR" envDefault:"."`
	SaveDir   string `env:"CAMPAIGN_SAVE_DIR"`
}

// app is everything a running campaign holds on to until shutdown.
type app struct {
	env          processEnv
	sessionStart time.Time

	slogManager  *logging.SlogManager
	logger       *slog.Logger
	logFile      *os.File
	gelfCloser   io.Closer
	otelProvider *intOtel.Provider

	mission    *mission.Context
	backend    storage.Backend
	bridge     *wsbridge.Bridge
	influx     *influx.Manager
	publisher  *stream.Publisher
	dispatcher *dispatcher.Dispatcher
	workers    *worker.Manager
	monitor    *monitor.Service
	world      *world.World
	runner     *loop.Runner
}

func main() {
	if len(os.Args) > 1 {
		if err := runCLI(os.Args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", ServiceName, err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{sessionStart: time.Now()}
	err := a.run(ctx)
	a.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", ServiceName, err)
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context) error {
	if err := env.Parse(&a.env); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	a.slogManager = logging.NewSlogManager()
	a.slogManager.Setup(nil, "info", nil)
	a.logger = a.slogManager.Logger()
	a.logger.Info("Starting up...", "version", CurrentVersion, "buildDate", BuildDate)

	if err := config.Load(a.env.ConfigDir); err != nil {
		a.logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		a.logger.Info("Loaded config", "dir", a.env.ConfigDir)
	}

	storageCfg := storageConfig(a.env)
	a.mission = mission.NewContext(storageCfg.Campaign)
	a.setupLogging()

	worldCfg, err := config.GetWorldConfig()
	if err != nil {
		return fmt.Errorf("world config: %w", err)
	}

	a.backend, err = storage.NewBackend(storageCfg, a.slogManager.Component("storage"))
	if err != nil {
		return fmt.Errorf("failed to create storage backend: %w", err)
	}
	if err := a.backend.Init(); err != nil {
		return fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	a.logger.Info("Storage backend initialized", "type", storageCfg.Type)
	if st, ok := a.backend.(storage.SessionTracker); ok {
		if err := st.StartSession(ctx, a.mission.SessionID(), a.mission.StartedAt()); err != nil {
			a.logger.Warn("Failed to record session start", "error", err)
		}
	}

	a.bridge = wsbridge.New(config.GetHostConfig(), a.slogManager.Component("host"))
	if err := a.bridge.Init(); err != nil {
		return fmt.Errorf("failed to connect to host: %w", err)
	}
	a.logger.Info("Connected to host", "url", config.GetHostConfig().URL)

	if err := a.loadWorld(ctx, worldCfg); err != nil {
		return err
	}

	statSinks := a.setupStatSinks(ctx)

	a.dispatcher, err = dispatcher.New(logging.NewZerologAdapter(
		logging.NewZerolog(a.logWriter(), viper.GetString("logLevel"), "dispatcher"),
	))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	workerDeps := worker.Dependencies{
		Backend:   a.backend,
		Mission:   a.mission,
		Logger:    a.slogManager.Component("worker"),
		StatSinks: statSinks,
	}
	if a.publisher != nil {
		workerDeps.Publisher = a.publisher
	}
	a.workers = worker.NewManager(workerDeps)
	a.workers.RegisterHandlers(a.dispatcher)

	handlers.NewService(handlers.Dependencies{
		World:  a.world,
		Config: &worldCfg,
		Host:   a.bridge,
		Logger: a.slogManager.Component("handlers"),
	}).RegisterHandlers(a.dispatcher)
	a.logger.Info("Handlers registered with dispatcher")

	loopCfg := config.GetLoopConfig()
	a.runner, err = loop.New(loopCfg, loop.Dependencies{
		World:      a.world,
		Dispatcher: a.dispatcher,
		Events:     a.bridge.Events(),
		Host:       a.bridge,
		Mission:    a.mission,
		Logger:     a.slogManager.Component("loop"),
	})
	if err != nil {
		return fmt.Errorf("failed to create tick loop: %w", err)
	}

	monitorDeps := monitor.Dependencies{
		World:     a.runner,
		Writer:    a.workers,
		Buffers:   a.dispatcher,
		Mission:   a.mission,
		Logger:    a.slogManager.Component("monitor"),
		StatusDir: storageCfg.File.Dir,
		Interval:  loopCfg.MonitorInterval,
	}
	if a.influx != nil {
		monitorDeps.Points = a.influx
	}
	a.monitor = monitor.NewService(monitorDeps)
	if err := a.monitor.Start(); err != nil {
		a.logger.Warn("Failed to start status monitor", "error", err)
	}

	a.logger.Info("Campaign running", "campaign", a.mission.Campaign(), "session", a.mission.SessionID())
	return a.runner.Run(ctx)
}

// setupLogging opens the session log file and rebuilds the logger with the
// file, OTel and GELF outputs enabled in the config.
func (a *app) setupLogging() {
	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		a.logger.Error("Failed to create logs directory", "error", err, "path", logsDir)
	}
	logPath := logging.LogFilePath(logsDir, ServiceName, a.sessionStart)

	// keep the previous run's file with the same timestamp
	if _, err := os.Stat(logPath); err == nil {
		_ = os.Rename(logPath, logPath+".old")
	}
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		a.logger.Error("Failed to create/open log file!", "error", err, "path", logPath)
	} else {
		a.logFile = f
		a.logger.Info("Begin logging in logs directory", "path", logPath)
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		a.otelProvider, err = intOtel.New(context.Background(), intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			Version:      CurrentVersion,
			InstanceID:   a.mission.SessionID(),
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    a.logWriter(),
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			a.logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			a.logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
		}
	}

	var extra []slog.Handler
	if gl := config.GetGraylogConfig(); gl.Enabled {
		h, closer, err := logging.NewGelfHandler(gl.Address, viper.GetString("logLevel"))
		if err != nil {
			a.logger.Error("Failed to initialize GELF handler", "error", err)
		} else {
			extra = append(extra, h)
			a.gelfCloser = closer
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if a.otelProvider != nil {
		otelLogProvider = a.otelProvider.LoggerProvider()
	}
	a.slogManager.SetContextProvider(a.mission.LogAttrs)
	var file io.Writer
	if a.logFile != nil {
		file = a.logFile
	}
	a.slogManager.Setup(file, viper.GetString("logLevel"), otelLogProvider, extra...)
	a.logger = a.slogManager.Logger()
	config.WatchLogLevel(func(level string) {
		a.slogManager.SetLevel(level)
		a.logger.Info("Log level changed", "level", level)
	})
}

// logWriter is the session log file, or stdout without one.
func (a *app) logWriter() io.Writer {
	if a.logFile != nil {
		return a.logFile
	}
	return os.Stdout
}

// loadWorld restores the newest snapshot or, for a new campaign, imports
// the bootstrap file. Templates always come from the bootstrap file.
func (a *app) loadWorld(ctx context.Context, worldCfg config.WorldConfig) error {
	bootstrapPath := viper.GetString("bootstrapFile")
	if !filepath.IsAbs(bootstrapPath) {
		bootstrapPath = filepath.Join(a.env.ConfigDir, bootstrapPath)
	}
	b, err := readBootstrap(bootstrapPath)
	if err != nil {
		return err
	}

	deps := world.Dependencies{
		Config:    &worldCfg,
		Host:      a.bridge,
		Templates: b.TemplateIndex(),
		Logger:    a.slogManager.Component("world"),
	}
	if worldCfg.Map.OriginLat != 0 || worldCfg.Map.OriginLon != 0 {
		proj, err := geo.NewProjection(worldCfg.Map.OriginLat, worldCfg.Map.OriginLon)
		if err != nil {
			a.logger.Warn("Map projection unavailable, FARPs get plain names", "error", err)
		} else {
			deps.Projection = proj
		}
	}
	a.world, err = world.New(deps)
	if err != nil {
		return err
	}

	snap, err := a.backend.Load(ctx)
	switch {
	case errors.Is(err, core.ErrNoSnapshot):
		a.logger.Info("No snapshot found, starting a new campaign", "bootstrap", bootstrapPath)
		if err := a.world.Import(ctx, b, time.Now()); err != nil {
			return fmt.Errorf("importing bootstrap: %w", err)
		}
	case err != nil:
		return fmt.Errorf("loading snapshot: %w", err)
	default:
		if err := a.world.Load(snap.Data); err != nil {
			return err
		}
		a.logger.Info("Loaded snapshot", "id", snap.ID, "takenAt", snap.TakenAt,
			"objectives", snap.Summary.Objectives, "groups", snap.Summary.Groups)
	}
	a.world.RespawnAfterLoad()
	return nil
}

func readBootstrap(path string) (*world.Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bootstrap: %w", err)
	}
	var b world.Bootstrap
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decoding bootstrap %s: %w", path, err)
	}
	return &b, nil
}

// setupStatSinks connects the optional InfluxDB sink and stat stream.
func (a *app) setupStatSinks(ctx context.Context) []worker.StatSink {
	var sinks []worker.StatSink

	if influxCfg := config.GetInfluxConfig(); influxCfg.Enabled {
		backupPath := filepath.Join(viper.GetString("logsDir"),
			fmt.Sprintf("influx_backup_%s.log.gz", a.sessionStart.Format("20060102_150405")))
		m := influx.NewManager(influxCfg,
			logging.NewZerolog(a.logWriter(), viper.GetString("logLevel"), "influx"), backupPath)
		if err := m.Connect(ctx); err != nil {
			a.logger.Error("Failed to connect to InfluxDB", "error", err)
		} else {
			a.influx = m
			sinks = append(sinks, m)
			if !m.Live() {
				a.logger.Warn("InfluxDB unreachable, stats go to the backup file", "path", backupPath)
			}
		}
	}

	if streamCfg := config.GetStreamConfig(); streamCfg.Enabled {
		p := stream.New(streamCfg, a.slogManager.Component("stream"))
		if err := p.Init(); err != nil {
			a.logger.Error("Failed to connect stat stream", "error", err)
		} else if err := p.StartSession(a.mission); err != nil {
			a.logger.Error("Stat stream refused the session", "error", err)
			_ = p.Close()
		} else {
			a.publisher = p
		}
	}
	return sinks
}

// close releases everything run set up, in reverse order. The dispatcher is
// closed first so queued snapshots reach the backend before it closes.
func (a *app) close() {
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.EndSession(); err != nil {
			a.logger.Warn("Failed to end stat stream session", "error", err)
		}
		_ = a.publisher.Close()
	}
	if a.influx != nil {
		if err := a.influx.Close(); err != nil {
			a.logger.Warn("Failed to close InfluxDB", "error", err)
		}
	}
	if a.bridge != nil {
		_ = a.bridge.Close()
	}
	if a.backend != nil {
		if st, ok := a.backend.(storage.SessionTracker); ok {
			if err := st.EndSession(context.Background(), a.mission.SessionID(), time.Now()); err != nil {
				a.logger.Warn("Failed to record session end", "error", err)
			}
		}
		if err := a.backend.Close(); err != nil {
			a.logger.Error("Failed to close storage backend", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.slogManager != nil {
		a.logger.Info("Shut down")
		_ = a.slogManager.Flush(ctx)
	}
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	if a.gelfCloser != nil {
		_ = a.gelfCloser.Close()
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
