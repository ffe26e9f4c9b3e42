package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// swapped in tests
var (
	osStdout = os.Stdout
	osPipe   = os.Pipe
)

// otelScope names the instrumentation scope of records bridged to OTel.
const otelScope = "github.com/OCAP2/campaign"

// SlogManager owns the process logger. Before Setup it hands out
// slog.Default; Setup may run again once the config and the session log
// file are known.
type SlogManager struct {
	logger   *slog.Logger
	level    slog.LevelVar
	provider *sdklog.LoggerProvider
	stamp    ContextProvider
}

func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel accepts the slog level names in any case and falls back to info.
func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// SetContextProvider stamps p's attributes on every record logged after the
// next Setup.
func (m *SlogManager) SetContextProvider(p ContextProvider) {
	m.stamp = p
}

// Setup rebuilds the logger. Records go to file, or to stdout when file is
// nil, and to the OTel provider and extra handlers when given.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider, extra ...slog.Handler) {
	m.level.Set(parseLevel(level))
	m.provider = provider

	out := file
	if out == nil {
		out = osStdout
	}
	outputs := []slog.Handler{slog.NewTextHandler(out, &slog.HandlerOptions{
		Level:       &m.level,
		ReplaceAttr: utcTime,
	})}
	if provider != nil {
		outputs = append(outputs, otelslog.NewHandler(otelScope, otelslog.WithLoggerProvider(provider)))
	}
	outputs = append(outputs, extra...)

	var h slog.Handler = newFanout(outputs...)
	if m.stamp != nil {
		h = stamped{next: h, provide: m.stamp}
	}
	m.logger = slog.New(h)
	m.logger.Info("Logging initialized", "level", m.level.Level().String())
}

func utcTime(_ []string, a slog.Attr) slog.Attr {
	if t, ok := a.Value.Any().(time.Time); ok && a.Key == slog.TimeKey {
		a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
	}
	return a
}

// SetLevel changes the file and console level without rebuilding the
// logger.
func (m *SlogManager) SetLevel(level string) {
	m.level.Set(parseLevel(level))
}

func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Component returns the logger tagged with component=name.
func (m *SlogManager) Component(name string) *slog.Logger {
	return m.Logger().With("component", name)
}

// Flush pushes pending OTel records.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.ForceFlush(ctx)
}
