package otel

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(context.Background(), Config{Endpoint: "collector:4318"})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledWithoutExporter(t *testing.T) {
	_, err := New(context.Background(), Config{Enabled: true, ServiceName: "campaign"})
	assert.ErrorIs(t, err, ErrNoExporter)
}

func TestNew_WritesRecordsWithResource(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(context.Background(), Config{
		Enabled:      true,
		ServiceName:  "campaign",
		Version:      "1.2.0",
		InstanceID:   "6f1c",
		BatchTimeout: time.Second,
		LogWriter:    &buf,
	})
	require.NoError(t, err)
	require.True(t, p.Enabled())

	logger := slog.New(otelslog.NewHandler("test", otelslog.WithLoggerProvider(p.LoggerProvider())))
	logger.Info("objective captured", "objective", "Maykop")
	require.NoError(t, p.Shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "objective captured")
	assert.Contains(t, out, "Maykop")
	assert.Contains(t, out, "6f1c")
	assert.Contains(t, out, "1.2.0")
}

func TestAttributes(t *testing.T) {
	attrs := attributes(Config{ServiceName: "campaign"})
	require.Len(t, attrs, 1)
	assert.Equal(t, semconv.ServiceName("campaign"), attrs[0])

	attrs = attributes(Config{ServiceName: "campaign", Version: "1", InstanceID: "s"})
	assert.Len(t, attrs, 3)
}
