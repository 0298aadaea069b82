package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisabledIsNoop(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = false
	tel, err := New(cfg)
	require.NoError(t, err)

	tracer := tel.Tracer("test")
	_, span := tracer.Start(context.Background(), "op")
	span.End()
	assert.True(t, tel.Health().Healthy)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.ServiceName = ""
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestShutdownMarksUnhealthy(t *testing.T) {
	cfg := NewDefaultConfig()
	tel, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Health().Healthy)
}

func TestNilTelemetrySafe(t *testing.T) {
	var tel *Telemetry
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Health().Healthy)
}
