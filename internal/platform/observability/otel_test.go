package observability

import (
	"context"
	"errors"
	"testing"

	"reservationservice/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	cfg := &config.Config{}

	tp, shutdown, err := SetupTracingSDK(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, tp)
	assert.NoError(t, shutdown(context.Background()))
	assert.NotNil(t, otel.GetTextMapPropagator())

	logShutdown, err := SetupLoggingSDK(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoError(t, logShutdown(context.Background()))
}

func TestJoinShutdownRunsInReverseAndJoinsErrors(t *testing.T) {
	var order []string
	boom := errors.New("boom")
	shutdown := JoinShutdown(
		func(context.Context) error { order = append(order, "first"); return nil },
		nil,
		func(context.Context) error { order = append(order, "second"); return boom },
	)

	err := shutdown(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"second", "first"}, order)
}

func TestNewLoggerSatisfiesInterface(t *testing.T) {
	var logger Logger = NewLogger()
	logger.Info("hello")
}
