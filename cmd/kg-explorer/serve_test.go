package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cugtyt/kg-explorer/internal/eventbus"
	"github.com/cugtyt/kg-explorer/internal/server"
	"github.com/cugtyt/kg-explorer/internal/store"
)

func health(t *testing.T, h http.Handler) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	return rec.Code, rec.Body.String()
}

func TestServerOptions_HealthReportsBackends(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	mr := miniredis.RunT(t)
	redis, err := store.NewRedisClient(context.Background(), "redis://"+mr.Addr(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { redis.Close() })

	s := runNATS(t)
	bridge, err := eventbus.NewNATSBridge(s.ClientURL(), eventbus.WithBridgeLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { bridge.Close() })

	a := &app{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		bus:      eventbus.NewLocalBus(eventbus.WithLogger(logger)),
		redis:    redis,
		bridge:   bridge,
	}
	h := server.New(nil, nil, a.bus, a.serverOptions()...).Handler()

	code, body := health(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)

	s.Shutdown()
	require.Eventually(t, func() bool { return !bridge.IsConnected() }, 5*time.Second, 20*time.Millisecond)
	code, body = health(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "nats: Disconnected", body)

	mr.Close()
	code, body = health(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "redis: ")
	assert.Contains(t, body, "nats: Disconnected")
}

func TestServerOptions_NoBackends(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	a := &app{logger: logger, registry: prometheus.NewRegistry(), bus: eventbus.NewLocalBus()}

	code, body := health(t, server.New(nil, nil, a.bus, a.serverOptions()...).Handler())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)
}
