package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	natssrv "github.com/nats-io/nats-server/v2/server"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cugtyt/kg-explorer/internal/eventbus"
	"github.com/cugtyt/kg-explorer/internal/events"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runNATS(t *testing.T) *natssrv.Server {
	t.Helper()
	s, err := natssrv.NewServer(&natssrv.Options{Port: -1, JetStream: true, StoreDir: t.TempDir()})
	require.NoError(t, err)
	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		t.Fatal("nats server not ready")
	}
	t.Cleanup(s.Shutdown)
	return s
}

func TestWatchEvents(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s := runNATS(t)

	newBridge := func() *eventbus.NATSBridge {
		bridge, err := eventbus.NewNATSBridge(s.ClientURL(),
			eventbus.WithSubjectPrefix("watchtest"),
			eventbus.WithCodec(eventbus.MsgpackCodec{}),
			eventbus.WithBridgeLogger(logger),
		)
		require.NoError(t, err)
		t.Cleanup(func() { bridge.Close() })
		return bridge
	}

	var out lockedBuffer
	require.NoError(t, watchEvents(newBridge(), defaultWatchQueue, &out))

	bus := eventbus.NewLocalBus(eventbus.WithLogger(logger))
	newBridge().Attach(bus, events.Topic)

	ctx := context.Background()
	bus.Publish(ctx, events.Topic, events.QueryAnsweredEvent{RequestID: "q-1"})
	bus.Publish(ctx, events.Topic, events.QueryErrorEvent{
		RequestID:    "q-2",
		ErrorPayload: events.ErrorPayload{Status: 404, Error: "no graph"},
	})

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "\n") == 2
	}, 5*time.Second, 20*time.Millisecond)

	got := out.String()
	assert.Contains(t, got, "KG_QUERY_SUCCESS request_id=q-1\n")
	assert.Contains(t, got, `KG_QUERY_ERROR request_id=q-2 status=404 error="no graph"`)
}

func TestFormatWatched(t *testing.T) {
	assert.Equal(t, "KG_EXTRACTED_SUCCESS request_id=r", formatWatched("KG_EXTRACTED_SUCCESS", watched{RequestID: "r"}))
	assert.Equal(t, `KG_EXTRACTED_ERROR request_id=r error="boom"`,
		formatWatched("KG_EXTRACTED_ERROR", watched{RequestID: "r", Error: "boom"}))
}
