package eventbus

import (
	"context"
	"io"
	"testing"
	"time"

	natssrv "github.com/nats-io/nats-server/v2/server"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runJetStreamServer(t *testing.T) *natssrv.Server {
	t.Helper()

	opts := &natssrv.Options{
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	s, err := natssrv.NewServer(opts)
	require.NoError(t, err)

	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		t.Fatalf("nats server not ready")
	}
	t.Cleanup(s.Shutdown)
	return s
}

func newTestBridge(t *testing.T, url string, opts ...BridgeOption) *NATSBridge {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	bridge, err := NewNATSBridge(url, append([]BridgeOption{WithBridgeLogger(logger)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { bridge.Close() })
	return bridge
}

func TestNATSBridge_Subject(t *testing.T) {
	nb := &NATSBridge{prefix: "kg.dev"}
	assert.Equal(t, "kg.dev.KG_QUERY_SUCCESS", nb.Subject("KG_QUERY_SUCCESS"))
	assert.Equal(t, "KG_DEV", nb.streamName())
}

func TestNATSBridge_MirrorsTopic(t *testing.T) {
	for _, codec := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			s := runJetStreamServer(t)

			publisher := newTestBridge(t, s.ClientURL(), WithSubjectPrefix("kgtest"), WithCodec(codec))
			consumer := newTestBridge(t, s.ClientURL(), WithSubjectPrefix("kgtest"), WithCodec(codec))
			require.True(t, publisher.IsConnected())
			assert.Contains(t, publisher.Status(), "Connected to")

			received := make(chan payloadEvent, 1)
			err := consumer.Subscribe("PAYLOAD_EVENT", "observer", func(ctx context.Context, data []byte) {
				if event, ok := UnmarshalEvent[payloadEvent](consumer.Codec(), data); ok {
					received <- event
				}
			})
			require.NoError(t, err)

			bus := quietBus()
			publisher.Attach(bus, "app")
			assert.Equal(t, 1, bus.Subscribers("app"))

			bus.Publish(context.Background(), "app", otherEvent{Name: "not subscribed"})
			bus.Publish(context.Background(), "app", payloadEvent{RequestID: "r7", Tags: []string{"x"}})

			select {
			case got := <-received:
				assert.Equal(t, "r7", got.RequestID)
				assert.Equal(t, []string{"x"}, got.Tags)
			case <-time.After(5 * time.Second):
				t.Fatal("mirrored event not received")
			}

			require.NoError(t, publisher.Close())
			assert.Zero(t, bus.Subscribers("app"), "close detaches from the bus")
			assert.False(t, publisher.IsConnected())
		})
	}
}

func TestNATSBridge_ServerDownDoesNotDelayBus(t *testing.T) {
	s := runJetStreamServer(t)
	bridge := newTestBridge(t, s.ClientURL(), WithSubjectPrefix("kgdown"))

	bus := quietBus()
	bridge.Attach(bus, "app")

	var ran time.Time
	bus.Subscribe("app", func(ctx context.Context, event Event) {
		ran = time.Now()
	})

	s.Shutdown()
	start := time.Now()
	bus.Publish(context.Background(), "app", payloadEvent{RequestID: "r1"})

	require.False(t, ran.IsZero())
	assert.Less(t, ran.Sub(start), 500*time.Millisecond)
}

func TestNATSBridge_AttachMoves(t *testing.T) {
	s := runJetStreamServer(t)
	bridge := newTestBridge(t, s.ClientURL())

	bus := quietBus()
	bridge.Attach(bus, "one")
	bridge.Attach(bus, "two")

	assert.Zero(t, bus.Subscribers("one"))
	assert.Equal(t, 1, bus.Subscribers("two"))
}

func TestNewNATSBridge_Unreachable(t *testing.T) {
	_, err := NewNATSBridge("nats://127.0.0.1:1")
	assert.Error(t, err)
}
