package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATSBridge mirrors the events of one local topic onto JetStream subjects
// named <prefix>.<event_name>, so other processes can observe extraction and
// chat activity.
type NATSBridge struct {
	nats          *nats.Conn
	jetStream     nats.JetStreamContext
	prefix        string
	codec         Codec
	logger        logrus.FieldLogger
	subscriptions []*nats.Subscription

	mu            sync.Mutex
	streamCreated bool
	bus           EventBus
	topic         string
	localID       SubscriptionID
	worker        *AsyncHandler
	queueSize     int
}

type BridgeOption func(*NATSBridge)

func WithSubjectPrefix(prefix string) BridgeOption {
	return func(nb *NATSBridge) {
		nb.prefix = prefix
	}
}

func WithCodec(codec Codec) BridgeOption {
	return func(nb *NATSBridge) {
		nb.codec = codec
	}
}

func WithBridgeLogger(logger logrus.FieldLogger) BridgeOption {
	return func(nb *NATSBridge) {
		nb.logger = logger
	}
}

// WithQueueSize bounds how many events may wait for NATS before new ones
// are dropped.
func WithQueueSize(size int) BridgeOption {
	return func(nb *NATSBridge) {
		nb.queueSize = size
	}
}

func NewNATSBridge(natsURL string, opts ...BridgeOption) (*NATSBridge, error) {
	nb := &NATSBridge{
		prefix: "kg",
		codec:  JSONCodec{},
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(nb)
	}

	nc, err := nats.Connect(natsURL,
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			nb.logger.Warnf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			nb.logger.Infof("NATS reconnected to %v", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize JetStream: %w", err)
	}

	nb.nats = nc
	nb.jetStream = js

	nb.logger.Infof("Connected to NATS at %s", natsURL)
	return nb, nil
}

func (nb *NATSBridge) streamName() string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(nb.prefix))
}

func (nb *NATSBridge) Subject(eventName string) string {
	return nb.prefix + "." + eventName
}

func (nb *NATSBridge) ensureStream() error {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	if nb.streamCreated {
		return nil
	}

	name := nb.streamName()
	if _, err := nb.jetStream.StreamInfo(name); err != nil {
		streamConfig := &nats.StreamConfig{
			Name:       name,
			Subjects:   []string{nb.prefix + ".>"},
			Retention:  nats.LimitsPolicy,
			Storage:    nats.FileStorage,
			Duplicates: 2 * time.Minute,
			MaxAge:     24 * time.Hour,
		}

		if _, err := nb.jetStream.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", name, err)
		}
		nb.logger.Infof("Created JetStream stream: %s", name)
	}

	nb.streamCreated = true
	return nil
}

// Emit publishes one event to its subject.
func (nb *NATSBridge) Emit(event Event) error {
	if err := nb.ensureStream(); err != nil {
		return err
	}

	subject := nb.Subject(eventName(event))

	data, err := nb.codec.Marshal(NewEnvelope(event))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := nb.jetStream.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", subject, err)
	}

	nb.logger.Debugf("EventBus: Event emitted to %s", subject)
	return nil
}

// Attach forwards every event published on topic of bus to NATS. Emitting
// happens on a worker goroutine, so a slow or unreachable server never
// delays the bus. A bridge attaches to at most one topic; calling Attach
// again moves it.
func (nb *NATSBridge) Attach(bus EventBus, topic string) {
	nb.detach()

	worker := NewAsyncHandler("nats-mirror", func(ctx context.Context, event Event) {
		if err := nb.Emit(event); err != nil {
			nb.logger.WithField("event", eventName(event)).Errorf("Failed to mirror event: %v", err)
		}
	}, nb.queueSize, nb.logger)
	id := bus.Subscribe(topic, worker.Handle)

	nb.mu.Lock()
	nb.bus, nb.topic, nb.localID, nb.worker = bus, topic, id, worker
	nb.mu.Unlock()
}

// detach unsubscribes from the bus and flushes events already queued.
func (nb *NATSBridge) detach() {
	nb.mu.Lock()
	bus, topic, id, worker := nb.bus, nb.topic, nb.localID, nb.worker
	nb.bus, nb.worker = nil, nil
	nb.mu.Unlock()

	if bus != nil {
		bus.Unsubscribe(topic, id)
	}
	if worker != nil {
		worker.Close()
	}
}

// Subscribe consumes mirrored events of one kind through a durable queue
// group. handler receives the encoded envelope; decode it with
// UnmarshalEvent.
func (nb *NATSBridge) Subscribe(eventName, queue string, handler func(context.Context, []byte)) error {
	if err := nb.ensureStream(); err != nil {
		return err
	}

	subject := nb.Subject(eventName)
	consumerName := fmt.Sprintf("%s-%s-consumer", queue, strings.ToLower(eventName))

	sub, err := nb.jetStream.QueueSubscribe(subject, queue,
		func(msg *nats.Msg) {
			handler(context.Background(), msg.Data)
			msg.Ack()
		},
		nats.Durable(consumerName),
		nats.ManualAck(),
		nats.AckWait(30*time.Second),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	nb.mu.Lock()
	nb.subscriptions = append(nb.subscriptions, sub)
	nb.mu.Unlock()

	nb.logger.Infof("EventBus: Subscribed to %s with queue %s", subject, queue)
	return nil
}

func (nb *NATSBridge) Codec() Codec {
	return nb.codec
}

func (nb *NATSBridge) Close() error {
	nb.logger.Info("Closing NATS bridge...")

	nb.detach()

	nb.mu.Lock()
	subs := nb.subscriptions
	nb.subscriptions = nil
	nb.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			nb.logger.Warnf("Error unsubscribing: %v", err)
		}
	}

	if nb.nats != nil {
		nb.nats.Close()
	}

	nb.logger.Info("NATS bridge closed")
	return nil
}

func (nb *NATSBridge) IsConnected() bool {
	return nb.nats != nil && nb.nats.IsConnected()
}

func (nb *NATSBridge) Status() string {
	if nb.nats == nil {
		return "Not initialized"
	}
	if nb.nats.IsConnected() {
		return fmt.Sprintf("Connected to %s", nb.nats.ConnectedUrl())
	}
	return "Disconnected"
}
