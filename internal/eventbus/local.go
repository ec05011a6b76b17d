package eventbus

import (
	"cmp"
	"context"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cugtyt/kg-explorer/internal/metrics"
)

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// LocalBus is an in-process EventBus. Handlers run synchronously on the
// publisher's goroutine in registration order.
//
// Each topic keeps its subscriptions sorted by ID (IDs only grow), so
// Unsubscribe is a binary search plus one slice removal.
type LocalBus struct {
	mu       sync.RWMutex
	topics   map[string][]subscription
	lastID   SubscriptionID
	recovery bool
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics
}

type Option func(*LocalBus)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(b *LocalBus) {
		b.logger = logger
	}
}

// WithRecovery controls whether a panicking handler is recovered so that
// the remaining handlers still run. Enabled by default; when disabled the
// panic propagates to the caller of Publish.
func WithRecovery(enabled bool) Option {
	return func(b *LocalBus) {
		b.recovery = enabled
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *LocalBus) {
		b.metrics = m
	}
}

func NewLocalBus(opts ...Option) *LocalBus {
	b := &LocalBus{
		topics:   make(map[string][]subscription),
		recovery: true,
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *LocalBus) Subscribe(topic string, handler Handler) SubscriptionID {
	if handler == nil {
		handler = func(context.Context, Event) {}
	}

	b.mu.Lock()
	b.lastID++
	id := b.lastID
	b.topics[topic] = append(b.topics[topic], subscription{id: id, handler: handler})
	// Under the lock so the gauge is written in the same order as the change.
	b.metrics.SetSubscribers(topic, len(b.topics[topic]))
	b.mu.Unlock()

	b.logger.WithFields(logrus.Fields{"topic": topic, "subscription": id}).Debug("EventBus: subscribed")
	return id
}

func (b *LocalBus) Unsubscribe(topic string, id SubscriptionID) {
	b.mu.Lock()
	subs, ok := b.topics[topic]
	if !ok {
		b.mu.Unlock()
		return
	}

	i, found := slices.BinarySearchFunc(subs, id, func(s subscription, target SubscriptionID) int {
		return cmp.Compare(s.id, target)
	})
	if !found {
		b.mu.Unlock()
		return
	}

	subs = slices.Delete(subs, i, i+1)
	if len(subs) == 0 {
		delete(b.topics, topic)
	} else {
		b.topics[topic] = subs
	}
	b.metrics.SetSubscribers(topic, len(subs))
	b.mu.Unlock()

	b.logger.WithFields(logrus.Fields{"topic": topic, "subscription": id}).Debug("EventBus: unsubscribed")
}

// Publish delivers event to the handlers registered when Publish was called.
// Handlers may subscribe or unsubscribe while running; that affects later
// publishes only.
func (b *LocalBus) Publish(ctx context.Context, topic string, event Event) {
	b.mu.RLock()
	subs := slices.Clone(b.topics[topic])
	b.mu.RUnlock()

	name := eventName(event)
	b.metrics.EventPublished(topic, name)

	for _, sub := range subs {
		b.deliver(ctx, topic, name, sub, event)
	}
}

func (b *LocalBus) deliver(ctx context.Context, topic, name string, sub subscription, event Event) {
	if b.recovery {
		defer func() {
			if r := recover(); r != nil {
				b.metrics.HandlerPanicked(topic, name)
				b.logger.WithFields(logrus.Fields{
					"topic":        topic,
					"event":        name,
					"subscription": sub.id,
					"stack":        string(debug.Stack()),
				}).Errorf("EventBus: handler panicked: %v", r)
			}
		}()
	}
	b.metrics.EventDelivered(topic)
	sub.handler(ctx, event)
}

// Subscribers reports how many handlers are registered for topic.
func (b *LocalBus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
