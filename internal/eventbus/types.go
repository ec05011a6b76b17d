package eventbus

import "context"

// Event is a payload published on a topic. EventName is the discriminator
// subscribers switch on.
type Event interface {
	EventName() string
}

type Handler func(context.Context, Event)

type EventHandler[T Event] func(context.Context, T)

// SubscriptionID is the capability returned by Subscribe. IDs are never
// reused within a bus, and zero is never issued.
type SubscriptionID uint64

type EventBus interface {
	Subscribe(topic string, handler Handler) SubscriptionID
	Unsubscribe(topic string, id SubscriptionID)
	Publish(ctx context.Context, topic string, event Event)
}

// Subscribe registers a handler that only receives events of type T.
// Other event kinds on the same topic are skipped.
func Subscribe[T Event](bus EventBus, topic string, handler EventHandler[T]) SubscriptionID {
	return bus.Subscribe(topic, func(ctx context.Context, event Event) {
		if typed, ok := event.(T); ok {
			handler(ctx, typed)
		}
	})
}

// SubscribeContext registers handler until ctx is done. Events published
// after ctx ends are never delivered, even if removal has not run yet.
func SubscribeContext(ctx context.Context, bus EventBus, topic string, handler Handler) SubscriptionID {
	id := bus.Subscribe(topic, func(hctx context.Context, event Event) {
		if ctx.Err() != nil {
			return
		}
		handler(hctx, event)
	})
	context.AfterFunc(ctx, func() {
		bus.Unsubscribe(topic, id)
	})
	return id
}

func eventName(event Event) string {
	if event == nil {
		return ""
	}
	return event.EventName()
}
