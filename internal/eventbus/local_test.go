package eventbus

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cugtyt/kg-explorer/internal/metrics"
)

type testEvent struct {
	V int `json:"v"`
}

func (testEvent) EventName() string { return "TEST_EVENT" }

type otherEvent struct {
	Name string `json:"name"`
}

func (otherEvent) EventName() string { return "OTHER_EVENT" }

// recorder collects deliveries in the order handlers ran.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) handler(label string) Handler {
	return func(ctx context.Context, event Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, label+":"+event.EventName()+":"+string(rune('0'+event.(testEvent).V)))
	}
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func quietBus(opts ...Option) *LocalBus {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewLocalBus(append([]Option{WithLogger(logger)}, opts...)...)
}

func TestPublish_UnknownTopic(t *testing.T) {
	bus := quietBus()
	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), "nobody-listens", testEvent{V: 1})
	})
	assert.Zero(t, bus.Subscribers("nobody-listens"))
}

func TestPublish_OrderAndOnce(t *testing.T) {
	bus := quietBus()
	rec := &recorder{}

	for _, label := range []string{"a", "b", "c", "d"} {
		bus.Subscribe("x", rec.handler(label))
	}
	bus.Publish(context.Background(), "x", testEvent{V: 1})

	want := []string{"a:TEST_EVENT:1", "b:TEST_EVENT:1", "c:TEST_EVENT:1", "d:TEST_EVENT:1"}
	if diff := cmp.Diff(want, rec.got()); diff != "" {
		t.Errorf("deliveries mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscribe_UniqueIDs(t *testing.T) {
	bus := quietBus()
	seen := make(map[SubscriptionID]bool)

	for i := 0; i < 100; i++ {
		topic := "t" + string(rune('a'+i%3))
		id := bus.Subscribe(topic, nil)
		assert.NotZero(t, id)
		assert.False(t, seen[id], "id %d issued twice", id)
		seen[id] = true
	}
}

func TestScenario_UnsubscribeFirst(t *testing.T) {
	bus := quietBus()
	rec := &recorder{}

	a := bus.Subscribe("x", rec.handler("A"))
	bus.Subscribe("x", rec.handler("B"))

	bus.Publish(context.Background(), "x", testEvent{V: 1})
	bus.Unsubscribe("x", a)
	bus.Publish(context.Background(), "x", testEvent{V: 2})

	want := []string{"A:TEST_EVENT:1", "B:TEST_EVENT:1", "B:TEST_EVENT:2"}
	if diff := cmp.Diff(want, rec.got()); diff != "" {
		t.Errorf("deliveries mismatch (-want +got):\n%s", diff)
	}
}

func TestUnsubscribe_OnlyThatHandler(t *testing.T) {
	bus := quietBus()
	rec := &recorder{}

	bus.Subscribe("x", rec.handler("a"))
	b := bus.Subscribe("x", rec.handler("b"))
	bus.Subscribe("x", rec.handler("c"))
	bus.Subscribe("y", rec.handler("y"))

	bus.Unsubscribe("x", b)
	bus.Publish(context.Background(), "x", testEvent{V: 3})
	bus.Publish(context.Background(), "y", testEvent{V: 4})

	assert.Equal(t, []string{"a:TEST_EVENT:3", "c:TEST_EVENT:3", "y:TEST_EVENT:4"}, rec.got())
	assert.Equal(t, 2, bus.Subscribers("x"))
}

func TestUnsubscribe_UnknownIsNoop(t *testing.T) {
	bus := quietBus()
	rec := &recorder{}

	id := bus.Subscribe("x", rec.handler("a"))
	bus.Unsubscribe("x", id+100)
	bus.Unsubscribe("other", id)
	bus.Unsubscribe("never", 1)

	bus.Publish(context.Background(), "x", testEvent{V: 1})
	assert.Equal(t, []string{"a:TEST_EVENT:1"}, rec.got())

	bus.Unsubscribe("x", id)
	bus.Unsubscribe("x", id)
	assert.Zero(t, bus.Subscribers("x"))
}

func TestSubscribeUnsubscribeAll_RoundTrip(t *testing.T) {
	bus := quietBus()
	rec := &recorder{}

	var ids []SubscriptionID
	for _, label := range []string{"a", "b", "c"} {
		ids = append(ids, bus.Subscribe("x", rec.handler(label)))
	}
	// Remove out of order to exercise the search.
	for _, i := range []int{1, 2, 0} {
		bus.Unsubscribe("x", ids[i])
	}

	bus.Publish(context.Background(), "x", testEvent{V: 1})
	assert.Empty(t, rec.got())
	assert.Zero(t, bus.Subscribers("x"))

	bus.mu.RLock()
	_, exists := bus.topics["x"]
	bus.mu.RUnlock()
	assert.False(t, exists, "empty topic is dropped")
}

func TestPublish_ReentrantSubscribe(t *testing.T) {
	bus := quietBus()
	rec := &recorder{}

	var once sync.Once
	bus.Subscribe("x", func(ctx context.Context, event Event) {
		once.Do(func() {
			bus.Subscribe("x", rec.handler("late"))
		})
	})
	var self SubscriptionID
	self = bus.Subscribe("x", func(ctx context.Context, event Event) {
		bus.Unsubscribe("x", self)
		rec.handler("self")(ctx, event)
	})

	bus.Publish(context.Background(), "x", testEvent{V: 1})
	bus.Publish(context.Background(), "x", testEvent{V: 2})

	assert.Equal(t, []string{"self:TEST_EVENT:1", "late:TEST_EVENT:2"}, rec.got())
}

func TestPublish_RecoversPanics(t *testing.T) {
	var logs bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&logs)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	bus := NewLocalBus(WithLogger(logger), WithMetrics(m))
	rec := &recorder{}

	bus.Subscribe("x", func(ctx context.Context, event Event) { panic("boom") })
	bus.Subscribe("x", rec.handler("after"))

	require.NotPanics(t, func() {
		bus.Publish(context.Background(), "x", testEvent{V: 1})
	})
	assert.Equal(t, []string{"after:TEST_EVENT:1"}, rec.got())
	assert.Contains(t, logs.String(), "handler panicked: boom")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BusHandlerPanics.WithLabelValues("x", "TEST_EVENT")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BusDeliveries.WithLabelValues("x")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BusEventsPublished.WithLabelValues("x", "TEST_EVENT")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BusSubscribers.WithLabelValues("x")))
}

func TestPublish_FailFast(t *testing.T) {
	bus := quietBus(WithRecovery(false))
	rec := &recorder{}

	bus.Subscribe("x", func(ctx context.Context, event Event) { panic("boom") })
	bus.Subscribe("x", rec.handler("after"))

	assert.PanicsWithValue(t, "boom", func() {
		bus.Publish(context.Background(), "x", testEvent{V: 1})
	})
	assert.Empty(t, rec.got())
}

func TestSubscribe_Typed(t *testing.T) {
	bus := quietBus()

	var got []testEvent
	Subscribe(bus, "x", func(ctx context.Context, e testEvent) {
		got = append(got, e)
	})

	bus.Publish(context.Background(), "x", otherEvent{Name: "skip"})
	bus.Publish(context.Background(), "x", testEvent{V: 7})

	assert.Equal(t, []testEvent{{V: 7}}, got)
}

func TestSubscribeContext(t *testing.T) {
	bus := quietBus()
	ctx, cancel := context.WithCancel(context.Background())

	var count int
	SubscribeContext(ctx, bus, "x", func(context.Context, Event) { count++ })

	bus.Publish(context.Background(), "x", testEvent{V: 1})
	cancel()
	bus.Publish(context.Background(), "x", testEvent{V: 2})

	assert.Equal(t, 1, count)
	assert.Eventually(t, func() bool { return bus.Subscribers("x") == 0 }, time.Second, 5*time.Millisecond)
}

func TestPublish_Concurrent(t *testing.T) {
	bus := quietBus()
	var mu sync.Mutex
	total := 0

	for i := 0; i < 4; i++ {
		bus.Subscribe("x", func(context.Context, Event) {
			mu.Lock()
			total++
			mu.Unlock()
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), "x", testEvent{V: 1})
		}()
		go func() {
			defer wg.Done()
			id := bus.Subscribe("y", nil)
			bus.Unsubscribe("y", id)
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, total)
	assert.Zero(t, bus.Subscribers("y"))
}

func TestSubscribersGauge_MatchesAfterConcurrentChanges(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	bus := NewLocalBus(WithLogger(quietLogger()), WithMetrics(m))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(keep bool) {
			defer wg.Done()
			id := bus.Subscribe("y", nil)
			if !keep {
				bus.Unsubscribe("y", id)
			}
		}(i%3 == 0)
	}
	wg.Wait()

	require.Equal(t, 34, bus.Subscribers("y"))
	assert.Equal(t, 34.0, testutil.ToFloat64(m.BusSubscribers.WithLabelValues("y")))
}
