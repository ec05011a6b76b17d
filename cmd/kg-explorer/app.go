package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/cugtyt/kg-explorer/internal/config"
	"github.com/cugtyt/kg-explorer/internal/eventbus"
	"github.com/cugtyt/kg-explorer/internal/events"
	"github.com/cugtyt/kg-explorer/internal/handlers"
	"github.com/cugtyt/kg-explorer/internal/metrics"
	"github.com/cugtyt/kg-explorer/internal/service"
	"github.com/cugtyt/kg-explorer/internal/store"
	"github.com/cugtyt/kg-explorer/pkg/api"
)

// app owns every long-lived component. Optional backends stay nil when not
// configured.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	registry *prometheus.Registry
	bus      *eventbus.LocalBus
	client   *api.Client
	svc      *service.KGService

	redis        *store.RedisClient
	graphs       *store.GraphStore
	conversation *store.ConversationStore
	persistence  *handlers.PersistenceHandler
	bridge       *eventbus.NATSBridge
}

func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	bus := eventbus.NewLocalBus(eventbus.WithLogger(logger), eventbus.WithMetrics(m))
	client := api.NewClient(cfg.API.BaseURL,
		api.WithTimeout(cfg.API.Timeout),
		api.WithRateLimit(cfg.API.RateLimit),
		api.WithMetrics(m),
	)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		bus:      bus,
		client:   client,
		svc:      service.NewKGService(client, bus, logger),
	}

	if cfg.Redis.URL != "" {
		redis, err := store.NewRedisClient(ctx, cfg.Redis.URL, logger)
		if err != nil {
			return nil, err
		}
		a.redis = redis
		a.graphs = store.NewGraphStore(redis, cfg.Redis.Expiration)
		a.conversation = store.NewConversationStore(redis, cfg.Redis.Expiration)
		a.persistence = handlers.NewPersistenceHandler(a.graphs, a.conversation, logger)
		a.persistence.Register(bus)
	}

	if cfg.NATS.URL != "" {
		codec, err := eventbus.CodecByName(cfg.NATS.Codec)
		if err != nil {
			a.close()
			return nil, err
		}
		bridge, err := eventbus.NewNATSBridge(cfg.NATS.URL,
			eventbus.WithSubjectPrefix(cfg.NATS.SubjectPrefix),
			eventbus.WithCodec(codec),
			eventbus.WithBridgeLogger(logger),
		)
		if err != nil {
			a.close()
			return nil, err
		}
		bridge.Attach(bus, events.Topic)
		a.bridge = bridge
	}

	return a, nil
}

func (a *app) close() {
	a.svc.Wait()
	if a.persistence != nil {
		a.persistence.Close()
	}
	if a.bridge != nil {
		a.bridge.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warnf("Error closing Redis: %v", err)
		}
	}
}

// await starts a request and returns the event it produced.
func (a *app) await(ctx context.Context, start func(context.Context) *service.Request) (eventbus.Event, error) {
	results := make(chan eventbus.Event, 8)
	id := a.bus.Subscribe(events.Topic, func(_ context.Context, event eventbus.Event) {
		select {
		case results <- event:
		default:
		}
	})
	defer a.bus.Unsubscribe(events.Topic, id)

	req := start(ctx)
	for {
		select {
		case event := <-results:
			if requestID(event) == req.ID {
				return event, nil
			}
		case <-ctx.Done():
			req.Cancel()
			return nil, fmt.Errorf("request %s: %w", req.ID, ctx.Err())
		}
	}
}

func requestID(event eventbus.Event) string {
	switch e := event.(type) {
	case events.GraphExtractedEvent:
		return e.RequestID
	case events.GraphExtractErrorEvent:
		return e.RequestID
	case events.QueryAnsweredEvent:
		return e.RequestID
	case events.QueryErrorEvent:
		return e.RequestID
	case events.AllowedTypesFetchedEvent:
		return e.RequestID
	case events.AllowedTypesErrorEvent:
		return e.RequestID
	case events.ConversationClearedEvent:
		return e.RequestID
	case events.ConversationClearErrorEvent:
		return e.RequestID
	}
	return ""
}
