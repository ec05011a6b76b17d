package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cugtyt/kg-explorer/internal/eventbus"
	"github.com/cugtyt/kg-explorer/internal/events"
	"github.com/cugtyt/kg-explorer/pkg/api"
)

// Client is the part of *api.Client the service needs.
type Client interface {
	GenerateKnowledgeGraph(ctx context.Context, text string) (*api.GenerateResponse, error)
	AllowedTypes(ctx context.Context) (*api.AllowedTypes, error)
	QueryKnowledgeGraph(ctx context.Context, query string) (*api.QueryResponse, error)
	ClearConversation(ctx context.Context) (*api.ClearConversationResponse, error)
}

// KGService turns each operation into one background call whose outcome is
// published on events.Topic. It performs no validation or retry.
type KGService struct {
	client Client
	bus    eventbus.EventBus
	logger logrus.FieldLogger
	wg     sync.WaitGroup
}

func NewKGService(client Client, bus eventbus.EventBus, logger logrus.FieldLogger) *KGService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &KGService{
		client: client,
		bus:    bus,
		logger: logger,
	}
}

func (s *KGService) GenerateGraph(ctx context.Context, text string) *Request {
	return s.start(ctx, func(ctx context.Context, id string) eventbus.Event {
		resp, err := s.client.GenerateKnowledgeGraph(ctx, text)
		if err != nil {
			s.logger.WithField("request_id", id).Errorf("KG extraction failed: %v", err)
			return events.GraphExtractErrorEvent{RequestID: id, ErrorPayload: events.NewErrorPayload(err)}
		}
		s.logger.WithField("request_id", id).Info("Extracted knowledge graph")
		return events.GraphExtractedEvent{RequestID: id, Result: *resp}
	})
}

func (s *KGService) FetchAllowedTypes(ctx context.Context) *Request {
	return s.start(ctx, func(ctx context.Context, id string) eventbus.Event {
		resp, err := s.client.AllowedTypes(ctx)
		if err != nil {
			s.logger.WithField("request_id", id).Errorf("Failed to fetch allowed types: %v", err)
			return events.AllowedTypesErrorEvent{RequestID: id, ErrorPayload: events.NewErrorPayload(err)}
		}
		return events.AllowedTypesFetchedEvent{RequestID: id, Result: *resp}
	})
}

func (s *KGService) QueryGraph(ctx context.Context, query string) *Request {
	return s.start(ctx, func(ctx context.Context, id string) eventbus.Event {
		resp, err := s.client.QueryKnowledgeGraph(ctx, query)
		if err != nil {
			s.logger.WithField("request_id", id).Errorf("KG query failed: %v", err)
			return events.QueryErrorEvent{RequestID: id, Query: query, ErrorPayload: events.NewErrorPayload(err)}
		}
		s.logger.WithField("request_id", id).Debugf("KG query answered: %q", resp.Query)
		return events.QueryAnsweredEvent{RequestID: id, Result: *resp}
	})
}

func (s *KGService) ClearConversation(ctx context.Context) *Request {
	return s.start(ctx, func(ctx context.Context, id string) eventbus.Event {
		resp, err := s.client.ClearConversation(ctx)
		if err != nil {
			s.logger.WithField("request_id", id).Errorf("Failed to clear conversation: %v", err)
			return events.ConversationClearErrorEvent{RequestID: id, ErrorPayload: events.NewErrorPayload(err)}
		}
		s.logger.WithField("request_id", id).Info("Conversation cleared")
		return events.ConversationClearedEvent{RequestID: id, Result: *resp}
	})
}

func (s *KGService) start(parent context.Context, call func(context.Context, string) eventbus.Event) *Request {
	ctx, cancel := context.WithCancel(parent)
	req := &Request{
		ID:     uuid.New().String(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	ctx = api.WithRequestID(ctx, req.ID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(req.done)
		defer cancel()

		event := call(ctx, req.ID)
		published := req.publish(ctx, func() {
			s.bus.Publish(ctx, events.Topic, event)
		})
		if !published {
			s.logger.WithFields(logrus.Fields{
				"request_id": req.ID,
				"event":      event.EventName(),
			}).Debug("Request cancelled, dropping result")
		}
	}()

	return req
}

// Wait blocks until every started request has finished publishing.
func (s *KGService) Wait() {
	s.wg.Wait()
}
