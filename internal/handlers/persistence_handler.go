package handlers

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/cugtyt/kg-explorer/internal/eventbus"
	"github.com/cugtyt/kg-explorer/internal/events"
	"github.com/cugtyt/kg-explorer/internal/store"
)

type GraphSaver interface {
	SaveGraph(ctx context.Context, record store.GraphRecord) error
}

type TranscriptWriter interface {
	AppendTurn(ctx context.Context, turn store.Turn) error
	Clear(ctx context.Context) error
}

// PersistenceHandler keeps the last graph and the chat transcript in sync
// with what the service returned. Writes run on a worker goroutine so
// Redis latency never holds up other subscribers.
type PersistenceHandler struct {
	graphs       GraphSaver
	conversation TranscriptWriter
	logger       logrus.FieldLogger
	worker       *eventbus.AsyncHandler
}

func NewPersistenceHandler(graphs GraphSaver, conversation TranscriptWriter, logger logrus.FieldLogger) *PersistenceHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PersistenceHandler{
		graphs:       graphs,
		conversation: conversation,
		logger:       logger,
	}
}

// Register subscribes the handler to events.Topic and returns the
// subscription for later removal. Call Close to flush pending writes.
func (h *PersistenceHandler) Register(bus eventbus.EventBus) eventbus.SubscriptionID {
	h.worker = eventbus.NewAsyncHandler("persistence", h.Handle, eventbus.DefaultQueueSize, h.logger)
	return bus.Subscribe(events.Topic, h.worker.Handle)
}

// Close waits for queued writes to finish.
func (h *PersistenceHandler) Close() {
	if h.worker != nil {
		h.worker.Close()
	}
}

// Handle dispatches one event synchronously.
func (h *PersistenceHandler) Handle(ctx context.Context, event eventbus.Event) {
	switch e := event.(type) {
	case events.GraphExtractedEvent:
		h.HandleGraphExtracted(ctx, e)
	case events.QueryAnsweredEvent:
		h.HandleQueryAnswered(ctx, e)
	case events.ConversationClearedEvent:
		h.HandleConversationCleared(ctx, e)
	}
}

func (h *PersistenceHandler) HandleGraphExtracted(ctx context.Context, event events.GraphExtractedEvent) {
	record := store.GraphRecord{
		KG:               event.Result.KG,
		VisualGraphNodes: event.Result.VisualGraphNodes,
		FactualTriples:   event.Result.FactualTriples,
		RequestID:        event.RequestID,
	}
	if err := h.graphs.SaveGraph(ctx, record); err != nil {
		h.logger.Errorf("[%s] Failed to save graph: %v", event.RequestID, err)
		return
	}

	// A new graph starts a new conversation on the service side too.
	if err := h.conversation.Clear(ctx); err != nil {
		h.logger.Errorf("[%s] Failed to reset conversation: %v", event.RequestID, err)
	}
}

func (h *PersistenceHandler) HandleQueryAnswered(ctx context.Context, event events.QueryAnsweredEvent) {
	turn := store.Turn{
		Query:  event.Result.Query,
		Answer: event.Result.Answer,
	}
	if err := h.conversation.AppendTurn(ctx, turn); err != nil {
		h.logger.Errorf("[%s] Failed to append turn: %v", event.RequestID, err)
	}
}

func (h *PersistenceHandler) HandleConversationCleared(ctx context.Context, event events.ConversationClearedEvent) {
	if err := h.conversation.Clear(ctx); err != nil {
		h.logger.Errorf("[%s] Failed to clear conversation: %v", event.RequestID, err)
	}
}
