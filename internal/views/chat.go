package views

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cugtyt/kg-explorer/internal/eventbus"
	"github.com/cugtyt/kg-explorer/internal/events"
	"github.com/cugtyt/kg-explorer/internal/service"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type QueryService interface {
	QueryGraph(ctx context.Context, query string) *service.Request
	ClearConversation(ctx context.Context) *service.Request
}

// GraphAvailability reports whether there is a graph to chat against.
type GraphAvailability interface {
	HasGraph() bool
}

type ChatMessage struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Query   string `json:"query,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

type ChatState struct {
	Messages []ChatMessage `json:"messages"`
	Loading  bool          `json:"loading"`
	Error    string        `json:"error,omitempty"`
	Enabled  bool          `json:"enabled"`
}

// Chat is the question-answering panel bound to the current graph.
type Chat struct {
	bus         eventbus.EventBus
	svc         QueryService
	graphs      GraphAvailability
	transcripts TranscriptLoader
	logger      logrus.FieldLogger

	mu       sync.Mutex
	state    ChatState
	alive    bool
	ctx      context.Context
	cancel   context.CancelFunc
	subID    eventbus.SubscriptionID
	pending  *service.Request
	clearing *service.Request
}

func NewChat(bus eventbus.EventBus, svc QueryService, graphs GraphAvailability, opts ...Option) *Chat {
	o := newOptions(opts)
	return &Chat{
		bus:         bus,
		svc:         svc,
		graphs:      graphs,
		transcripts: o.transcripts,
		logger:      o.logger.WithField("view", "chat"),
		state:       ChatState{Messages: []ChatMessage{}},
	}
}

func (c *Chat) Mount() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.alive {
		return
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.alive = true
	c.subID = c.bus.Subscribe(events.Topic, c.handleEvent)
}

func (c *Chat) Unmount() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.alive {
		return
	}
	c.alive = false
	c.bus.Unsubscribe(events.Topic, c.subID)
	c.cancel()
	c.pending = nil
	c.clearing = nil
	c.state.Loading = false
}

// Submit sends a question. Blank input is ignored, and only one question
// may be in flight at a time.
func (c *Chat) Submit(query string) (*service.Request, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	hasGraph := c.graphs.HasGraph()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.alive {
		return nil, ErrNotMounted
	}
	if c.state.Loading {
		return nil, ErrBusy
	}
	if !hasGraph {
		c.state.Error = NoGraphMessage
		return nil, ErrNoGraph
	}

	c.state.Error = ""
	c.state.Loading = true
	c.state.Messages = append(c.state.Messages, ChatMessage{
		ID:      uuid.New().String(),
		Role:    RoleUser,
		Content: query,
	})

	c.pending = c.svc.QueryGraph(c.ctx, query)
	return c.pending, nil
}

// ClearChat empties the transcript here and on the service.
func (c *Chat) ClearChat() (*service.Request, error) {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return nil, ErrNotMounted
	}
	query := c.pending
	c.pending = nil
	c.state.Messages = []ChatMessage{}
	c.state.Error = ""
	c.state.Loading = false

	previous := c.clearing
	req := c.svc.ClearConversation(c.ctx)
	c.clearing = req
	c.mu.Unlock()

	// Outside c.mu: Cancel may wait for a delivery that needs it.
	query.Cancel()
	previous.Cancel()
	return req, nil
}

func (c *Chat) DismissError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Error = ""
}

func (c *Chat) Snapshot() ChatState {
	hasGraph := c.graphs.HasGraph()

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state
	s.Messages = slices.Clone(c.state.Messages)
	s.Enabled = hasGraph && !c.state.Loading
	return s
}

// Restore replaces the messages with the saved transcript, if a loader is
// configured.
func (c *Chat) Restore(ctx context.Context) error {
	if c.transcripts == nil {
		return nil
	}
	turns, err := c.transcripts.Turns(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore conversation: %w", err)
	}

	messages := make([]ChatMessage, 0, 2*len(turns))
	for _, turn := range turns {
		messages = append(messages,
			ChatMessage{ID: uuid.New().String(), Role: RoleUser, Content: turn.Query},
			ChatMessage{ID: uuid.New().String(), Role: RoleAssistant, Content: turn.Answer, Query: turn.Query},
		)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Messages = messages
	return nil
}

func (c *Chat) handleEvent(ctx context.Context, event eventbus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.alive {
		return
	}

	switch e := event.(type) {
	case events.QueryAnsweredEvent:
		if !c.ownsQuery(e.RequestID) {
			return
		}
		c.state.Loading = false
		c.state.Error = ""
		c.state.Messages = append(c.state.Messages, ChatMessage{
			ID:      uuid.New().String(),
			Role:    RoleAssistant,
			Content: e.Result.Answer,
			Query:   e.Result.Query,
		})

	case events.QueryErrorEvent:
		if !c.ownsQuery(e.RequestID) {
			return
		}
		msg := e.UserMessage(QueryFailedMessage)
		c.logger.WithField("request_id", e.RequestID).Errorf("KG query failed: %s", e.Error)
		c.state.Loading = false
		c.state.Error = msg
		c.state.Messages = append(c.state.Messages, ChatMessage{
			ID:      uuid.New().String(),
			Role:    RoleAssistant,
			Content: msg,
			Query:   e.Query,
			IsError: true,
		})

	case events.ConversationClearedEvent:
		owns(&c.clearing, e.RequestID)

	case events.ConversationClearErrorEvent:
		if !owns(&c.clearing, e.RequestID) {
			return
		}
		c.logger.WithField("request_id", e.RequestID).Errorf("Failed to clear conversation: %s", e.Error)
		c.state.Error = e.UserMessage(ClearFailedMessage)
	}
}

func (c *Chat) ownsQuery(requestID string) bool {
	return owns(&c.pending, requestID)
}
