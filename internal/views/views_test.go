package views

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/cugtyt/kg-explorer/internal/eventbus"
	"github.com/cugtyt/kg-explorer/internal/service"
	"github.com/cugtyt/kg-explorer/pkg/api"
)

// fakeClient answers with fixed responses unless a hook is set.
type fakeClient struct {
	mu sync.Mutex

	generate func(ctx context.Context, text string) (*api.GenerateResponse, error)
	types    func(ctx context.Context) (*api.AllowedTypes, error)
	query    func(ctx context.Context, query string) (*api.QueryResponse, error)
	clear    func(ctx context.Context) (*api.ClearConversationResponse, error)

	generateCalls []string
	queryCalls    []string
	clearCalls    int
}

func (f *fakeClient) GenerateKnowledgeGraph(ctx context.Context, text string) (*api.GenerateResponse, error) {
	f.mu.Lock()
	f.generateCalls = append(f.generateCalls, text)
	hook := f.generate
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx, text)
	}
	return &api.GenerateResponse{
		KG:             json.RawMessage(`{"entities":["Alice"]}`),
		FactualTriples: "(Alice, is, Person)",
	}, nil
}

func (f *fakeClient) AllowedTypes(ctx context.Context) (*api.AllowedTypes, error) {
	if f.types != nil {
		return f.types(ctx)
	}
	return &api.AllowedTypes{
		EntityTypes:    []string{"Person"},
		PredicateTypes: []string{"knows"},
		MetricTypes:    []string{"age"},
	}, nil
}

func (f *fakeClient) QueryKnowledgeGraph(ctx context.Context, query string) (*api.QueryResponse, error) {
	f.mu.Lock()
	f.queryCalls = append(f.queryCalls, query)
	hook := f.query
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx, query)
	}
	return &api.QueryResponse{Query: query, Answer: "42"}, nil
}

func (f *fakeClient) ClearConversation(ctx context.Context) (*api.ClearConversationResponse, error) {
	f.mu.Lock()
	f.clearCalls++
	hook := f.clear
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx)
	}
	return &api.ClearConversationResponse{Message: "ok"}, nil
}

func (f *fakeClient) generated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.generateCalls...)
}

func (f *fakeClient) queried() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queryCalls...)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fixture struct {
	bus    *eventbus.LocalBus
	client *fakeClient
	svc    *service.KGService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := quietLogger()
	bus := eventbus.NewLocalBus(eventbus.WithLogger(logger))
	client := &fakeClient{}
	svc := service.NewKGService(client, bus, logger)
	t.Cleanup(svc.Wait)
	return &fixture{bus: bus, client: client, svc: svc}
}

// gatedBus holds every Publish until open is called and reports when the
// first one arrived.
type gatedBus struct {
	eventbus.EventBus
	entered     chan struct{}
	release     chan struct{}
	enterOnce   sync.Once
	releaseOnce sync.Once
}

func (g *gatedBus) Publish(ctx context.Context, topic string, event eventbus.Event) {
	g.enterOnce.Do(func() { close(g.entered) })
	<-g.release
	g.EventBus.Publish(ctx, topic, event)
}

func (g *gatedBus) open() {
	g.releaseOnce.Do(func() { close(g.release) })
}

// newGatedFixture is newFixture with the service publishing through a gate.
// Views still subscribe on f.bus directly.
func newGatedFixture(t *testing.T) (*fixture, *gatedBus) {
	t.Helper()
	logger := quietLogger()
	bus := eventbus.NewLocalBus(eventbus.WithLogger(logger))
	gate := &gatedBus{
		EventBus: bus,
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	client := &fakeClient{}
	svc := service.NewKGService(client, gate, logger)
	t.Cleanup(svc.Wait)
	t.Cleanup(gate.open)
	return &fixture{bus: bus, client: client, svc: svc}, gate
}

// httpError builds the error a failed API call returns.
func httpError(t *testing.T, status int, body string) error {
	t.Helper()
	return api.NewError("test", status, []byte(body))
}
