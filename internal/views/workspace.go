package views

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cugtyt/kg-explorer/internal/eventbus"
	"github.com/cugtyt/kg-explorer/internal/events"
	"github.com/cugtyt/kg-explorer/internal/service"
	"github.com/cugtyt/kg-explorer/internal/store"
)

const maxUploadSize = 10 << 20

type GraphService interface {
	GenerateGraph(ctx context.Context, text string) *service.Request
	FetchAllowedTypes(ctx context.Context) *service.Request
}

type WorkspaceState struct {
	Input        string `json:"input"`
	ErrorMessage string `json:"error_message,omitempty"`
	Loading      bool   `json:"loading"`

	ShowSchema     bool     `json:"show_schema"`
	SchemaLoading  bool     `json:"schema_loading"`
	EntityTypes    []string `json:"entity_types"`
	PredicateTypes []string `json:"predicate_types"`
	MetricTypes    []string `json:"metric_types"`

	Graph          json.RawMessage `json:"graph,omitempty"`
	FactualTriples string          `json:"factual_triples,omitempty"`
	VisualGraph    *VisualGraph    `json:"visual_graph,omitempty"`
	SelectedNode   *Node           `json:"selected_node,omitempty"`
	ShowDetails    bool            `json:"show_details"`
}

// Workspace is the text input, extraction and graph inspection screen.
type Workspace struct {
	bus    eventbus.EventBus
	svc    GraphService
	graphs GraphLoader
	logger logrus.FieldLogger

	mu        sync.Mutex
	state     WorkspaceState
	alive     bool
	ctx       context.Context
	cancel    context.CancelFunc
	subID     eventbus.SubscriptionID
	pending   *service.Request
	schemaReq *service.Request
}

func NewWorkspace(bus eventbus.EventBus, svc GraphService, opts ...Option) *Workspace {
	o := newOptions(opts)
	return &Workspace{
		bus:    bus,
		svc:    svc,
		graphs: o.graphs,
		logger: o.logger.WithField("view", "workspace"),
		state: WorkspaceState{
			EntityTypes:    []string{},
			PredicateTypes: []string{},
			MetricTypes:    []string{},
		},
	}
}

func (w *Workspace) Mount() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.alive {
		return
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.alive = true
	w.subID = w.bus.Subscribe(events.Topic, w.handleEvent)
}

// Unmount unsubscribes and cancels outstanding requests; their results are
// never applied.
func (w *Workspace) Unmount() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.alive {
		return
	}
	w.alive = false
	w.bus.Unsubscribe(events.Topic, w.subID)
	w.cancel()
	w.pending = nil
	w.schemaReq = nil
	w.state.Loading = false
	w.state.SchemaLoading = false
}

func (w *Workspace) SetInput(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.state.Input = text
	w.state.ErrorMessage = ""
}

// LoadFile replaces the input with the contents of a .txt file. Any other
// extension is rejected without reading r, and a file over 10 MiB is
// rejected whole. Both leave the input untouched.
func (w *Workspace) LoadFile(name string, r io.Reader) error {
	if !strings.HasSuffix(strings.ToLower(name), ".txt") {
		w.mu.Lock()
		w.state.ErrorMessage = InvalidFileMessage
		w.mu.Unlock()
		return ErrInvalidFileType
	}

	data, err := io.ReadAll(io.LimitReader(r, maxUploadSize+1))
	if err != nil {
		w.logger.Errorf("Failed to read %s: %v", name, err)
		w.mu.Lock()
		w.state.ErrorMessage = ReadFileMessage
		w.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrReadFile, err)
	}
	if len(data) > maxUploadSize {
		w.mu.Lock()
		w.state.ErrorMessage = FileTooLargeMessage
		w.mu.Unlock()
		return ErrFileTooLarge
	}

	w.SetInput(string(data))
	return nil
}

func (w *Workspace) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.state.Input = ""
	w.state.ErrorMessage = ""
}

// Generate starts extraction of the current input, replacing any request
// still in flight.
func (w *Workspace) Generate() (*service.Request, error) {
	w.mu.Lock()
	if !w.alive {
		w.mu.Unlock()
		return nil, ErrNotMounted
	}
	if strings.TrimSpace(w.state.Input) == "" {
		w.state.ErrorMessage = EmptyInputMessage
		w.mu.Unlock()
		return nil, ErrEmptyInput
	}

	w.state.ErrorMessage = ""
	w.state.Graph = nil
	w.state.FactualTriples = ""
	w.state.VisualGraph = nil
	w.state.SelectedNode = nil
	w.state.ShowDetails = false
	w.state.Loading = true

	previous := w.pending
	req := w.svc.GenerateGraph(w.ctx, w.state.Input)
	w.pending = req
	w.mu.Unlock()

	// Outside w.mu: Cancel may wait for a delivery that needs it.
	previous.Cancel()
	return req, nil
}

// ViewSchema opens the schema panel and fetches the allowed types.
func (w *Workspace) ViewSchema() (*service.Request, error) {
	w.mu.Lock()
	if !w.alive {
		w.mu.Unlock()
		return nil, ErrNotMounted
	}
	w.state.ShowSchema = true
	w.state.SchemaLoading = true

	previous := w.schemaReq
	req := w.svc.FetchAllowedTypes(w.ctx)
	w.schemaReq = req
	w.mu.Unlock()

	previous.Cancel()
	return req, nil
}

func (w *Workspace) CloseSchema() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.ShowSchema = false
}

// SelectNode selects a node of the visual graph. An unknown id clears the
// selection and reports false.
func (w *Workspace) SelectNode(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	node, ok := w.state.VisualGraph.Node(id)
	if !ok {
		w.state.SelectedNode = nil
		return false
	}
	selected := *node
	w.state.SelectedNode = &selected
	return true
}

func (w *Workspace) ToggleDetails() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.ShowDetails = !w.state.ShowDetails
	return w.state.ShowDetails
}

func (w *Workspace) HasGraph() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.state.Graph) > 0
}

func (w *Workspace) Snapshot() WorkspaceState {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.state
	s.EntityTypes = slices.Clone(w.state.EntityTypes)
	s.PredicateTypes = slices.Clone(w.state.PredicateTypes)
	s.MetricTypes = slices.Clone(w.state.MetricTypes)
	s.Graph = slices.Clone(w.state.Graph)
	return s
}

// Restore applies the last saved graph, if a loader is configured and one
// exists.
func (w *Workspace) Restore(ctx context.Context) error {
	if w.graphs == nil {
		return nil
	}
	record, err := w.graphs.LoadGraph(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to restore graph: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.applyGraph(record.KG, record.FactualTriples, record.VisualGraphNodes)
	return nil
}

func (w *Workspace) handleEvent(ctx context.Context, event eventbus.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.alive {
		return
	}

	switch e := event.(type) {
	case events.GraphExtractedEvent:
		if !w.ownsGenerate(e.RequestID) {
			return
		}
		w.logger.WithField("request_id", e.RequestID).Info("KG extracted successfully")
		w.state.Loading = false
		w.applyGraph(e.Result.KG, e.Result.FactualTriples, e.Result.VisualGraphNodes)

	case events.GraphExtractErrorEvent:
		if !w.ownsGenerate(e.RequestID) {
			return
		}
		w.logger.WithField("request_id", e.RequestID).Errorf("KG extraction failed: %s", e.Error)
		w.state.Loading = false
		w.state.ErrorMessage = e.UserMessage(GenerateFailedMessage)

	case events.AllowedTypesFetchedEvent:
		if !owns(&w.schemaReq, e.RequestID) {
			return
		}
		w.state.EntityTypes = nonNil(e.Result.EntityTypes)
		w.state.PredicateTypes = nonNil(e.Result.PredicateTypes)
		w.state.MetricTypes = nonNil(e.Result.MetricTypes)
		w.state.SchemaLoading = false

	case events.AllowedTypesErrorEvent:
		if !owns(&w.schemaReq, e.RequestID) {
			return
		}
		w.logger.WithField("request_id", e.RequestID).Errorf("Failed to fetch allowed types: %s", e.Error)
		w.state.EntityTypes = []string{}
		w.state.PredicateTypes = []string{}
		w.state.MetricTypes = []string{}
		w.state.SchemaLoading = false
	}
}

func (w *Workspace) ownsGenerate(requestID string) bool {
	return owns(&w.pending, requestID)
}

// applyGraph sets whatever parts are present. A visual graph that fails to
// parse is logged and the previous one kept. Callers hold w.mu.
func (w *Workspace) applyGraph(kg json.RawMessage, triples string, visual json.RawMessage) {
	if len(kg) > 0 && string(kg) != "null" {
		w.state.Graph = kg
	}
	if triples != "" {
		w.state.FactualTriples = triples
	}
	if len(visual) == 0 {
		return
	}
	graph, err := ParseVisualGraph(visual)
	if err != nil {
		w.logger.Errorf("Error parsing visual_graph_nodes: %v", err)
		return
	}
	if graph != nil {
		w.state.VisualGraph = graph
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
