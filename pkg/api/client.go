package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/cugtyt/kg-explorer/internal/metrics"
)

const DefaultBaseURL = "http://localhost:5050"

const (
	GeneratePath           = "/api/generate-knowledge-graph"
	AllowedTypesPath       = "/api/allowed-types"
	AllowedEntityTypesPath = "/api/allowed-entity-types"
	AllowedPredicatesPath  = "/api/allowed-predicates"
	AllowedMetricTypesPath = "/api/allowed-metric-types"
	QueryPath              = "/api/query-knowledge-graph"
	ClearConversationPath  = "/api/clear-conversation"
)

// Client is the API client for the knowledge graph service. Every call is
// a single round trip; nothing is retried.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

type ClientOption func(*Client)

// WithRateLimit caps outgoing requests per second. Zero or less disables it.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new API client
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		tracer: otel.Tracer("github.com/cugtyt/kg-explorer/pkg/api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateKnowledgeGraph sends text for extraction.
func (c *Client) GenerateKnowledgeGraph(ctx context.Context, text string) (*GenerateResponse, error) {
	var resp GenerateResponse
	if err := c.do(ctx, "generate", http.MethodPost, GeneratePath, GenerateRequest{Text: text}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AllowedTypes fetches entity, predicate and metric types in one call.
func (c *Client) AllowedTypes(ctx context.Context) (*AllowedTypes, error) {
	var resp AllowedTypes
	if err := c.do(ctx, "allowed-types", http.MethodGet, AllowedTypesPath, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) AllowedEntityTypes(ctx context.Context) ([]string, error) {
	return c.stringList(ctx, "allowed-entity-types", AllowedEntityTypesPath)
}

func (c *Client) AllowedPredicates(ctx context.Context) ([]string, error) {
	return c.stringList(ctx, "allowed-predicates", AllowedPredicatesPath)
}

func (c *Client) AllowedMetricTypes(ctx context.Context) ([]string, error) {
	return c.stringList(ctx, "allowed-metric-types", AllowedMetricTypesPath)
}

func (c *Client) stringList(ctx context.Context, operation, path string) ([]string, error) {
	var resp []string
	if err := c.do(ctx, operation, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// QueryKnowledgeGraph asks a question about the last generated graph.
func (c *Client) QueryKnowledgeGraph(ctx context.Context, query string) (*QueryResponse, error) {
	var resp QueryResponse
	if err := c.do(ctx, "query", http.MethodPost, QueryPath, QueryRequest{Query: query}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearConversation drops the service-side chat history but keeps the graph.
func (c *Client) ClearConversation(ctx context.Context) (*ClearConversationResponse, error) {
	var resp ClearConversationResponse
	if err := c.do(ctx, "clear-conversation", http.MethodPost, ClearConversationPath, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, in, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "kg."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		),
	)
	status := 0
	start := time.Now()
	defer func() {
		c.metrics.ObserveRequest(operation, status, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("failed to wait for rate limiter: %w", err)
		}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := RequestIDFromContext(ctx); id != "" {
		req.Header.Set(RequestIDHeader, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode
	span.SetAttributes(attribute.Int("http.status_code", status))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return NewError(operation, resp.StatusCode, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
