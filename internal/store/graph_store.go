package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const lastGraphKey = "kg:last"

// GraphRecord is the last extracted graph, stored as returned by the
// service.
type GraphRecord struct {
	KG               json.RawMessage `json:"kg"`
	VisualGraphNodes json.RawMessage `json:"visual_graph_nodes,omitempty"`
	FactualTriples   string          `json:"factual_triples,omitempty"`
	RequestID        string          `json:"request_id,omitempty"`
	SavedAt          time.Time       `json:"saved_at"`
}

type GraphStore struct {
	redis      *RedisClient
	expiration time.Duration
}

// NewGraphStore keeps the last graph for expiration; zero keeps it forever.
func NewGraphStore(redis *RedisClient, expiration time.Duration) *GraphStore {
	return &GraphStore{
		redis:      redis,
		expiration: expiration,
	}
}

func (gs *GraphStore) SaveGraph(ctx context.Context, record GraphRecord) error {
	if record.SavedAt.IsZero() {
		record.SavedAt = time.Now().UTC()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal graph record: %w", err)
	}

	if err := gs.redis.Set(ctx, lastGraphKey, string(data), gs.expiration); err != nil {
		return fmt.Errorf("failed to save graph: %w", err)
	}
	return nil
}

// LoadGraph returns ErrNotFound when no graph has been saved.
func (gs *GraphStore) LoadGraph(ctx context.Context) (*GraphRecord, error) {
	data, err := gs.redis.Get(ctx, lastGraphKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get graph: %w", err)
	}

	var record GraphRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph record: %w", err)
	}
	return &record, nil
}
