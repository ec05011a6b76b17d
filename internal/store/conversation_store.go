package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	conversationKey = "kg:conversation"
	maxTurns        = 200
)

// Turn is one answered question.
type Turn struct {
	Query   string    `json:"query"`
	Answer  string    `json:"answer"`
	AskedAt time.Time `json:"asked_at"`
}

type ConversationStore struct {
	redis      *RedisClient
	expiration time.Duration
}

func NewConversationStore(redis *RedisClient, expiration time.Duration) *ConversationStore {
	return &ConversationStore{
		redis:      redis,
		expiration: expiration,
	}
}

// AppendTurn keeps only the newest turns to bound the list.
func (cs *ConversationStore) AppendTurn(ctx context.Context, turn Turn) error {
	if turn.AskedAt.IsZero() {
		turn.AskedAt = time.Now().UTC()
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	if err := cs.redis.RPushCapped(ctx, conversationKey, maxTurns, cs.expiration, string(data)); err != nil {
		return fmt.Errorf("failed to add turn: %w", err)
	}
	return nil
}

func (cs *ConversationStore) Turns(ctx context.Context) ([]Turn, error) {
	raw, err := cs.redis.LRange(ctx, conversationKey, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to get turns: %w", err)
	}

	turns := make([]Turn, 0, len(raw))
	for _, s := range raw {
		var turn Turn
		if err := json.Unmarshal([]byte(s), &turn); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func (cs *ConversationStore) Clear(ctx context.Context) error {
	if err := cs.redis.Del(ctx, conversationKey); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}
	return nil
}
