// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/whosesong/internal/game"
	"github.com/jason-s-yu/whosesong/internal/models"
	"github.com/redis/go-redis/v9"
)

// Connect opens a Redis client and checks that the server answers.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

func gameKey(code string) string {
	return "game:" + code
}

// GameStore keeps each game as one JSON document under game:{code}. Every
// write refreshes the TTL, so abandoned games expire on their own.
type GameStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewGameStore(rdb *redis.Client, ttl time.Duration) *GameStore {
	return &GameStore{rdb: rdb, ttl: ttl}
}

func (s *GameStore) Get(ctx context.Context, code string) (*models.GameState, error) {
	data, err := s.rdb.Get(ctx, gameKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, game.ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to GET %s: %w", gameKey(code), err)
	}

	var state models.GameState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal game %s: %w", code, err)
	}
	return &state, nil
}

func (s *GameStore) Set(ctx context.Context, state *models.GameState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal game %s: %w", state.Code, err)
	}
	if err := s.rdb.Set(ctx, gameKey(state.Code), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to SET %s: %w", gameKey(state.Code), err)
	}
	return nil
}

func (s *GameStore) Delete(ctx context.Context, code string) error {
	if err := s.rdb.Del(ctx, gameKey(code)).Err(); err != nil {
		return fmt.Errorf("failed to DEL %s: %w", gameKey(code), err)
	}
	return nil
}

func (s *GameStore) Exists(ctx context.Context, code string) (bool, error) {
	n, err := s.rdb.Exists(ctx, gameKey(code)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", gameKey(code), err)
	}
	return n > 0, nil
}
