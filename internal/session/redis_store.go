// Package session provides Redis-backed storage for session state, most
// importantly the ephemeral ownership set: the scene ids an anonymous session
// is entitled to treat as self-authored until an adoption claims them.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record holds the per-session state. The ownership set is appended on
// anonymous scene creation and cleared exactly once, when adoption succeeds.
type Record struct {
	OwnedSceneIDs []string  `json:"owned_scene_ids"`
	CreatedAt     time.Time `json:"created_at"`
}

// RedisStore implements session storage using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisStore{
		client: client,
		prefix: "sess:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *RedisStore) load(ctx context.Context, sessionID string) (Record, bool, error) {
	jsonData, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("lookup session: %w", err)
	}
	var record Record
	if err := json.Unmarshal([]byte(jsonData), &record); err != nil {
		return Record{}, false, fmt.Errorf("unmarshal session record: %w", err)
	}
	return record, true, nil
}

func (s *RedisStore) save(ctx context.Context, sessionID string, record Record) error {
	jsonData, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sessionID), jsonData, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

// AddOwnedScene registers a scene id in the session's ephemeral ownership
// set, creating the session record if needed. Each write refreshes the
// session TTL.
func (s *RedisStore) AddOwnedScene(ctx context.Context, sessionID, sceneID string) error {
	record, found, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if !found {
		record = Record{CreatedAt: time.Now()}
	}
	for _, id := range record.OwnedSceneIDs {
		if id == sceneID {
			return s.save(ctx, sessionID, record)
		}
	}
	record.OwnedSceneIDs = append(record.OwnedSceneIDs, sceneID)
	return s.save(ctx, sessionID, record)
}

// OwnedScenes returns the session's ephemeral ownership set. A missing or
// expired session yields an empty set, not an error.
func (s *RedisStore) OwnedScenes(ctx context.Context, sessionID string) ([]string, error) {
	if sessionID == "" {
		return nil, nil
	}
	record, found, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return record.OwnedSceneIDs, nil
}

// ClearOwnedScenes empties the session's ephemeral ownership set. This is the
// single write adoption performs against session state.
func (s *RedisStore) ClearOwnedScenes(ctx context.Context, sessionID string) error {
	record, found, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	record.OwnedSceneIDs = nil
	return s.save(ctx, sessionID, record)
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
