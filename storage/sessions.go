package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tandem/domain"
)

// SessionStore keeps server-side sessions in redis so they can be revoked.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func sessionKey(sid string) string {
	return "session:" + sid
}

// TTL is the lifetime of new sessions.
func (s *SessionStore) TTL() time.Duration { return s.ttl }

// Create starts a session for userID and returns its id.
func (s *SessionStore) Create(ctx context.Context, userID string) (string, error) {
	sid := uuid.NewString()
	if err := s.client.Set(ctx, sessionKey(sid), userID, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return sid, nil
}

// Lookup returns the user owning sid.
func (s *SessionStore) Lookup(ctx context.Context, sid string) (string, error) {
	userID, err := s.client.Get(ctx, sessionKey(sid)).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("session: %w", domain.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *SessionStore) Revoke(ctx context.Context, sid string) error {
	return s.client.Del(ctx, sessionKey(sid)).Err()
}
