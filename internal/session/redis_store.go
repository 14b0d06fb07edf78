// Package session stores refresh-token sessions.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"draftclinic/internal/domain"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned for unknown, expired or revoked tokens.
var ErrNotFound = errors.New("session not found or expired")

const defaultTTL = 30 * 24 * time.Hour

// Session is the data kept for one refresh token.
type Session struct {
	ActorID   string      `json:"actor_id"`
	Role      domain.Role `json:"role"`
	CreatedAt time.Time   `json:"created_at"`
}

// RedisStore keeps sessions under hashed token keys with a TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, prefix: "draftclinic:refresh:", ttl: ttl, now: time.Now}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// TTL is how long a saved session lives.
func (s *RedisStore) TTL() time.Duration {
	return s.ttl
}

// Issue creates a new random refresh token for the actor and stores its session.
func (s *RedisStore) Issue(ctx context.Context, actorID string, role domain.Role) (string, error) {
	token, err := NewToken()
	if err != nil {
		return "", err
	}
	if err := s.Save(ctx, HashToken(token), actorID, role); err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisStore) Save(ctx context.Context, tokenHash, actorID string, role domain.Role) error {
	data, err := json.Marshal(Session{ActorID: actorID, Role: role, CreatedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(tokenHash), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Lookup(ctx context.Context, tokenHash string) (Session, error) {
	raw, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("lookup session: %w", err)
	}
	return decode(raw)
}

// Rotate consumes a refresh token and issues its replacement.
// A token can be rotated only once.
func (s *RedisStore) Rotate(ctx context.Context, token string) (Session, string, error) {
	raw, err := s.client.GetDel(ctx, s.key(HashToken(token))).Result()
	if errors.Is(err, redis.Nil) {
		return Session{}, "", ErrNotFound
	}
	if err != nil {
		return Session{}, "", fmt.Errorf("rotate session: %w", err)
	}
	sess, err := decode(raw)
	if err != nil {
		return Session{}, "", err
	}
	next, err := s.Issue(ctx, sess.ActorID, sess.Role)
	if err != nil {
		return Session{}, "", err
	}
	return sess, next, nil
}

// Revoke deletes a session; unknown tokens are not an error.
func (s *RedisStore) Revoke(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decode(raw string) (Session, error) {
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	if !sess.Role.Valid() {
		return Session{}, fmt.Errorf("decode session: invalid role %q", sess.Role)
	}
	return sess, nil
}

// NewToken returns 32 random bytes, base64url encoded.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken is the storage key form of a token; raw tokens are never persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
