package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "cli-sandbox:session:"
	tokenKeyPrefix   = "cli-sandbox:token:"
)

// RedisStore implements Store on top of a Redis client. Sessions and
// TokenIds are each a single JSON-encoded string value carrying a native
// Redis TTL, so "expiresAt <= now is semantically absent" (spec §3) falls
// out of Redis's own expiry without a separate sweep.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing *redis.Client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

type sessionRecord struct {
	SessionID string    `json:"sessionId"`
	OwnerID   string    `json:"ownerId"`
	JobName   string    `json:"jobName"`
	PodName   string    `json:"podName"`
	PodIP     string    `json:"podIp"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func sessionKey(id string) string { return sessionKeyPrefix + id }
func tokenKey(id string) string   { return tokenKeyPrefix + id }

func toRecord(s Session) sessionRecord {
	return sessionRecord{
		SessionID: s.SessionID,
		OwnerID:   s.OwnerID,
		JobName:   s.JobName,
		PodName:   s.PodName,
		PodIP:     s.PodIP,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}

func (r sessionRecord) toSession() Session {
	return Session{
		SessionID: r.SessionID,
		OwnerID:   r.OwnerID,
		JobName:   r.JobName,
		PodName:   r.PodName,
		PodIP:     r.PodIP,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}
}

// InsertSession fails with ErrAlreadyExists if sessionId is already taken.
func (s *RedisStore) InsertSession(ctx context.Context, sess Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("insert session %q: expiresAt is not in the future", sess.SessionID)
	}
	payload, err := json.Marshal(toRecord(sess))
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, sessionKey(sess.SessionID), payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("insert session %q: %w", sess.SessionID, err)
	}
	if !ok {
		return fmt.Errorf("insert session %q: %w", sess.SessionID, ErrAlreadyExists)
	}
	return nil
}

// UpdateSessionPod reads, mutates, and writes back the session row while
// preserving its existing TTL (KEEPTTL), matching the invariant that podIp
// is monotonic: null -> set, never cleared or changed once set.
func (s *RedisStore) UpdateSessionPod(ctx context.Context, sessionID, podIP, podName string) error {
	key := sessionKey(sessionID)
	raw, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("update session pod %q: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update session pod %q: %w", sessionID, err)
	}

	var rec sessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return fmt.Errorf("unmarshal session %q: %w", sessionID, err)
	}
	if rec.PodIP != "" && rec.PodIP != podIP {
		return fmt.Errorf("update session pod %q: podIp is already set", sessionID)
	}
	rec.PodIP = podIP
	rec.PodName = podName

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.rdb.SetArgs(ctx, key, payload, redis.SetArgs{KeepTTL: true}).Err(); err != nil {
		return fmt.Errorf("update session pod %q: %w", sessionID, err)
	}
	return nil
}

// GetSession returns ErrNotFound if the row is absent or has expired.
func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session %q: %w", sessionID, err)
	}
	var rec sessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Session{}, fmt.Errorf("unmarshal session %q: %w", sessionID, err)
	}
	return rec.toSession(), nil
}

type tokenRecord struct {
	SessionID string `json:"sessionId"`
}

// InsertTokenID fails with ErrAlreadyExists on a duplicate tokenId.
func (s *RedisStore) InsertTokenID(ctx context.Context, tokenID, sessionID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("insert tokenId %q: expiresAt is not in the future", tokenID)
	}
	payload, err := json.Marshal(tokenRecord{SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("marshal tokenId: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, tokenKey(tokenID), payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("insert tokenId %q: %w", tokenID, err)
	}
	if !ok {
		return fmt.Errorf("insert tokenId %q: %w", tokenID, ErrAlreadyExists)
	}
	return nil
}

// ConsumeTokenID atomically deletes the tokenId row. Redis executes DEL as a
// single command against its single-threaded keyspace, so concurrent callers
// for the same tokenId are guaranteed to see at most one non-zero count.
func (s *RedisStore) ConsumeTokenID(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.rdb.Del(ctx, tokenKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("consume tokenId %q: %w", tokenID, err)
	}
	return n > 0, nil
}
