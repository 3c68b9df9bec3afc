// Package redisstore keeps recovery sessions in Redis as JSON documents with
// a per-user index ordered by creation time.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ruteri/guardian-recovery/interfaces"
)

const (
	sessionPrefix = "recovery:session:" // recovery:session:{recoveryId} - session JSON
	userPrefix    = "recovery:user:"    // recovery:user:{userId} - zset of recovery ids by created_at
	allSessions   = "recovery:sessions" // zset of every recovery id
)

// SessionStore implements interfaces.SessionStore. Sessions never carry
// shares or keys, so nothing secret reaches Redis.
type SessionStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	log    *slog.Logger
}

// NewSessionStore keys everything under prefix. A positive ttl bounds how
// long a session document outlives its last write; it should exceed the
// approval timeout plus audit retention so the sweeper purges first.
func NewSessionStore(rdb redis.UniversalClient, prefix string, ttl time.Duration, log *slog.Logger) *SessionStore {
	return &SessionStore{rdb: rdb, prefix: prefix, ttl: ttl, log: log}
}

func (s *SessionStore) sessionKey(id string) string {
	return s.prefix + sessionPrefix + id
}

func (s *SessionStore) userKey(userID interfaces.UserID) string {
	return s.prefix + userPrefix + userID
}

func (s *SessionStore) allKey() string {
	return s.prefix + allSessions
}

func (s *SessionStore) CreateSession(ctx context.Context, session interfaces.RecoverySession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	created, err := s.rdb.SetNX(ctx, s.sessionKey(session.RecoveryID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	if !created {
		return fmt.Errorf("session %s already exists", session.RecoveryID)
	}

	member := redis.Z{Score: float64(session.CreatedAt.UnixMilli()), Member: session.RecoveryID}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.userKey(session.UserID), member)
		pipe.ZAdd(ctx, s.allKey(), member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, recoveryID string) (interfaces.RecoverySession, error) {
	data, err := s.rdb.Get(ctx, s.sessionKey(recoveryID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return interfaces.RecoverySession{}, fmt.Errorf("%w: %s", interfaces.ErrNotFound, recoveryID)
	}
	if err != nil {
		return interfaces.RecoverySession{}, fmt.Errorf("failed to load session: %w", err)
	}

	var session interfaces.RecoverySession
	if err := json.Unmarshal(data, &session); err != nil {
		return interfaces.RecoverySession{}, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return session, nil
}

// UpdateSession overwrites an existing session and refreshes its ttl.
func (s *SessionStore) UpdateSession(ctx context.Context, session interfaces.RecoverySession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	updated, err := s.rdb.SetXX(ctx, s.sessionKey(session.RecoveryID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if !updated {
		return fmt.Errorf("%w: %s", interfaces.ErrNotFound, session.RecoveryID)
	}
	return nil
}

// ListSessions returns sessions oldest first. Index entries whose document
// expired are dropped from the index.
func (s *SessionStore) ListSessions(ctx context.Context, userID interfaces.UserID) ([]interfaces.RecoverySession, error) {
	indexKey := s.allKey()
	if userID != "" {
		indexKey = s.userKey(userID)
	}

	ids, err := s.rdb.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	out := make([]interfaces.RecoverySession, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	var stale []any
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var session interfaces.RecoverySession
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session %s: %w", ids[i], err)
		}
		out = append(out, session)
	}

	if len(stale) > 0 {
		if err := s.rdb.ZRem(ctx, indexKey, stale...).Err(); err != nil {
			s.log.Warn("failed to prune session index", "err", err, "count", len(stale))
		}
	}
	return out, nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, recoveryID string) error {
	session, err := s.GetSession(ctx, recoveryID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return s.rdb.ZRem(ctx, s.allKey(), recoveryID).Err()
	}
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(recoveryID))
		pipe.ZRem(ctx, s.userKey(session.UserID), recoveryID)
		pipe.ZRem(ctx, s.allKey(), recoveryID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
