// Package redis persists run records in Redis.
//
// Each record is stored as JSON under <prefix><run id>. A sorted set per
// session (<prefix>session:<session id>) indexes run ids by start time.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentrelay/core"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "agentrelay:run:"

// Store implements core.RunStore on Redis.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the expiration of stored records. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Store with its own client.
func New(address, password string, db int, opts ...Option) *Store {
	return NewFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewFromClient creates a Store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func (s *Store) sessionKey(sessionID string) string {
	return s.prefix + "session:" + sessionID
}

// Save writes rec and indexes it under its session.
func (s *Store) Save(ctx context.Context, rec core.RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(rec.ID), data, s.ttl)
	if rec.SessionID != "" {
		pipe.ZAdd(ctx, s.sessionKey(rec.SessionID), backend.Z{
			Score:  float64(rec.Started.UnixMilli()),
			Member: rec.ID,
		})
		if s.ttl > 0 {
			pipe.Expire(ctx, s.sessionKey(rec.SessionID), s.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save run to redis: %w", err)
	}
	return nil
}

// Get loads a record or returns core.ErrRunNotFound.
func (s *Store) Get(ctx context.Context, id string) (core.RunRecord, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return core.RunRecord{}, core.ErrRunNotFound
		}
		return core.RunRecord{}, fmt.Errorf("failed to get run from redis: %w", err)
	}

	var rec core.RunRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return core.RunRecord{}, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return rec, nil
}

// ListBySession returns the newest records of a session. Index entries
// whose record has expired are skipped.
func (s *Store) ListBySession(ctx context.Context, sessionID string, limit int) ([]core.RunRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, s.sessionKey(sessionID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session runs: %w", err)
	}
	if len(ids) == 0 {
		return []core.RunRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session runs: %w", err)
	}

	out := make([]core.RunRecord, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec core.RunRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
