// Package presence records "last seen foregrounded" timestamps per team.
// It is pure evidence collection: no penalty logic lives here. Heartbeats
// arrive every few seconds from every active tab, so they are kept in
// Redis with a TTL instead of hammering the teams table.
package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "escape:hb:"

// Store persists heartbeat timestamps in Redis.
type Store struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewStore creates a heartbeat store. ttl bounds how long a stale
// timestamp survives; it must exceed the longest absence worth penalizing.
func NewStore(rdb redis.Cmdable, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Touch records that the team's page was foregrounded at t.
func (s *Store) Touch(ctx context.Context, teamID string, t time.Time) error {
	if err := s.rdb.Set(ctx, keyPrefix+teamID, strconv.FormatInt(t.UnixMilli(), 10), s.ttl).Err(); err != nil {
		return fmt.Errorf("heartbeat set: %w", err)
	}
	return nil
}

// LastSeen returns the team's last heartbeat. ok is false when no
// heartbeat is recorded (never started, or the key expired).
func (s *Store) LastSeen(ctx context.Context, teamID string) (t time.Time, ok bool, err error) {
	val, err := s.rdb.Get(ctx, keyPrefix+teamID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("heartbeat get: %w", err)
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("heartbeat parse %q: %w", val, err)
	}
	return time.UnixMilli(ms), true, nil
}

// Forget drops a team's heartbeat once its exam is finalized.
func (s *Store) Forget(ctx context.Context, teamID string) error {
	return s.rdb.Del(ctx, keyPrefix+teamID).Err()
}
