package data

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultCancelSignalPrefix = "jobcoord:cancel:"
	defaultCancelSignalTTL    = time.Hour
)

// RedisCancelSignal publishes cancellation requests through short-lived Redis keys so
// workers notice them before their next database poll. The job_runs row stays authoritative.
type RedisCancelSignal struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisCancelSignalOptions configures RedisCancelSignal.
type RedisCancelSignalOptions struct {
	Client redis.UniversalClient
	Prefix string
	TTL    time.Duration
}

// NewRedisCancelSignal creates a RedisCancelSignal.
func NewRedisCancelSignal(opts RedisCancelSignalOptions) *RedisCancelSignal {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultCancelSignalPrefix
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultCancelSignalTTL
	}
	return &RedisCancelSignal{client: opts.Client, prefix: prefix, ttl: ttl}
}

func (s *RedisCancelSignal) key(runID int64) string {
	return s.prefix + strconv.FormatInt(runID, 10)
}

// Signal marks runID as cancel-requested.
func (s *RedisCancelSignal) Signal(ctx context.Context, runID int64) error {
	if runID <= 0 {
		return errors.New("run id must be positive")
	}
	if err := s.client.Set(ctx, s.key(runID), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set cancel signal: %w", err)
	}
	return nil
}

// Signaled reports whether a cancel signal exists for runID.
func (s *RedisCancelSignal) Signaled(ctx context.Context, runID int64) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(runID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists cancel signal: %w", err)
	}
	return n > 0, nil
}

// Clear removes the signal once the run has finished.
func (s *RedisCancelSignal) Clear(ctx context.Context, runID int64) error {
	if err := s.client.Del(ctx, s.key(runID)).Err(); err != nil {
		return fmt.Errorf("redis del cancel signal: %w", err)
	}
	return nil
}

// Health pings Redis.
func (s *RedisCancelSignal) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
