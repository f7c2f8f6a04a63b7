package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	tradeKeyPrefix = "engine:trade:"
	tradeKeyTTL    = 48 * time.Hour
)

// SnapshotStore persists active-trade state so a restarted engine resumes
// lifecycle management instead of orphaning positions. Redis-backed with an
// in-memory fallback while Redis is unreachable.
type SnapshotStore struct {
	client *redis.Client
	symbol string
	logger zerolog.Logger

	available atomic.Bool
	mu        sync.RWMutex
	fallback  map[string]ActiveTrade
}

// NewSnapshotStore connects to Redis. A failed ping degrades to the memory
// fallback rather than failing startup.
func NewSnapshotStore(redisURL, symbol string, logger zerolog.Logger) (*SnapshotStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	s := &SnapshotStore{
		client:   redis.NewClient(opts),
		symbol:   symbol,
		logger:   logger.With().Str("component", "SnapshotStore").Logger(),
		fallback: make(map[string]ActiveTrade),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("redis unreachable, using in-memory snapshots")
		s.available.Store(false)
	} else {
		s.available.Store(true)
	}
	return s, nil
}

func (s *SnapshotStore) key(tradeID string) string {
	return tradeKeyPrefix + s.symbol + ":" + tradeID
}

// Save writes the trade snapshot.
func (s *SnapshotStore) Save(ctx context.Context, trade ActiveTrade) error {
	s.mu.Lock()
	s.fallback[trade.ID] = trade
	s.mu.Unlock()

	if !s.available.Load() {
		return nil
	}
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("marshaling trade snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(trade.ID), data, tradeKeyTTL).Err(); err != nil {
		s.available.Store(false)
		s.logger.Warn().Err(err).Msg("redis write failed, snapshots degraded to memory")
	}
	return nil
}

// Delete removes a closed trade's snapshot.
func (s *SnapshotStore) Delete(ctx context.Context, tradeID string) {
	s.mu.Lock()
	delete(s.fallback, tradeID)
	s.mu.Unlock()

	if s.available.Load() {
		if err := s.client.Del(ctx, s.key(tradeID)).Err(); err != nil {
			s.logger.Warn().Err(err).Str("trade_id", tradeID).Msg("failed to delete snapshot")
		}
	}
}

// LoadAll returns every stored snapshot for this instrument.
func (s *SnapshotStore) LoadAll(ctx context.Context) ([]ActiveTrade, error) {
	if !s.available.Load() {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]ActiveTrade, 0, len(s.fallback))
		for _, t := range s.fallback {
			out = append(out, t)
		}
		return out, nil
	}

	keys, err := s.client.Keys(ctx, tradeKeyPrefix+s.symbol+":*").Result()
	if err != nil {
		return nil, fmt.Errorf("listing trade snapshots: %w", err)
	}

	var trades []ActiveTrade
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("skipping unreadable snapshot")
			continue
		}
		var trade ActiveTrade
		if err := json.Unmarshal(data, &trade); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("skipping corrupt snapshot")
			continue
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

// Close releases the Redis connection.
func (s *SnapshotStore) Close() error {
	return s.client.Close()
}
