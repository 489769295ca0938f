// Package graph is the knowledge-graph summary store: bounded-length entity
// summaries published after a run finishes and read back by later runs for
// cross-reference scoring. Best-effort by contract; a missing summary never
// invalidates the persisted entity.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	summaryKeyPrefix = "graph:summary:"
	indexKey         = "graph:index"
)

// Store publishes and retrieves graph summaries through Redis.
type Store struct {
	rdb           *redis.Client
	logger        *zap.Logger
	maxChars      int
	neighborLimit int
	ttl           time.Duration
}

// Options bound the store's behavior.
type Options struct {
	MaxChars      int
	NeighborLimit int
	TTL           time.Duration
}

// NewStore wraps a Redis client as a graph summary store.
func NewStore(rdb *redis.Client, opts Options, logger *zap.Logger) *Store {
	if opts.MaxChars <= 0 {
		opts.MaxChars = 500
	}
	if opts.NeighborLimit <= 0 {
		opts.NeighborLimit = 8
	}
	return &Store{
		rdb:           rdb,
		logger:        logger,
		maxChars:      opts.MaxChars,
		neighborLimit: opts.NeighborLimit,
		ttl:           opts.TTL,
	}
}

type storedSummary struct {
	NaturalKey  string    `json:"natural_key"`
	Summary     string    `json:"summary"`
	PublishedAt time.Time `json:"published_at"`
}

// Publish stores a summary for a natural key, truncating it to the configured
// character budget. Re-publishing overwrites the previous summary.
func (s *Store) Publish(ctx context.Context, naturalKey, summary string) error {
	if naturalKey == "" {
		return fmt.Errorf("empty natural key")
	}
	summary = Truncate(summary, s.maxChars)

	body, err := json.Marshal(storedSummary{
		NaturalKey:  naturalKey,
		Summary:     summary,
		PublishedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, summaryKeyPrefix+naturalKey, body, s.ttl)
	pipe.SAdd(ctx, indexKey, naturalKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish summary %s: %w", naturalKey, err)
	}
	return nil
}

// Get returns the stored summary for a natural key, or empty when absent.
func (s *Store) Get(ctx context.Context, naturalKey string) (string, error) {
	body, err := s.rdb.Get(ctx, summaryKeyPrefix+naturalKey).Bytes()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get summary %s: %w", naturalKey, err)
	}
	var stored storedSummary
	if err := json.Unmarshal(body, &stored); err != nil {
		return "", fmt.Errorf("decode summary %s: %w", naturalKey, err)
	}
	return stored.Summary, nil
}

// Neighbor is one prior published summary.
type Neighbor struct {
	NaturalKey string
	Summary    string
}

// Neighbors returns up to the configured limit of prior summaries, excluding
// the given key. Expired entries are pruned from the index as encountered.
func (s *Store) Neighbors(ctx context.Context, excludeKey string) ([]Neighbor, error) {
	keys, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list graph index: %w", err)
	}

	var out []Neighbor
	for _, key := range keys {
		if key == excludeKey {
			continue
		}
		if len(out) >= s.neighborLimit {
			break
		}
		summary, err := s.Get(ctx, key)
		if err != nil {
			s.logger.Warn("Skipping unreadable graph summary", zap.String("key", key), zap.Error(err))
			continue
		}
		if summary == "" {
			// TTL expired under the index entry.
			s.rdb.SRem(ctx, indexKey, key)
			continue
		}
		out = append(out, Neighbor{NaturalKey: key, Summary: summary})
	}
	return out, nil
}

// Truncate bounds a summary to max bytes without splitting a rune, cutting
// at a word boundary when one is close enough.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	cut := s[:max]
	if i := strings.LastIndexByte(cut, ' '); i > max*3/4 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:-")
}
