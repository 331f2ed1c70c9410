package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/segyhp/payment-risk-engine/internal/domain"
)

const cacheKeyPrefix = "risk:evaluation:"

// PortfolioCacheKey is the cache key of the whole-portfolio evaluation.
func PortfolioCacheKey(asOf time.Time) string {
	return fmt.Sprintf("%sportfolio:%s", cacheKeyPrefix, asOf.UTC().Format("2006-01-02"))
}

// PayerCacheKey is the cache key of one payer's evaluation.
func PayerCacheKey(payerID string, asOf time.Time) string {
	return fmt.Sprintf("%spayer:%s:%s", cacheKeyPrefix, payerID, asOf.UTC().Format("2006-01-02"))
}

// PayerCachePattern matches every cached evaluation of a payer.
func PayerCachePattern(payerID string) string {
	return fmt.Sprintf("%spayer:%s:*", cacheKeyPrefix, payerID)
}

// PortfolioCachePattern matches every cached portfolio evaluation.
func PortfolioCachePattern() string {
	return cacheKeyPrefix + "portfolio:*"
}

// NewCacheBreaker trips after five requests with at least 60% failures and
// probes again after ten seconds.
func NewCacheBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
	})
}

type resultCache struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	ttl    time.Duration
}

func NewResultCache(client *redis.Client, cb *gobreaker.CircuitBreaker, ttl time.Duration) ResultCache {
	return &resultCache{client: client, cb: cb, ttl: ttl}
}

func (c *resultCache) Get(ctx context.Context, key string) (*domain.EvaluationResult, error) {
	raw, err := c.cb.Execute(func() (any, error) {
		return c.client.Get(ctx, key).Bytes()
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluation from Redis: %w", err)
	}

	var result domain.EvaluationResult
	if err := json.Unmarshal(raw.([]byte), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal evaluation: %w", err)
	}

	return &result, nil
}

func (c *resultCache) Set(ctx context.Context, key string, result *domain.EvaluationResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation: %w", err)
	}

	_, err = c.cb.Execute(func() (any, error) {
		return nil, c.client.Set(ctx, key, data, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to store evaluation in Redis: %w", err)
	}

	return nil
}

func (c *resultCache) Invalidate(ctx context.Context, patterns ...string) error {
	_, err := c.cb.Execute(func() (any, error) {
		var keys []string
		for _, pattern := range patterns {
			iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
			for iter.Next(ctx) {
				keys = append(keys, iter.Val())
			}
			if err := iter.Err(); err != nil {
				return nil, err
			}
		}
		if len(keys) == 0 {
			return nil, nil
		}
		return nil, c.client.Del(ctx, keys...).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate evaluations: %w", err)
	}

	return nil
}
