package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pivox/tradingV3-sub003/internal/domain"
)

// DecisionCache implements domain.DecisionCache using SETNX on the decision
// key. The claim key makes the first runner for a candle win; the outcome key
// lets later runners report what the winner decided.
type DecisionCache struct {
	rdb *redis.Client
}

// NewDecisionCache creates a DecisionCache backed by the given Client.
func NewDecisionCache(c *Client) *DecisionCache {
	return &DecisionCache{rdb: c.Underlying()}
}

func claimKey(decisionKey string) string {
	return "decision:claim:" + decisionKey
}

func outcomeKey(decisionKey string) string {
	return "decision:outcome:" + decisionKey
}

// Claim atomically marks the decision key as running. It returns true when
// this caller is the first for the key within the TTL.
func (dc *DecisionCache) Claim(ctx context.Context, decisionKey string, ttl time.Duration) (bool, error) {
	ok, err := dc.rdb.SetNX(ctx, claimKey(decisionKey), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim %s: %w", decisionKey, err)
	}
	return ok, nil
}

// Outcome returns the recorded outcome for a decision key, or an empty string
// when none has been recorded yet.
func (dc *DecisionCache) Outcome(ctx context.Context, decisionKey string) (string, error) {
	val, err := dc.rdb.Get(ctx, outcomeKey(decisionKey)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("redis: outcome %s: %w", decisionKey, err)
	}
	return val, nil
}

// RecordOutcome stores the outcome of a completed decision run.
func (dc *DecisionCache) RecordOutcome(ctx context.Context, decisionKey string, outcome domain.DecisionOutcome, ttl time.Duration) error {
	if err := dc.rdb.Set(ctx, outcomeKey(decisionKey), string(outcome), ttl).Err(); err != nil {
		return fmt.Errorf("redis: record outcome %s: %w", decisionKey, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.DecisionCache = (*DecisionCache)(nil)
