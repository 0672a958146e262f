package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/pivox/tradingV3-sub003/internal/domain"
)

// IndicatorSource implements domain.IndicatorSource by reading the indicator
// hash the upstream indicator worker maintains per symbol. Keys are
// "indicators:<symbol>" with fields vwap, atr_1m, atr_5m, rsi_14,
// volume_ratio.
type IndicatorSource struct {
	rdb *redis.Client
}

// NewIndicatorSource creates an IndicatorSource backed by the given Client.
func NewIndicatorSource(c *Client) *IndicatorSource {
	return &IndicatorSource{rdb: c.Underlying()}
}

func indicatorKey(symbol string) string {
	return "indicators:" + symbol
}

// Indicators loads the indicator set for a symbol. A missing hash is an
// error: running a decision without indicators would disable the volatility
// and zone logic silently.
func (is *IndicatorSource) Indicators(ctx context.Context, symbol string) (domain.IndicatorSet, error) {
	fields, err := is.rdb.HGetAll(ctx, indicatorKey(symbol)).Result()
	if err != nil {
		return domain.IndicatorSet{}, fmt.Errorf("redis: indicators %s: %w", symbol, err)
	}
	if len(fields) == 0 {
		return domain.IndicatorSet{}, fmt.Errorf("redis: no indicators published for %s", symbol)
	}

	return domain.IndicatorSet{
		VWAP:        parseField(fields, "vwap"),
		ATR1m:       parseField(fields, "atr_1m"),
		ATR5m:       parseField(fields, "atr_5m"),
		RSI14:       parseField(fields, "rsi_14"),
		VolumeRatio: parseField(fields, "volume_ratio"),
	}, nil
}

// parseField reads one numeric hash field, treating missing or malformed
// values as 0.
func parseField(fields map[string]string, name string) float64 {
	v, ok := fields[name]
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

// Compile-time interface check.
var _ domain.IndicatorSource = (*IndicatorSource)(nil)
