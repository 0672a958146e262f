// Package domain defines the core types of the decision/execution pipeline:
// market snapshots, entry zones, order plans, guard results, execution state,
// and the final decision. Types here are plain data; behaviour lives in the
// pipeline packages that produce and consume them.
package domain

import "time"

// Side is the direction of a trade signal.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Valid reports whether the side is one of the two known directions.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Execution timeframes. The selector picks between the two; the default is
// the slower one.
const (
	TimeframeFast    = "fast"
	TimeframeDefault = "default"
)

// LeverageBracket is one tier of the exchange bracket table: up to
// NotionalCap of position value, MaxLeverage is allowed.
type LeverageBracket struct {
	NotionalCap float64
	MaxLeverage float64
}

// ContractMeta carries the instrument trading rules needed for quantization.
type ContractMeta struct {
	TickSize    float64
	LotSize     float64
	BaseCcy     string
	QuoteCcy    string
	MinNotional float64
}

// StaleAfter is the age beyond which a snapshot is considered stale.
const StaleAfter = 2 * time.Second

// MarketSnapshot is the per-symbol market state a single decision runs
// against. It is produced fresh per decision call and never mutated
// downstream.
type MarketSnapshot struct {
	Symbol string

	LastPrice  float64
	BestBid    float64
	BestAsk    float64
	MarkPrice  float64
	IndexPrice float64

	SpreadBps float64 // top-of-book spread in basis points
	DepthUSD  float64 // top-of-book depth in quote units

	VWAP        float64
	ATR1m       float64
	ATR5m       float64
	RSI14       float64
	VolumeRatio float64 // volume vs. 50-period mean

	FundingRate  float64
	OpenInterest float64

	UpdatedAt time.Time

	Contract ContractMeta
	Brackets []LeverageBracket
}

// Mid returns the top-of-book midpoint, falling back to the last price when
// either side of the book is missing.
func (m MarketSnapshot) Mid() float64 {
	if m.BestBid > 0 && m.BestAsk > 0 {
		return (m.BestBid + m.BestAsk) / 2
	}
	return m.LastPrice
}

// Age returns the snapshot age relative to now.
func (m MarketSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(m.UpdatedAt)
}

// Stale reports whether the snapshot is older than StaleAfter.
func (m MarketSnapshot) Stale(now time.Time) bool {
	return m.Age(now) > StaleAfter
}

// ATR returns the ATR matching the execution timeframe: the fast timeframe
// reads the 1-minute ATR, the default timeframe the 5-minute ATR.
func (m MarketSnapshot) ATR(timeframe string) float64 {
	if timeframe == TimeframeFast {
		return m.ATR1m
	}
	return m.ATR5m
}

// MarkIndexGapBps returns the absolute mark/index dislocation in basis
// points. Returns 0 when the index price is unavailable.
func (m MarketSnapshot) MarkIndexGapBps() float64 {
	if m.IndexPrice <= 0 {
		return 0
	}
	gap := m.MarkPrice - m.IndexPrice
	if gap < 0 {
		gap = -gap
	}
	return gap / m.IndexPrice * 10_000
}

// MaxBracketLeverage returns the highest leverage found in the bracket
// table, or 0 when the table is empty.
func (m MarketSnapshot) MaxBracketLeverage() float64 {
	var max float64
	for _, b := range m.Brackets {
		if b.MaxLeverage > max {
			max = b.MaxLeverage
		}
	}
	return max
}
