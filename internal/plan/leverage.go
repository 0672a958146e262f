package plan

import (
	"fmt"
	"math"
	"regexp"

	"github.com/pivox/tradingV3-sub003/internal/config"
)

// capTable resolves the per-symbol leverage cap. Patterns are compiled once
// at startup; the first matching pattern wins, the exchange-wide cap is the
// fallback.
type capTable struct {
	entries     []capEntry
	exchangeCap float64
}

type capEntry struct {
	re  *regexp.Regexp
	cap float64
}

func newCapTable(caps []config.SymbolCap, exchangeCap float64) (*capTable, error) {
	t := &capTable{exchangeCap: exchangeCap}
	for _, sc := range caps {
		re, err := regexp.Compile(sc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("leverage cap pattern %q: %w", sc.Pattern, err)
		}
		t.entries = append(t.entries, capEntry{re: re, cap: sc.Cap})
	}
	return t, nil
}

// capFor returns the leverage cap for a symbol.
func (t *capTable) capFor(symbol string) float64 {
	for _, e := range t.entries {
		if e.re.MatchString(symbol) {
			return e.cap
		}
	}
	return t.exchangeCap
}

// leverageFor derives the plan leverage: the requested ratio of notional to
// risk, scaled by the timeframe multiplier and (when flagged) the conviction
// multiplier, then clamped to the bracket table, the symbol cap, and under
// conviction a fraction of the exchange cap. Rounded to 2 decimals.
func (b *Builder) leverageFor(req Request, notional, riskUnit float64) float64 {
	if riskUnit <= 0 {
		return 0
	}
	lev := notional / riskUnit

	if m, ok := b.risk.TimeframeMultipliers[req.Timeframe]; ok && m > 0 {
		lev *= m
	}
	if req.Conviction && b.risk.Conviction.Multiplier > 0 {
		lev *= b.risk.Conviction.Multiplier
	}

	limit := math.Inf(1)
	if bracketMax := req.Snapshot.MaxBracketLeverage(); bracketMax > 0 && bracketMax < limit {
		limit = bracketMax
	}
	if symCap := b.caps.capFor(req.Snapshot.Symbol); symCap > 0 && symCap < limit {
		limit = symCap
	}
	if req.Conviction && b.risk.Conviction.CapPctOfExchange > 0 {
		if convCap := b.risk.ExchangeCap * b.risk.Conviction.CapPctOfExchange / 100; convCap < limit {
			limit = convCap
		}
	}
	if lev > limit {
		lev = limit
	}

	// The 1x floor never overrides a stricter cap.
	if floor := math.Min(1, limit); lev < floor {
		lev = floor
	}
	return math.Round(lev*100) / 100
}
