// Package timeframe selects the execution timeframe for a decision from
// volatility, liquidity, and cross-timeframe alignment.
package timeframe

import (
	"log/slog"

	"github.com/pivox/tradingV3-sub003/internal/config"
	"github.com/pivox/tradingV3-sub003/internal/domain"
)

// Alignment is the cross-timeframe context: the validated signal side per
// parent timeframe.
type Alignment map[string]domain.Side

// Agrees reports whether every parent timeframe carries the given side. An
// empty alignment does not agree.
func (a Alignment) Agrees(side domain.Side) bool {
	if len(a) == 0 {
		return false
	}
	for _, s := range a {
		if s != side {
			return false
		}
	}
	return true
}

// Selector picks between the fast and the default execution timeframe.
// Selection is re-evaluated from scratch on every call with fresh data;
// there is no dwell time, so alternation across calls on noisy data is
// accepted behaviour.
type Selector struct {
	cfg    config.TimeframeConfig
	zone   config.ZoneConfig
	logger *slog.Logger
}

// NewSelector creates a Selector. The zone config supplies the shared
// spread/depth thresholds.
func NewSelector(cfg config.TimeframeConfig, zone config.ZoneConfig, logger *slog.Logger) *Selector {
	return &Selector{
		cfg:    cfg,
		zone:   zone,
		logger: logger.With(slog.String("component", "timeframe_selector")),
	}
}

// Select returns the execution timeframe for one decision. The default is
// the slower timeframe; the fast timeframe is used only when volatility,
// spread, depth, and alignment all allow it, and none of the downshift
// conditions hold.
func (s *Selector) Select(snap domain.MarketSnapshot, side domain.Side, align Alignment) string {
	if snap.LastPrice <= 0 {
		return domain.TimeframeDefault
	}

	atrPct := snap.ATR1m / snap.LastPrice

	upshift := atrPct >= s.cfg.AtrPctHi &&
		snap.SpreadBps <= s.zone.SpreadBpsMax &&
		snap.DepthUSD >= s.zone.DepthMinUSD &&
		(!s.cfg.RequireMTFAlignment || align.Agrees(side))

	downshift := atrPct < s.cfg.AtrPctLo || snap.SpreadBps > s.cfg.SpreadWidenBps

	tf := domain.TimeframeDefault
	if upshift && !downshift {
		tf = domain.TimeframeFast
	}

	s.logger.Debug("timeframe selected",
		slog.String("symbol", snap.Symbol),
		slog.String("timeframe", tf),
		slog.Float64("atr_pct", atrPct),
		slog.Float64("spread_bps", snap.SpreadBps),
		slog.Float64("depth_usd", snap.DepthUSD),
		slog.Bool("upshift", upshift),
		slog.Bool("downshift", downshift),
	)
	return tf
}
