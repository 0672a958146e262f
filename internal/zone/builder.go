// Package zone constructs the bounded, side-aware entry price interval that
// maker orders are placed into, together with its quality gate.
package zone

import (
	"log/slog"
	"math"
	"time"

	"github.com/pivox/tradingV3-sub003/internal/config"
	"github.com/pivox/tradingV3-sub003/internal/domain"
)

// Asymmetry factors: a LONG wants to buy low but accepts a limited premium,
// so the zone extends less below the anchor than above. SHORT mirrors this.
const (
	longAlpha  = 0.3
	longBeta   = 0.7
	shortAlpha = 0.7
	shortBeta  = 0.3
)

// Builder computes entry zones from VWAP, book, and ATR anchors.
type Builder struct {
	cfg    config.ZoneConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewBuilder creates a Builder with the given zone configuration.
func NewBuilder(cfg config.ZoneConfig, logger *slog.Logger) *Builder {
	return &Builder{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "zone_builder")),
		now:    time.Now,
	}
}

// SetClock overrides the time source. Tests use this to pin staleness.
func (b *Builder) SetClock(now func() time.Time) {
	b.now = now
}

// Build computes the entry zone for one side of one snapshot. The returned
// zone is read-only; callers must check QualityPassed before planning.
func (b *Builder) Build(side domain.Side, snap domain.MarketSnapshot, timeframe string) domain.EntryZone {
	atr := snap.ATR(timeframe)

	// Clamp the raw width to the configured fractional bounds. A clamped
	// value below 1.0 is a price fraction and converts to absolute units
	// via the last price.
	width := clamp(b.cfg.KAtr*atr, b.cfg.WMin, b.cfg.WMax)
	if width < 1.0 {
		width *= snap.LastPrice
	}

	alpha, beta := longAlpha, longBeta
	if side == domain.SideShort {
		alpha, beta = shortAlpha, shortBeta
	}

	lower := math.Max(snap.VWAP, snap.BestBid) - alpha*width
	upper := math.Min(snap.VWAP, snap.BestAsk) + beta*width

	tick := snap.Contract.TickSize
	entryMin := quantize(lower, tick)
	entryMax := quantize(upper, tick)
	if entryMin > entryMax {
		entryMin, entryMax = entryMax, entryMin
	}

	age := snap.Age(b.now())
	gapBps := snap.MarkIndexGapBps()

	quality := snap.SpreadBps <= b.cfg.SpreadBpsMax &&
		snap.DepthUSD >= b.cfg.DepthMinUSD &&
		gapBps <= b.cfg.MarkIndexGapBpsMax &&
		age <= domain.StaleAfter

	z := domain.EntryZone{
		Symbol:    snap.Symbol,
		Side:      side,
		Timeframe: timeframe,
		EntryMin:  entryMin,
		EntryMax:  entryMax,
		ZoneWidth: width,
		Anchors: domain.ZoneAnchors{
			VWAP:      snap.VWAP,
			ATR:       atr,
			SpreadBps: snap.SpreadBps,
			DepthUSD:  snap.DepthUSD,
		},
		QualityPassed: quality,
		Evidence: map[string]any{
			"vwap":              snap.VWAP,
			"best_bid":          snap.BestBid,
			"best_ask":          snap.BestAsk,
			"atr":               atr,
			"spread_bps":        snap.SpreadBps,
			"depth_usd":         snap.DepthUSD,
			"mark_index_gap_bps": gapBps,
			"snapshot_age_ms":   age.Milliseconds(),
			"width":             width,
			"alpha":             alpha,
			"beta":              beta,
		},
	}

	if !quality {
		b.logger.Debug("zone quality gate failed",
			slog.String("symbol", snap.Symbol),
			slog.String("side", string(side)),
			slog.Float64("spread_bps", snap.SpreadBps),
			slog.Float64("depth_usd", snap.DepthUSD),
			slog.Float64("mark_index_gap_bps", gapBps),
			slog.Int64("age_ms", age.Milliseconds()),
		)
	}
	return z
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// quantize rounds a price to the nearest tick. A zero tick size leaves the
// price untouched.
func quantize(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}
