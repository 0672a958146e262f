// Package guard evaluates the six independent pre-execution safety checks.
// Any single failed check blocks execution; values exactly at a threshold
// pass.
package guard

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/pivox/tradingV3-sub003/internal/config"
	"github.com/pivox/tradingV3-sub003/internal/domain"
)

// fundingInterval is the exchange funding cadence: every 8h at 00:00,
// 08:00, and 16:00 UTC.
const fundingInterval = 8 * time.Hour

// Evaluator runs the pre-execution guards against a snapshot and a plan.
type Evaluator struct {
	cfg       config.GuardsConfig
	gapBpsMax float64
	logger    *slog.Logger
	now       func() time.Time
}

// NewEvaluator creates an Evaluator with the given thresholds. The zone
// config supplies the shared mark/index gap bound.
func NewEvaluator(cfg config.GuardsConfig, zone config.ZoneConfig, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		cfg:       cfg,
		gapBpsMax: zone.MarkIndexGapBpsMax,
		logger:    logger.With(slog.String("component", "guards")),
		now:       time.Now,
	}
}

// SetClock overrides the time source for staleness and funding-window
// checks. Tests use this to pin the clock.
func (e *Evaluator) SetClock(now func() time.Time) {
	e.now = now
}

// Evaluate runs all six checks and returns the aggregated report. Results
// are computed fresh on every call and never persisted here.
func (e *Evaluator) Evaluate(snap domain.MarketSnapshot, plan *domain.OrderPlan) domain.GuardReport {
	now := e.now()

	results := []domain.GuardResult{
		e.staleData(snap, now),
		e.slippage(snap, plan),
		e.liquidity(snap, plan),
		e.riskLimits(snap, plan),
		e.fundingSpike(snap, now),
		e.markIndexGap(snap),
	}

	report := domain.GuardReport{Results: results, AllPassed: true}
	for _, r := range results {
		if !r.Passed {
			report.AllPassed = false
		}
	}

	if !report.AllPassed {
		e.logger.Info("pre-execution guards blocked",
			slog.String("symbol", snap.Symbol),
			slog.String("failed", report.FailureSummary()),
		)
	}
	return report
}

// staleData checks the snapshot age against the configured bound.
func (e *Evaluator) staleData(snap domain.MarketSnapshot, now time.Time) domain.GuardResult {
	age := snap.Age(now).Seconds()
	passed := age <= e.cfg.StaleTickerSec
	return domain.GuardResult{
		Name:      domain.GuardStaleData,
		Passed:    passed,
		Observed:  age,
		Threshold: e.cfg.StaleTickerSec,
		Message:   fmt.Sprintf("snapshot age %.2fs (max %.2fs)", age, e.cfg.StaleTickerSec),
	}
}

// slippage checks the plan entry against the mid price. It fails closed
// when the mid price is non-positive.
func (e *Evaluator) slippage(snap domain.MarketSnapshot, plan *domain.OrderPlan) domain.GuardResult {
	mid := snap.Mid()
	if mid <= 0 {
		return domain.GuardResult{
			Name:      domain.GuardSlippage,
			Passed:    false,
			Observed:  0,
			Threshold: e.cfg.MaxSlipBps,
			Message:   "non-positive mid price, failing closed",
		}
	}
	slipBps := math.Abs(plan.EntryPrice-mid) / mid * 10_000
	return domain.GuardResult{
		Name:      domain.GuardSlippage,
		Passed:    slipBps <= e.cfg.MaxSlipBps,
		Observed:  slipBps,
		Threshold: e.cfg.MaxSlipBps,
		Message:   fmt.Sprintf("entry slippage %.1f bps (max %.1f)", slipBps, e.cfg.MaxSlipBps),
	}
}

// liquidity requires top-of-book depth to cover at least the plan notional
// and the configured floor.
func (e *Evaluator) liquidity(snap domain.MarketSnapshot, plan *domain.OrderPlan) domain.GuardResult {
	required := math.Max(plan.Risk.NotionalUSD, e.cfg.MinLiquidityUSD)
	return domain.GuardResult{
		Name:      domain.GuardLiquidity,
		Passed:    snap.DepthUSD >= required,
		Observed:  snap.DepthUSD,
		Threshold: required,
		Message:   fmt.Sprintf("depth %.0f USD (need %.0f)", snap.DepthUSD, required),
	}
}

// riskLimits checks the plan leverage against the bracket table. An empty
// bracket table fails closed.
func (e *Evaluator) riskLimits(snap domain.MarketSnapshot, plan *domain.OrderPlan) domain.GuardResult {
	bracketMax := snap.MaxBracketLeverage()
	if bracketMax <= 0 {
		return domain.GuardResult{
			Name:      domain.GuardRiskLimits,
			Passed:    false,
			Observed:  plan.Leverage,
			Threshold: 0,
			Message:   "no leverage bracket table, failing closed",
		}
	}
	return domain.GuardResult{
		Name:      domain.GuardRiskLimits,
		Passed:    plan.Leverage <= bracketMax,
		Observed:  plan.Leverage,
		Threshold: bracketMax,
		Message:   fmt.Sprintf("leverage %.2fx (bracket max %.2fx)", plan.Leverage, bracketMax),
	}
}

// fundingSpike fails on an outsized funding rate or when the next funding
// window is too close.
func (e *Evaluator) fundingSpike(snap domain.MarketSnapshot, now time.Time) domain.GuardResult {
	rate := math.Abs(snap.FundingRate)
	if rate > e.cfg.MaxFundingRate {
		return domain.GuardResult{
			Name:      domain.GuardFundingSpike,
			Passed:    false,
			Observed:  rate,
			Threshold: e.cfg.MaxFundingRate,
			Message:   fmt.Sprintf("funding rate %.5f exceeds max %.5f", rate, e.cfg.MaxFundingRate),
		}
	}
	minsToWindow := minutesToNextFunding(now)
	if minsToWindow < e.cfg.FundingCutoffMin {
		return domain.GuardResult{
			Name:      domain.GuardFundingSpike,
			Passed:    false,
			Observed:  minsToWindow,
			Threshold: e.cfg.FundingCutoffMin,
			Message:   fmt.Sprintf("%.1f min to funding window (cutoff %.1f)", minsToWindow, e.cfg.FundingCutoffMin),
		}
	}
	return domain.GuardResult{
		Name:      domain.GuardFundingSpike,
		Passed:    true,
		Observed:  rate,
		Threshold: e.cfg.MaxFundingRate,
		Message:   fmt.Sprintf("funding rate %.5f, %.1f min to window", rate, minsToWindow),
	}
}

// markIndexGap checks the mark/index dislocation.
func (e *Evaluator) markIndexGap(snap domain.MarketSnapshot) domain.GuardResult {
	gap := snap.MarkIndexGapBps()
	return domain.GuardResult{
		Name:      domain.GuardMarkIndexGap,
		Passed:    gap <= e.gapBpsMax,
		Observed:  gap,
		Threshold: e.gapBpsMax,
		Message:   fmt.Sprintf("mark/index gap %.1f bps (max %.1f)", gap, e.gapBpsMax),
	}
}

// minutesToNextFunding returns the minutes until the next 8-hour funding
// boundary (00:00 / 08:00 / 16:00 UTC).
func minutesToNextFunding(now time.Time) float64 {
	utc := now.UTC()
	sinceMidnight := time.Duration(utc.Hour())*time.Hour +
		time.Duration(utc.Minute())*time.Minute +
		time.Duration(utc.Second())*time.Second
	untilNext := fundingInterval - sinceMidnight%fundingInterval
	return untilNext.Minutes()
}
