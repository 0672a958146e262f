package guard

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pivox/tradingV3-sub003/internal/config"
	"github.com/pivox/tradingV3-sub003/internal/domain"
)

// fixedNow sits mid-window: 4h away from the next 8h funding boundary.
var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvaluator() *Evaluator {
	e := NewEvaluator(
		config.GuardsConfig{
			StaleTickerSec:   2,
			MaxSlipBps:       10,
			MinLiquidityUSD:  10_000,
			FundingCutoffMin: 10,
			MaxFundingRate:   0.0015,
		},
		config.ZoneConfig{MarkIndexGapBpsMax: 15},
		testLogger(),
	)
	e.SetClock(func() time.Time { return fixedNow })
	return e
}

func testSnapshot() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Symbol:      "BTCUSDT",
		LastPrice:   100,
		BestBid:     99.95,
		BestAsk:     100.05,
		MarkPrice:   100.02,
		IndexPrice:  100,
		DepthUSD:    50_000,
		FundingRate: 0.0001,
		UpdatedAt:   fixedNow.Add(-time.Second),
		Brackets:    []domain.LeverageBracket{{NotionalCap: 50_000, MaxLeverage: 50}},
	}
}

func testPlan() *domain.OrderPlan {
	return &domain.OrderPlan{
		Symbol:     "BTCUSDT",
		Side:       domain.SideLong,
		EntryPrice: 100.05,
		Quantity:   50,
		Leverage:   10,
		Risk:       domain.RiskMetrics{NotionalUSD: 5_000},
	}
}

func TestEvaluateAllPass(t *testing.T) {
	e := testEvaluator()
	report := e.Evaluate(testSnapshot(), testPlan())

	require.Len(t, report.Results, 6)
	assert.True(t, report.AllPassed)
	assert.Empty(t, report.FailedNames())
}

func TestStaleData(t *testing.T) {
	e := testEvaluator()
	snap := testSnapshot()
	snap.UpdatedAt = fixedNow.Add(-3 * time.Second)

	report := e.Evaluate(snap, testPlan())
	assert.False(t, report.AllPassed)
	assert.Contains(t, report.FailedNames(), domain.GuardStaleData)

	// Exactly at the bound passes.
	snap.UpdatedAt = fixedNow.Add(-2 * time.Second)
	report = e.Evaluate(snap, testPlan())
	assert.True(t, report.AllPassed)
}

func TestSlippage(t *testing.T) {
	e := testEvaluator()
	plan := testPlan()
	plan.EntryPrice = 100.2 // 20 bps off mid 100

	report := e.Evaluate(testSnapshot(), plan)
	assert.Contains(t, report.FailedNames(), domain.GuardSlippage)

	// Exactly 10 bps passes.
	plan.EntryPrice = 100.1
	report = e.Evaluate(testSnapshot(), plan)
	assert.NotContains(t, report.FailedNames(), domain.GuardSlippage)
}

func TestSlippageFailsClosedOnBadMid(t *testing.T) {
	e := testEvaluator()
	snap := testSnapshot()
	snap.BestBid = 0
	snap.BestAsk = 0
	snap.LastPrice = 0

	report := e.Evaluate(snap, testPlan())
	assert.Contains(t, report.FailedNames(), domain.GuardSlippage)
}

func TestLiquidity(t *testing.T) {
	e := testEvaluator()
	snap := testSnapshot()
	snap.DepthUSD = 4_999 // below plan notional 5000

	report := e.Evaluate(snap, testPlan())
	assert.Contains(t, report.FailedNames(), domain.GuardLiquidity)

	// The floor binds when the notional is small.
	snap.DepthUSD = 9_999
	plan := testPlan()
	plan.Risk.NotionalUSD = 1_000
	report = e.Evaluate(snap, plan)
	assert.Contains(t, report.FailedNames(), domain.GuardLiquidity)

	// Depth equal to the requirement passes.
	snap.DepthUSD = 10_000
	report = e.Evaluate(snap, plan)
	assert.NotContains(t, report.FailedNames(), domain.GuardLiquidity)
}

func TestRiskLimits(t *testing.T) {
	e := testEvaluator()
	plan := testPlan()
	plan.Leverage = 51

	report := e.Evaluate(testSnapshot(), plan)
	assert.Contains(t, report.FailedNames(), domain.GuardRiskLimits)

	plan.Leverage = 50
	report = e.Evaluate(testSnapshot(), plan)
	assert.NotContains(t, report.FailedNames(), domain.GuardRiskLimits)
}

func TestRiskLimitsFailsClosedWithoutBrackets(t *testing.T) {
	e := testEvaluator()
	snap := testSnapshot()
	snap.Brackets = nil

	report := e.Evaluate(snap, testPlan())
	assert.Contains(t, report.FailedNames(), domain.GuardRiskLimits)
}

func TestFundingSpikeRate(t *testing.T) {
	e := testEvaluator()
	snap := testSnapshot()
	snap.FundingRate = -0.002 // magnitude above max

	report := e.Evaluate(snap, testPlan())
	assert.Contains(t, report.FailedNames(), domain.GuardFundingSpike)
}

func TestFundingSpikeProximity(t *testing.T) {
	e := testEvaluator()
	// 15:55 UTC: five minutes before the 16:00 funding boundary.
	near := time.Date(2025, 6, 1, 15, 55, 0, 0, time.UTC)
	e.SetClock(func() time.Time { return near })

	snap := testSnapshot()
	snap.UpdatedAt = near

	report := e.Evaluate(snap, testPlan())
	assert.Contains(t, report.FailedNames(), domain.GuardFundingSpike)

	// Exactly at the cutoff passes.
	at := time.Date(2025, 6, 1, 15, 50, 0, 0, time.UTC)
	e.SetClock(func() time.Time { return at })
	snap.UpdatedAt = at
	report = e.Evaluate(snap, testPlan())
	assert.NotContains(t, report.FailedNames(), domain.GuardFundingSpike)
}

func TestMarkIndexGap(t *testing.T) {
	e := testEvaluator()
	snap := testSnapshot()
	snap.MarkPrice = 100.2 // 20 bps

	report := e.Evaluate(snap, testPlan())
	assert.Contains(t, report.FailedNames(), domain.GuardMarkIndexGap)
}

func TestSingleFailureBlocksAll(t *testing.T) {
	e := testEvaluator()
	snap := testSnapshot()
	snap.MarkPrice = 100.2

	report := e.Evaluate(snap, testPlan())
	assert.False(t, report.AllPassed)

	// The other five still report their own pass.
	var passed int
	for _, r := range report.Results {
		if r.Passed {
			passed++
		}
	}
	assert.Equal(t, 5, passed)
	assert.Contains(t, report.FailureSummary(), domain.GuardMarkIndexGap)
}

func TestMinutesToNextFunding(t *testing.T) {
	assert.InDelta(t, 240.0, minutesToNextFunding(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)), 1e-9)
	assert.InDelta(t, 5.0, minutesToNextFunding(time.Date(2025, 6, 1, 7, 55, 0, 0, time.UTC)), 1e-9)
	assert.InDelta(t, 480.0, minutesToNextFunding(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)), 1e-9)
}
