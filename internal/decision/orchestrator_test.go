package decision

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pivox/tradingV3-sub003/internal/config"
	"github.com/pivox/tradingV3-sub003/internal/domain"
	"github.com/pivox/tradingV3-sub003/internal/execution"
	"github.com/pivox/tradingV3-sub003/internal/guard"
	"github.com/pivox/tradingV3-sub003/internal/plan"
	"github.com/pivox/tradingV3-sub003/internal/timeframe"
	"github.com/pivox/tradingV3-sub003/internal/zone"
)

var (
	fixedNow    = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	candleClose = time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memCache is an in-memory DecisionCache for idempotency tests.
type memCache struct {
	mu       sync.Mutex
	claimed  map[string]bool
	outcomes map[string]domain.DecisionOutcome
}

func newMemCache() *memCache {
	return &memCache{claimed: map[string]bool{}, outcomes: map[string]domain.DecisionOutcome{}}
}

func (c *memCache) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimed[key] {
		return false, nil
	}
	c.claimed[key] = true
	return true, nil
}

func (c *memCache) Outcome(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.outcomes[key]), nil
}

func (c *memCache) RecordOutcome(_ context.Context, key string, outcome domain.DecisionOutcome, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[key] = outcome
	return nil
}

func testOrchestrator(t *testing.T, gw domain.ExchangeGateway, cache domain.DecisionCache) *Orchestrator {
	t.Helper()
	logger := testLogger()

	selector := timeframe.NewSelector(
		config.TimeframeConfig{AtrPctHi: 0.004, AtrPctLo: 0.0015, SpreadWidenBps: 8},
		config.ZoneConfig{SpreadBpsMax: 5, DepthMinUSD: 20_000},
		logger,
	)

	zones := zone.NewBuilder(config.ZoneConfig{
		KAtr: 1.5, WMin: 0.001, WMax: 0.01,
		SpreadBpsMax: 5, DepthMinUSD: 20_000, MarkIndexGapBpsMax: 15,
	}, logger)
	zones.SetClock(func() time.Time { return fixedNow })

	plans, err := plan.NewBuilder(
		config.RiskConfig{
			RiskPct: 0.01, SlMultAtr: 2, BudgetUSDT: 1_000,
			TimeframeMultipliers: map[string]float64{"fast": 0.8, "default": 1.0},
			ExchangeCap:          125,
		},
		config.MakerConfig{MakerOnly: true},
		config.FallbackTakerConfig{Enable: true, MaxSlipBps: 10},
		logger,
	)
	require.NoError(t, err)

	guards := guard.NewEvaluator(
		config.GuardsConfig{
			StaleTickerSec: 2, MaxSlipBps: 25, MinLiquidityUSD: 10_000,
			FundingCutoffMin: 10, MaxFundingRate: 0.0015,
		},
		config.ZoneConfig{MarkIndexGapBpsMax: 15},
		logger,
	)
	guards.SetClock(func() time.Time { return fixedNow })

	o := New(selector, zones, plans, guards, gw, cache, execution.Config{
		FillTimeout:     50 * time.Millisecond,
		PollInterval:    5 * time.Millisecond,
		UsePositionTPSL: true,
	}, logger)
	o.SetClock(func() time.Time { return fixedNow })
	return o
}

func testSnapshot() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Symbol:      "BTCUSDT",
		LastPrice:   100,
		BestBid:     99.8,
		BestAsk:     100.2,
		MarkPrice:   100.05,
		IndexPrice:  100,
		SpreadBps:   3,
		DepthUSD:    50_000,
		VWAP:        100,
		ATR1m:       0.2,
		ATR5m:       0.3,
		FundingRate: 0.0001,
		UpdatedAt:   fixedNow.Add(-time.Second),
		Contract:    domain.ContractMeta{TickSize: 0.1, LotSize: 1},
		Brackets:    []domain.LeverageBracket{{NotionalCap: 50_000, MaxLeverage: 50}},
	}
}

func testRequest() Request {
	return Request{
		Symbol:      "BTCUSDT",
		Side:        domain.SideLong,
		Snapshot:    testSnapshot(),
		Equity:      10_000,
		CandleClose: candleClose,
		Attempt:     1,
	}
}

func TestDecideOpens(t *testing.T) {
	o := testOrchestrator(t, execution.NewSimulator(), nil)
	d := o.Decide(context.Background(), testRequest())

	require.Equal(t, domain.DecisionOpen, d.Outcome)
	assert.True(t, d.Opened())
	assert.Equal(t, "BTCUSDT", d.Symbol)
	assert.Equal(t, domain.TimeframeDefault, d.Timeframe)
	assert.Equal(t, "BTCUSDT:default:1748779500", d.DecisionKey)
	require.NotNil(t, d.Zone)
	require.NotNil(t, d.Plan)
	require.NotNil(t, d.Guards)
	assert.True(t, d.Guards.AllPassed)
	assert.NotEmpty(t, d.Transitions)
	assert.Equal(t, domain.StateMonitoring, d.Transitions[len(d.Transitions)-1].To)
	assert.False(t, d.DryRun)
	assert.Contains(t, d.Reason, "maker")
}

func TestDecideSkipsOnZoneQuality(t *testing.T) {
	o := testOrchestrator(t, execution.NewSimulator(), nil)
	req := testRequest()
	req.Snapshot.SpreadBps = 6 // above the zone quality bound

	d := o.Decide(context.Background(), req)
	require.Equal(t, domain.DecisionSkip, d.Outcome)
	assert.Contains(t, d.Reason, "quality gate")
	require.NotNil(t, d.Zone)
	assert.False(t, d.Zone.QualityPassed)
	assert.Nil(t, d.Plan)
	assert.Empty(t, d.Transitions)
}

func TestDecideSkipsOnGuardFailure(t *testing.T) {
	o := testOrchestrator(t, execution.NewSimulator(), nil)
	req := testRequest()
	req.Snapshot.FundingRate = 0.002

	d := o.Decide(context.Background(), req)
	require.Equal(t, domain.DecisionSkip, d.Outcome)
	assert.Contains(t, d.Reason, domain.GuardFundingSpike)
	require.NotNil(t, d.Plan)
	require.NotNil(t, d.Guards)
	assert.False(t, d.Guards.AllPassed)
	// Guards block before any order leaves.
	assert.Empty(t, d.Transitions)
}

func TestDecideSkipsOnZeroQuantity(t *testing.T) {
	o := testOrchestrator(t, execution.NewSimulator(), nil)
	req := testRequest()
	req.Equity = 1 // sizes to zero lots

	d := o.Decide(context.Background(), req)
	require.Equal(t, domain.DecisionSkip, d.Outcome)
	assert.Contains(t, d.Reason, domain.ErrZeroQuantity.Error())
	assert.Nil(t, d.Plan)
}

func TestDecideSkipsOnExecutionFailure(t *testing.T) {
	sim := execution.NewSimulator()
	sim.FillMaker = false
	sim.FillTaker = false
	o := testOrchestrator(t, sim, nil)

	d := o.Decide(context.Background(), testRequest())
	require.Equal(t, domain.DecisionSkip, d.Outcome)
	assert.Contains(t, d.Reason, "execution failed")
	assert.NotEmpty(t, d.Transitions)
	assert.Equal(t, domain.StateFailed, d.Transitions[len(d.Transitions)-1].To)
}

func TestDecideInvalidInput(t *testing.T) {
	o := testOrchestrator(t, execution.NewSimulator(), nil)

	req := testRequest()
	req.Side = "SIDEWAYS"
	d := o.Decide(context.Background(), req)
	require.Equal(t, domain.DecisionSkip, d.Outcome)
	assert.Contains(t, d.Reason, "invalid side")

	req = testRequest()
	req.Snapshot.Symbol = "ETHUSDT"
	d = o.Decide(context.Background(), req)
	require.Equal(t, domain.DecisionSkip, d.Outcome)
	assert.Contains(t, d.Reason, "does not match")
}

func TestDecideDuplicateCandle(t *testing.T) {
	cache := newMemCache()
	o := testOrchestrator(t, execution.NewSimulator(), cache)

	first := o.Decide(context.Background(), testRequest())
	require.Equal(t, domain.DecisionOpen, first.Outcome)

	// A retry for the same candle collides on the decision key even with a
	// different attempt number.
	req := testRequest()
	req.Attempt = 2
	second := o.Decide(context.Background(), req)
	require.Equal(t, domain.DecisionSkip, second.Outcome)
	assert.Contains(t, second.Reason, "duplicate")
	assert.Contains(t, second.Reason, "OPEN")
}

func TestDecideRecordsOutcome(t *testing.T) {
	cache := newMemCache()
	o := testOrchestrator(t, execution.NewSimulator(), cache)

	d := o.Decide(context.Background(), testRequest())
	out, err := cache.Outcome(context.Background(), d.DecisionKey)
	require.NoError(t, err)
	assert.Equal(t, string(domain.DecisionOpen), out)
}

func TestDecideRecoversFromPanic(t *testing.T) {
	o := testOrchestrator(t, execution.NewSimulator(), nil)
	o.selector = nil // force a nil dereference inside the pipeline

	d := o.Decide(context.Background(), testRequest())
	require.Equal(t, domain.DecisionSkip, d.Outcome)
	assert.Contains(t, d.Reason, "internal error")
}

func TestDryRun(t *testing.T) {
	cache := newMemCache()
	o := testOrchestrator(t, execution.NewSimulator(), cache)

	d := o.DryRun(context.Background(), testRequest())
	require.Equal(t, domain.DecisionOpen, d.Outcome)
	assert.True(t, d.DryRun)
	assert.Equal(t, domain.StateMonitoring, d.Transitions[len(d.Transitions)-1].To)

	// Dry runs neither claim nor record against the idempotency key.
	assert.Empty(t, cache.claimed)
	assert.Empty(t, cache.outcomes)
}

func TestDryRunDeterministic(t *testing.T) {
	o := testOrchestrator(t, execution.NewSimulator(), nil)

	a := o.DryRun(context.Background(), testRequest())
	b := o.DryRun(context.Background(), testRequest())

	require.Equal(t, a.Outcome, b.Outcome)
	assert.Equal(t, a.DecisionKey, b.DecisionKey)
	assert.Equal(t, a.Reason, b.Reason)
	assert.Equal(t, *a.Zone, *b.Zone)
	assert.Equal(t, a.Plan.ClientOrderID, b.Plan.ClientOrderID)
	assert.InDelta(t, a.Plan.Quantity, b.Plan.Quantity, 1e-9)
	assert.InDelta(t, a.Plan.Leverage, b.Plan.Leverage, 1e-9)
}
