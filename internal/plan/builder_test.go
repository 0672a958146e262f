package plan

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

var candleClose = time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRisk() config.RiskConfig {
	return config.RiskConfig{
		RiskPct:    0.01,
		SlMultAtr:  2,
		BudgetUSDT: 1_000,
		TimeframeMultipliers: map[string]float64{
			"fast":    0.8,
			"default": 1.0,
		},
		Conviction: config.ConvictionConfig{
			Multiplier:       1.25,
			CapPctOfExchange: 50,
		},
		PerSymbolCaps: []config.SymbolCap{
			{Pattern: "^(BTC|ETH)USDT$", Cap: 25},
			{Pattern: "USDT$", Cap: 10},
		},
		ExchangeCap: 125,
	}
}

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := NewBuilder(
		testRisk(),
		config.MakerConfig{Mode: "split", MakerOnly: true},
		config.FallbackTakerConfig{Enable: true, MaxSlipBps: 10},
		testLogger(),
	)
	require.NoError(t, err)
	return b
}

func testSnapshot() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Symbol:    "BTCUSDT",
		LastPrice: 100,
		BestBid:   99.9,
		BestAsk:   100.1,
		SpreadBps: 2,
		DepthUSD:  50_000,
		VWAP:      100,
		ATR1m:     0.5,
		ATR5m:     1.0,
		UpdatedAt: time.Now(),
		Contract:  domain.ContractMeta{TickSize: 0.1, LotSize: 1},
		Brackets:  []domain.LeverageBracket{{NotionalCap: 50_000, MaxLeverage: 50}},
	}
}

func validZone() domain.EntryZone {
	return domain.EntryZone{
		Symbol:        "BTCUSDT",
		Side:          domain.SideLong,
		Timeframe:     domain.TimeframeDefault,
		EntryMin:      99,
		EntryMax:      101,
		ZoneWidth:     2,
		QualityPassed: true,
	}
}

func testRequest() Request {
	return Request{
		Side:        domain.SideLong,
		Snapshot:    testSnapshot(),
		Zone:        validZone(),
		Timeframe:   domain.TimeframeDefault,
		Equity:      10_000,
		CandleClose: candleClose,
		Attempt:     1,
	}
}

func TestBuildSizing(t *testing.T) {
	b := testBuilder(t)
	p, err := b.Build(testRequest())
	require.NoError(t, err)

	// riskUnit = 0.01 * 10000 = 100; stop = 2 * ATR5m = 2; qty = 100/2 = 50.
	assert.InDelta(t, 50.0, p.Quantity, 1e-9)
	assert.InDelta(t, 2.0, p.Risk.StopDistance, 1e-9)
	assert.InDelta(t, 100.0, p.Risk.RiskUSD, 1e-9)
	assert.InDelta(t, 50*100.0, p.Risk.NotionalUSD, 1e-9)
	assert.InDelta(t, 100.0, p.EntryPrice, 1e-9)
}

func TestBuildMakerLadder(t *testing.T) {
	b := testBuilder(t)
	p, err := b.Build(testRequest())
	require.NoError(t, err)
	require.Len(t, p.MakerOrders, 3)

	// 40/40/20 across lower bound, midpoint, upper bound; the last rung
	// absorbs lot-rounding remainders.
	assert.InDelta(t, 99.0, p.MakerOrders[0].Price, 1e-9)
	assert.InDelta(t, 100.0, p.MakerOrders[1].Price, 1e-9)
	assert.InDelta(t, 101.0, p.MakerOrders[2].Price, 1e-9)
	assert.InDelta(t, 20.0, p.MakerOrders[0].Quantity, 1e-9)
	assert.InDelta(t, 20.0, p.MakerOrders[1].Quantity, 1e-9)
	assert.InDelta(t, 10.0, p.MakerOrders[2].Quantity, 1e-9)

	var total float64
	for _, ord := range p.MakerOrders {
		total += ord.Quantity
		assert.Equal(t, domain.OrderTypeLimit, ord.Type)
		assert.Equal(t, domain.TIFPostOnly, ord.TimeInForce)
		assert.Equal(t, domain.SideLong, ord.Side)
		assert.False(t, ord.ReduceOnly)
	}
	assert.InDelta(t, p.Quantity, total, 1e-9)
}

func TestBuildInvalidZoneSingleOrder(t *testing.T) {
	b := testBuilder(t)
	req := testRequest()
	req.Zone.QualityPassed = false

	p, err := b.Build(req)
	require.NoError(t, err)
	require.Len(t, p.MakerOrders, 1)
	assert.InDelta(t, req.Zone.Midpoint(), p.MakerOrders[0].Price, 1e-9)
	assert.InDelta(t, p.Quantity, p.MakerOrders[0].Quantity, 1e-9)
}

func TestBuildZeroQuantity(t *testing.T) {
	b := testBuilder(t)
	req := testRequest()
	req.Equity = 0.1 // riskUnit 0.001, qty floors to zero lots

	_, err := b.Build(req)
	require.ErrorIs(t, err, domain.ErrZeroQuantity)
}

func TestBuildStopDistanceFallback(t *testing.T) {
	b := testBuilder(t)
	req := testRequest()
	req.Snapshot.ATR5m = 0 // no volatility reading: 1% of mid

	p, err := b.Build(req)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, p.Risk.StopDistance, 1e-9)
}

func TestBuildLeverage(t *testing.T) {
	b := testBuilder(t)
	p, err := b.Build(testRequest())
	require.NoError(t, err)

	// notional = min(1000, 10000) = 1000; riskUnit = 100; ratio 10x,
	// default multiplier 1.0, below every cap.
	assert.InDelta(t, 10.0, p.Leverage, 1e-9)
}

func TestBuildLeverageTimeframeMultiplier(t *testing.T) {
	b := testBuilder(t)
	req := testRequest()
	req.Timeframe = domain.TimeframeFast

	p, err := b.Build(req)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, p.Leverage, 1e-9) // 10 * 0.8
}

func TestBuildLeverageConviction(t *testing.T) {
	b := testBuilder(t)
	req := testRequest()
	req.Conviction = true

	p, err := b.Build(req)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, p.Leverage, 1e-9) // 10 * 1.25
}

func TestBuildLeverageSymbolCap(t *testing.T) {
	b, err := NewBuilder(
		func() config.RiskConfig {
			r := testRisk()
			r.BudgetUSDT = 10_000 // raw ratio 100x
			return r
		}(),
		config.MakerConfig{},
		config.FallbackTakerConfig{},
		testLogger(),
	)
	require.NoError(t, err)

	p, err := b.Build(testRequest())
	require.NoError(t, err)
	// Bracket clamps 100 to 50, then the BTC pattern clamps to 25.
	assert.InDelta(t, 25.0, p.Leverage, 1e-9)
}

func TestBuildLeverageConvictionCap(t *testing.T) {
	r := testRisk()
	r.BudgetUSDT = 10_000
	r.Conviction = config.ConvictionConfig{Multiplier: 1.25, CapPctOfExchange: 10}
	b, err := NewBuilder(r, config.MakerConfig{}, config.FallbackTakerConfig{}, testLogger())
	require.NoError(t, err)

	req := testRequest()
	req.Conviction = true
	p, err := b.Build(req)
	require.NoError(t, err)
	// Conviction cap = 125 * 10% = 12.5, the tightest bound here.
	assert.InDelta(t, 12.5, p.Leverage, 1e-9)
}

func TestBuildLeverageFloor(t *testing.T) {
	r := testRisk()
	r.BudgetUSDT = 50 // ratio 0.5x floors to 1
	b, err := NewBuilder(r, config.MakerConfig{}, config.FallbackTakerConfig{}, testLogger())
	require.NoError(t, err)

	p, err := b.Build(testRequest())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, p.Leverage, 1e-9)
}

func TestBuildLeverageCapBelowFloor(t *testing.T) {
	b := testBuilder(t)
	req := testRequest()
	req.Snapshot.Brackets = []domain.LeverageBracket{{NotionalCap: 50_000, MaxLeverage: 0.5}}

	p, err := b.Build(req)
	require.NoError(t, err)
	// The 1x floor must not override a stricter bracket cap.
	assert.InDelta(t, 0.5, p.Leverage, 1e-9)
}

func TestBuildTakerFallback(t *testing.T) {
	b := testBuilder(t)
	p, err := b.Build(testRequest())
	require.NoError(t, err)

	require.NotNil(t, p.Fallback)
	// Mid 100 shifted 10 bps up for a LONG, IOC.
	assert.InDelta(t, 100.1, p.Fallback.Price, 1e-9)
	assert.Equal(t, domain.TIFImmediateOrCancel, p.Fallback.TimeInForce)
	assert.InDelta(t, p.Quantity, p.Fallback.Quantity, 1e-9)

	req := testRequest()
	req.Side = domain.SideShort
	p, err = b.Build(req)
	require.NoError(t, err)
	assert.InDelta(t, 99.9, p.Fallback.Price, 1e-9)
}

func TestBuildFallbackDisabled(t *testing.T) {
	b, err := NewBuilder(testRisk(), config.MakerConfig{}, config.FallbackTakerConfig{Enable: false}, testLogger())
	require.NoError(t, err)

	p, err := b.Build(testRequest())
	require.NoError(t, err)
	assert.Nil(t, p.Fallback)
}

func TestBuildProtection(t *testing.T) {
	b := testBuilder(t)
	p, err := b.Build(testRequest())
	require.NoError(t, err)

	// Entry 100, stop distance 2: SL 98, TP 104, both reduce-only exits.
	assert.InDelta(t, 98.0, p.StopLoss.StopPrice, 1e-9)
	assert.InDelta(t, 104.0, p.TakeProfit.StopPrice, 1e-9)
	assert.Equal(t, domain.SideShort, p.StopLoss.Side)
	assert.Equal(t, domain.SideShort, p.TakeProfit.Side)
	assert.True(t, p.StopLoss.ReduceOnly)
	assert.True(t, p.TakeProfit.ReduceOnly)
	assert.Equal(t, domain.OrderTypeStopMarket, p.StopLoss.Type)
	assert.Equal(t, domain.OrderTypeTakeProfit, p.TakeProfit.Type)
}

func TestBuildProtectionShort(t *testing.T) {
	b := testBuilder(t)
	req := testRequest()
	req.Side = domain.SideShort

	p, err := b.Build(req)
	require.NoError(t, err)
	assert.InDelta(t, 102.0, p.StopLoss.StopPrice, 1e-9)
	assert.InDelta(t, 96.0, p.TakeProfit.StopPrice, 1e-9)
	assert.Equal(t, domain.SideLong, p.StopLoss.Side)
}

func TestBuildClientOrderIDs(t *testing.T) {
	b := testBuilder(t)
	p, err := b.Build(testRequest())
	require.NoError(t, err)

	require.Len(t, p.ClientOrderID, 20)
	assert.Equal(t, p.ClientOrderID+"-m1", p.MakerOrders[0].ClientOrderID)
	assert.Equal(t, p.ClientOrderID+"-t", p.Fallback.ClientOrderID)
	assert.Equal(t, p.ClientOrderID+"-sl", p.StopLoss.ClientOrderID)
	assert.Equal(t, p.ClientOrderID+"-tp", p.TakeProfit.ClientOrderID)
	assert.Equal(t, "BTCUSDT:default:1748779500", p.DecisionKey)

	// Same inputs reproduce the same plan identity; a retry does not.
	p2, err := b.Build(testRequest())
	require.NoError(t, err)
	assert.Equal(t, p.ClientOrderID, p2.ClientOrderID)

	req := testRequest()
	req.Attempt = 2
	p3, err := b.Build(req)
	require.NoError(t, err)
	assert.NotEqual(t, p.ClientOrderID, p3.ClientOrderID)
	assert.Equal(t, p.DecisionKey, p3.DecisionKey)
}

func TestBuildRejectsBadPattern(t *testing.T) {
	r := testRisk()
	r.PerSymbolCaps = []config.SymbolCap{{Pattern: "([", Cap: 5}}
	_, err := NewBuilder(r, config.MakerConfig{}, config.FallbackTakerConfig{}, testLogger())
	require.Error(t, err)
}

func TestBuildInvalidSnapshot(t *testing.T) {
	b := testBuilder(t)
	req := testRequest()
	req.Snapshot.BestBid = 0
	req.Snapshot.BestAsk = 0
	req.Snapshot.LastPrice = 0

	_, err := b.Build(req)
	require.ErrorIs(t, err, domain.ErrInvalidSnapshot)
}
