package timeframe

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pivox/tradingV3-sub003/internal/config"
	"github.com/pivox/tradingV3-sub003/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSelector() *Selector {
	return NewSelector(
		config.TimeframeConfig{
			AtrPctHi:            0.004,
			AtrPctLo:            0.0015,
			SpreadWidenBps:      8,
			RequireMTFAlignment: true,
		},
		config.ZoneConfig{
			SpreadBpsMax: 5,
			DepthMinUSD:  20_000,
		},
		testLogger(),
	)
}

// baseSnapshot satisfies every upshift condition: high volatility, tight
// spread, deep book.
func baseSnapshot() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Symbol:    "BTCUSDT",
		LastPrice: 100,
		ATR1m:     0.5, // atrPct = 0.005 >= 0.004
		SpreadBps: 3,
		DepthUSD:  50_000,
		UpdatedAt: time.Now(),
	}
}

func agreeing() Alignment {
	return Alignment{"15m": domain.SideLong, "1h": domain.SideLong}
}

func TestSelectUpshift(t *testing.T) {
	s := testSelector()
	tf := s.Select(baseSnapshot(), domain.SideLong, agreeing())
	assert.Equal(t, domain.TimeframeFast, tf)
}

func TestSelectDefaultOnLowVolatility(t *testing.T) {
	s := testSelector()
	snap := baseSnapshot()
	snap.ATR1m = 0.3 // atrPct = 0.003, between lo and hi: no upshift
	assert.Equal(t, domain.TimeframeDefault, s.Select(snap, domain.SideLong, agreeing()))

	snap.ATR1m = 0.1 // atrPct = 0.001 < lo: explicit downshift
	assert.Equal(t, domain.TimeframeDefault, s.Select(snap, domain.SideLong, agreeing()))
}

func TestSelectDownshiftWinsOverUpshift(t *testing.T) {
	s := testSelector()
	snap := baseSnapshot()
	snap.SpreadBps = 9 // above SpreadWidenBps: downshift regardless of volatility
	assert.Equal(t, domain.TimeframeDefault, s.Select(snap, domain.SideLong, agreeing()))
}

func TestSelectRequiresAlignment(t *testing.T) {
	s := testSelector()
	snap := baseSnapshot()

	disagreeing := Alignment{"15m": domain.SideLong, "1h": domain.SideShort}
	assert.Equal(t, domain.TimeframeDefault, s.Select(snap, domain.SideLong, disagreeing))

	// Empty alignment never agrees.
	assert.Equal(t, domain.TimeframeDefault, s.Select(snap, domain.SideLong, Alignment{}))
	assert.Equal(t, domain.TimeframeDefault, s.Select(snap, domain.SideLong, nil))
}

func TestSelectAlignmentOptional(t *testing.T) {
	s := NewSelector(
		config.TimeframeConfig{AtrPctHi: 0.004, AtrPctLo: 0.0015, SpreadWidenBps: 8},
		config.ZoneConfig{SpreadBpsMax: 5, DepthMinUSD: 20_000},
		testLogger(),
	)
	assert.Equal(t, domain.TimeframeFast, s.Select(baseSnapshot(), domain.SideLong, nil))
}

func TestSelectThinDepthBlocksUpshift(t *testing.T) {
	s := testSelector()
	snap := baseSnapshot()
	snap.DepthUSD = 19_999
	assert.Equal(t, domain.TimeframeDefault, s.Select(snap, domain.SideLong, agreeing()))
}

func TestSelectZeroPrice(t *testing.T) {
	s := testSelector()
	snap := baseSnapshot()
	snap.LastPrice = 0
	assert.Equal(t, domain.TimeframeDefault, s.Select(snap, domain.SideLong, agreeing()))
}

func TestSelectBoundaryAtThreshold(t *testing.T) {
	s := testSelector()
	snap := baseSnapshot()
	snap.ATR1m = 0.4 // atrPct exactly at hi: upshift
	snap.SpreadBps = 5
	snap.DepthUSD = 20_000
	assert.Equal(t, domain.TimeframeFast, s.Select(snap, domain.SideLong, agreeing()))
}

func TestAlignmentAgrees(t *testing.T) {
	a := Alignment{"15m": domain.SideShort, "1h": domain.SideShort}
	assert.True(t, a.Agrees(domain.SideShort))
	assert.False(t, a.Agrees(domain.SideLong))
	assert.False(t, Alignment{}.Agrees(domain.SideLong))
}
