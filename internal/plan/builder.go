// Package plan turns a validated entry zone into a concrete, risk-bounded
// order plan: position size, leverage, maker ladder, taker fallback, and
// protective orders, all quantized to the instrument's trading rules.
package plan

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/pivox/tradingV3-sub003/internal/config"
	"github.com/pivox/tradingV3-sub003/internal/domain"
)

// Maker ladder split for valid zones: 40% at the lower bound, 40% at the
// midpoint, 20% at the upper bound.
var makerSplit = [3]float64{0.40, 0.40, 0.20}

// Request carries the per-decision inputs to the plan builder.
type Request struct {
	Side        domain.Side
	Snapshot    domain.MarketSnapshot
	Zone        domain.EntryZone
	Timeframe   string
	Equity      float64
	CandleClose time.Time
	Attempt     int
	Conviction  bool
}

// Builder computes order plans. Construct once at startup; safe for
// concurrent use.
type Builder struct {
	risk     config.RiskConfig
	maker    config.MakerConfig
	fallback config.FallbackTakerConfig
	caps     *capTable
	logger   *slog.Logger
}

// NewBuilder creates a Builder, compiling the per-symbol leverage cap
// patterns. It returns an error when a configured pattern does not compile.
func NewBuilder(risk config.RiskConfig, maker config.MakerConfig, fallback config.FallbackTakerConfig, logger *slog.Logger) (*Builder, error) {
	caps, err := newCapTable(risk.PerSymbolCaps, risk.ExchangeCap)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	return &Builder{
		risk:     risk,
		maker:    maker,
		fallback: fallback,
		caps:     caps,
		logger:   logger.With(slog.String("component", "plan_builder")),
	}, nil
}

// Build computes the full order plan for one decision. It returns
// domain.ErrZeroQuantity when sizing floors the quantity to zero, which the
// orchestrator surfaces as a SKIP.
func (b *Builder) Build(req Request) (*domain.OrderPlan, error) {
	snap := req.Snapshot
	mid := snap.Mid()
	if mid <= 0 {
		return nil, fmt.Errorf("plan: %w: non-positive mid price", domain.ErrInvalidSnapshot)
	}

	// Sizing: risk a fixed fraction of equity over the stop distance.
	notionalBudget := math.Min(b.risk.BudgetUSDT, req.Equity)
	riskUnit := b.risk.RiskPct * req.Equity

	stopDistance := b.risk.SlMultAtr * snap.ATR(req.Timeframe)
	if stopDistance <= 0 {
		// No volatility reading; fall back to 1% of mid.
		stopDistance = 0.01 * mid
	}

	lot := snap.Contract.LotSize
	quantity := floorToStep(riskUnit/stopDistance, lot)
	if quantity <= 0 {
		return nil, domain.ErrZeroQuantity
	}

	leverage := b.leverageFor(req, notionalBudget, riskUnit)

	entry := req.Zone.Midpoint()
	tick := snap.Contract.TickSize
	clientID := domain.ClientOrderID(snap.Symbol, req.Side, req.CandleClose, req.Timeframe, req.Attempt)

	p := &domain.OrderPlan{
		Symbol:        snap.Symbol,
		Side:          req.Side,
		Timeframe:     req.Timeframe,
		Quantity:      quantity,
		Leverage:      leverage,
		EntryPrice:    entry,
		ClientOrderID: clientID,
		DecisionKey:   domain.DecisionKey(snap.Symbol, req.Timeframe, req.CandleClose),
		Attempt:       req.Attempt,
	}

	p.MakerOrders = b.makerLadder(req, quantity, clientID)
	if b.fallback.Enable {
		p.Fallback = b.takerFallback(req, mid, tick, quantity, clientID)
	}
	p.StopLoss, p.TakeProfit = b.protection(req, entry, stopDistance, tick, quantity, clientID)

	p.Risk = domain.RiskMetrics{
		NotionalUSD:  quantity * entry,
		RiskUSD:      quantity * stopDistance,
		StopDistance: stopDistance,
		TPDistance:   2 * stopDistance,
	}

	b.logger.Debug("plan built",
		slog.String("symbol", snap.Symbol),
		slog.String("side", string(req.Side)),
		slog.Float64("quantity", quantity),
		slog.Float64("leverage", leverage),
		slog.Float64("entry", entry),
		slog.Int("maker_orders", len(p.MakerOrders)),
		slog.String("decision_key", p.DecisionKey),
	)
	return p, nil
}

// makerLadder splits the sized quantity across the zone bounds when the
// zone passed its quality gate, or places the full size at the midpoint
// otherwise. The last rung absorbs lot-rounding remainders so the ladder
// always sums to the sized quantity.
func (b *Builder) makerLadder(req Request, quantity float64, clientID string) []domain.OrderRequest {
	snap := req.Snapshot
	lot := snap.Contract.LotSize
	tif := domain.TIFGoodTillCancel
	if b.maker.MakerOnly {
		tif = domain.TIFPostOnly
	}

	mk := func(i int, price, qty float64) domain.OrderRequest {
		return domain.OrderRequest{
			Symbol:        snap.Symbol,
			Side:          req.Side,
			Type:          domain.OrderTypeLimit,
			Price:         quantize(price, snap.Contract.TickSize),
			Quantity:      qty,
			TimeInForce:   tif,
			ClientOrderID: fmt.Sprintf("%s-m%d", clientID, i),
		}
	}

	if !req.Zone.Valid() {
		return []domain.OrderRequest{mk(1, req.Zone.Midpoint(), quantity)}
	}

	prices := [3]float64{req.Zone.EntryMin, req.Zone.Midpoint(), req.Zone.EntryMax}
	q1 := floorToStep(makerSplit[0]*quantity, lot)
	q2 := floorToStep(makerSplit[1]*quantity, lot)
	q3 := quantity - q1 - q2

	var orders []domain.OrderRequest
	for i, qty := range [3]float64{q1, q2, q3} {
		if qty <= 0 {
			continue
		}
		orders = append(orders, mk(i+1, prices[i], qty))
	}
	return orders
}

// takerFallback builds the single IOC order used when the maker leg times
// out: mid shifted by the configured slippage bound in the adverse
// direction.
func (b *Builder) takerFallback(req Request, mid, tick, quantity float64, clientID string) *domain.OrderRequest {
	slip := b.fallback.MaxSlipBps / 10_000
	price := mid * (1 + slip)
	if req.Side == domain.SideShort {
		price = mid * (1 - slip)
	}
	return &domain.OrderRequest{
		Symbol:        req.Snapshot.Symbol,
		Side:          req.Side,
		Type:          domain.OrderTypeLimit,
		Price:         quantize(price, tick),
		Quantity:      quantity,
		TimeInForce:   domain.TIFImmediateOrCancel,
		ClientOrderID: clientID + "-t",
	}
}

// protection builds the unconditional stop-loss / take-profit pair around
// the reference entry: stop at one stop-distance against the position,
// target at twice the distance in favour.
func (b *Builder) protection(req Request, entry, stopDistance, tick, quantity float64, clientID string) (sl, tp domain.OrderRequest) {
	slPrice := entry - stopDistance
	tpPrice := entry + 2*stopDistance
	if req.Side == domain.SideShort {
		slPrice = entry + stopDistance
		tpPrice = entry - 2*stopDistance
	}

	exit := req.Side.Opposite()
	sl = domain.OrderRequest{
		Symbol:        req.Snapshot.Symbol,
		Side:          exit,
		Type:          domain.OrderTypeStopMarket,
		StopPrice:     quantize(slPrice, tick),
		Quantity:      quantity,
		TimeInForce:   domain.TIFGoodTillCancel,
		ReduceOnly:    true,
		ClientOrderID: clientID + "-sl",
	}
	tp = domain.OrderRequest{
		Symbol:        req.Snapshot.Symbol,
		Side:          exit,
		Type:          domain.OrderTypeTakeProfit,
		StopPrice:     quantize(tpPrice, tick),
		Quantity:      quantity,
		TimeInForce:   domain.TIFGoodTillCancel,
		ReduceOnly:    true,
		ClientOrderID: clientID + "-tp",
	}
	return sl, tp
}

// floorToStep floor-quantizes a value to a step size. A zero step leaves
// the value untouched.
func floorToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Floor(v/step) * step
}

// quantize rounds a price to the nearest tick.
func quantize(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}
